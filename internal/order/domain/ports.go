package domain

import (
	"context"
	"time"
)

// Repository 订单持久化。编排器按 sagaId 串行处理一个订单的事件，
// 所以 Update 不需要版本条件——并发写订单行的场景不存在。
type Repository interface {
	// Create 持久化新订单。sagaId 或 orderNo 已存在时返回 (false, nil)。
	Create(ctx context.Context, order *Order) (bool, error)

	GetBySagaID(ctx context.Context, sagaID string) (*Order, error)
	GetByOrderNo(ctx context.Context, orderNo string) (*Order, error)

	// Update 回写订单和订单行的当前状态。
	Update(ctx context.Context, order *Order) error

	// FindStuck 找出卡在非终态 saga 且早于 olderThan 的订单，兜底任务用。
	FindStuck(ctx context.Context, olderThan time.Time) ([]*Order, error)
}

// ChargeResult 支付网关的一次扣款结论。
type ChargeResult struct {
	Approved      bool
	TransactionID string
	Reason        string
}

// PaymentGateway 支付网关。Charge 用 sagaId 作幂等令牌，
// 同一 sagaId 重复扣款必须返回首次的结论。
type PaymentGateway interface {
	Charge(ctx context.Context, sagaID string, amount float64) (*ChargeResult, error)

	Refund(ctx context.Context, transactionID string, amount float64) error

	// QueryCharge 按幂等令牌查询已有扣款，没有记录时返回 (nil, nil)。
	// 兜底任务用它判断 PAYMENT_PROCESSING 卡单的真实结果。
	QueryCharge(ctx context.Context, sagaID string) (*ChargeResult, error)
}

// StockCommander 向库存侧下发命令。按订单行路由：普通行走库存台账，
// 带 flashSaleId 的行走秒杀计数器。发布即返回，结果走事件回来。
type StockCommander interface {
	Reserve(ctx context.Context, order *Order, item *Item) error
	Confirm(ctx context.Context, order *Order, item *Item) error
	Release(ctx context.Context, order *Order, item *Item) error
}

// EventPublisher 对外发布订单里程碑事件（通知侧、推送网关消费）。
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, eventType string, order *Order) error
}
