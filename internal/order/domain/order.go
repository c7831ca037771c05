package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Item 下单时的商品行快照，价格和数量在创建后不可变。
// Reservation 记录这一行在库存侧的预占进度。
type Item struct {
	ProductID   string
	SKU         string
	UnitPrice   float64
	Qty         int64
	FlashSaleID string
	Reservation LineStatus
}

// Order 订单聚合，同时承载 saga 状态。sagaId 创建时生成且唯一，
// 是这笔订单所有 saga 消息的幂等键。只有编排器允许修改它。
type Order struct {
	OrderNo         string
	UserID          string
	SagaID          string
	Items           []*Item
	TotalAmount     float64
	PaymentRef      string
	ShippingAddress string
	TrackingNo      string
	Status          OrderStatus
	SagaStatus      SagaStatus
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder 创建 PENDING/STARTED 的新订单并计算总额。
func NewOrder(sagaID, orderNo, userID, shippingAddress string, items []*Item) *Order {
	o := &Order{
		OrderNo:         orderNo,
		UserID:          userID,
		SagaID:          sagaID,
		Items:           items,
		ShippingAddress: shippingAddress,
		Status:          OrderPending,
		SagaStatus:      SagaStarted,
		CreatedAt:       time.Now(),
	}
	for _, item := range items {
		item.Reservation = LinePending
		o.TotalAmount += item.UnitPrice * float64(item.Qty)
	}
	return o
}

// AdvanceSaga 执行一次 saga 状态迁移，非法迁移报错。
func (o *Order) AdvanceSaga(to SagaStatus) error {
	if !o.SagaStatus.CanTransitionTo(to) {
		return errors.Wrapf(ErrInvalidTransition, "saga %s: %s -> %s", o.SagaID, o.SagaStatus, to)
	}
	o.SagaStatus = to
	return nil
}

// Line 按商品找订单行。
func (o *Order) Line(productID string) *Item {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item
		}
	}
	return nil
}

// AllLinesReserved 所有行都已预占成功。
func (o *Order) AllLinesReserved() bool {
	for _, item := range o.Items {
		if item.Reservation != LineReserved {
			return false
		}
	}
	return true
}

// ReservedLines 当前处于已预占状态的行，补偿时逐行释放。
func (o *Order) ReservedLines() []*Item {
	var out []*Item
	for _, item := range o.Items {
		if item.Reservation == LineReserved {
			out = append(out, item)
		}
	}
	return out
}

// MarkShipped 已确认的订单才能发货。
func (o *Order) MarkShipped(trackingNo string) error {
	if o.Status != OrderConfirmed {
		return errors.Wrapf(ErrInvalidTransition, "order %s: %s -> SHIPPED", o.OrderNo, o.Status)
	}
	o.Status = OrderShipped
	o.TrackingNo = trackingNo
	return nil
}

// MarkDelivered 已发货的订单才能签收。
func (o *Order) MarkDelivered() error {
	if o.Status != OrderShipped {
		return errors.Wrapf(ErrInvalidTransition, "order %s: %s -> DELIVERED", o.OrderNo, o.Status)
	}
	o.Status = OrderDelivered
	return nil
}
