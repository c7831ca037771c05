package domain

import (
	"context"
	"time"
)

// Repository 秒杀场次的关系库存储（系统记录）。
type Repository interface {
	Get(ctx context.Context, saleID string) (*FlashSale, error)

	// UpdateCounters 对账任务回写计数器快照。
	UpdateCounters(ctx context.Context, saleID string, sold, reserved int64) error

	// MarkSoldOut 把 ACTIVE 场次置为 SOLD_OUT，非 ACTIVE 时是无害的空操作。
	MarkSoldOut(ctx context.Context, saleID string) error

	// ListOpen 列出所有还需要对账的场次（未结束且未取消）。
	ListOpen(ctx context.Context) ([]*FlashSale, error)
}

// CounterStore 秒杀计数器的快路径存储。
// TryDecrement 必须是单个不可分割的操作：窗口、总量、限购三项检查
// 与扣减在其它调用方看来之间不存在中间状态——这是极端争用下
// 不超卖的机制，乐观锁重试在这种场景会被冲垮。
type CounterStore interface {
	// Seed 用系统记录值初始化冷计数器，已初始化时不覆盖。
	Seed(ctx context.Context, sale *FlashSale) error

	// TryDecrement 以 orderID 为幂等键执行检查并扣减，
	// 返回本次扣减后的剩余量。失败返回 ErrSoldOut /
	// ErrUserLimitExceeded / ErrWindowClosed。
	TryDecrement(ctx context.Context, sale *FlashSale, orderID, userID string, qty int64, now time.Time) (remaining int64, err error)

	// ConfirmDecrement 把 orderID 对应的预占转为已售。幂等。
	ConfirmDecrement(ctx context.Context, saleID, orderID string) error

	// RollbackDecrement 释放 orderID 对应的预占并退还用户额度。幂等。
	RollbackDecrement(ctx context.Context, saleID, orderID, userID string) error

	// Snapshot 读取计数器当前的 sold/reserved，对账用。
	Snapshot(ctx context.Context, saleID string) (sold, reserved int64, err error)
}
