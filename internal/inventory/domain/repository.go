package domain

import "context"

// Repository 库存台账的持久化接口，由基础设施层实现。
type Repository interface {
	Get(ctx context.Context, productID string) (*Record, error)

	// UpdateWithVersion 以 expectedVersion 为条件写回记录，
	// 成功时把记录版本推进到 expectedVersion+1；
	// 版本不匹配返回 ErrConflict，绝不覆盖。
	UpdateWithVersion(ctx context.Context, record *Record, expectedVersion int64) error
}

// ReservationStore 预占单存储。(orderId, productId) 唯一。
type ReservationStore interface {
	Get(ctx context.Context, orderID, productID string) (*Reservation, error)

	// Create 幂等创建：记录已存在时返回 (false, nil)。
	Create(ctx context.Context, res *Reservation) (created bool, err error)

	// TransitionStatus 仅当当前状态为 from 时迁移到 to，
	// 返回是否真的发生了迁移。这是 confirm/release 幂等的关键。
	TransitionStatus(ctx context.Context, orderID, productID string, from, to ReservationStatus) (bool, error)

	// FindByOrder 列出订单的全部预占单，兜底任务用。
	FindByOrder(ctx context.Context, orderID string) ([]*Reservation, error)
}
