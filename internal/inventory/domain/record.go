package domain

import "time"

// Record 是一条商品库存台账。
// 不变式：0 <= Reserved <= Quantity。所有变更必须走
// Reserve/ConfirmSale/Release，并以读到的 Version 做条件写回。
type Record struct {
	ProductID    string
	SKU          string
	Quantity     int64 // 在库数量
	Reserved     int64 // 已被订单预占、尚未成交的数量
	ReorderPoint int64 // 补货水位
	Version      int64 // 单调递增，乐观锁
}

// Available 可售数量。
func (r *Record) Available() int64 {
	return r.Quantity - r.Reserved
}

// Reserve 预占 qty 件。可用不足时返回 ErrInsufficientStock，
// 此时记录不会被修改。
func (r *Record) Reserve(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if r.Available() < qty {
		return ErrInsufficientStock
	}
	r.Reserved += qty
	return nil
}

// ConfirmSale 把 qty 件预占转为正式销售：预占和在库同时扣减。
func (r *Record) ConfirmSale(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if r.Reserved < qty {
		return ErrNotReserved
	}
	r.Reserved -= qty
	r.Quantity -= qty
	return nil
}

// Release 归还 qty 件预占。多退的部分会被钳位到 0，
// 行级幂等由 Reservation 状态保证，这里只兜底不变式。
func (r *Record) Release(qty int64) {
	if qty <= 0 {
		return
	}
	r.Reserved -= qty
	if r.Reserved < 0 {
		r.Reserved = 0
	}
}

// LowStock 判断是否触达补货水位。
func (r *Record) LowStock() bool {
	return r.Available() <= r.ReorderPoint
}

// ReservationStatus 预占单状态。RESERVED 是唯一的非终态。
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// Reservation 是 (orderId, productId) 维度的预占单，
// 它的状态迁移让 confirm/release 在命令重复投递时幂等。
type Reservation struct {
	OrderID   string
	ProductID string
	Qty       int64
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
