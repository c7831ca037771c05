package domain

import "errors"

var (
	// ErrNotFound 商品在库存台账中不存在。
	ErrNotFound = errors.New("inventory record not found")

	// ErrInsufficientStock 可用库存不足。对本次预占是终态错误，
	// 必须作为失败结果上抛给 saga，禁止重试。
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConflict 乐观锁版本冲突，调用方拿新版本重试。
	ErrConflict = errors.New("inventory record version conflict")

	// ErrNotReserved 确认的数量超过了该订单实际预占的数量。
	ErrNotReserved = errors.New("reservation does not exist for this order")

	// ErrInvalidQuantity 数量必须为正。
	ErrInvalidQuantity = errors.New("quantity must be positive")
)
