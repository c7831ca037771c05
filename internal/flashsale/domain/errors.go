package domain

import "errors"

var (
	// ErrNotFound 秒杀场次不存在。
	ErrNotFound = errors.New("flash sale not found")

	// ErrSoldOut 已售罄。对本次抢购是终态错误，禁止重试。
	ErrSoldOut = errors.New("flash sale sold out")

	// ErrUserLimitExceeded 超过单用户限购数量。
	ErrUserLimitExceeded = errors.New("per-user purchase limit exceeded")

	// ErrWindowClosed 不在活动时间窗口内（未开始、已结束或已取消）。
	ErrWindowClosed = errors.New("flash sale window closed")

	// ErrInvalidTransition 非法的场次状态迁移。
	ErrInvalidTransition = errors.New("invalid flash sale state transition")
)
