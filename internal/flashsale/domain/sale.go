package domain

import "time"

// State 秒杀场次状态。
// SCHEDULED → ACTIVE → (SOLD_OUT | ENDED)，任意非终态可以被取消。
// 时间驱动的迁移（开始/结束）在读取时计算，不依赖定时器落库。
type State string

const (
	StateScheduled State = "SCHEDULED"
	StateActive    State = "ACTIVE"
	StateSoldOut   State = "SOLD_OUT"
	StateEnded     State = "ENDED"
	StateCancelled State = "CANCELLED"
)

func (s State) Terminal() bool {
	return s == StateSoldOut || s == StateEnded || s == StateCancelled
}

// FlashSale 秒杀场次。Sold/Reserved 是关系库里的系统记录值，
// 高并发扣减发生在计数器存储（Redis）里，由对账任务定期回写。
// 不变式：Sold + Reserved <= Total。
type FlashSale struct {
	ID         string
	ProductID  string
	Total      int64
	Sold       int64
	Reserved   int64
	PerUserCap int64
	StartAt    time.Time
	EndAt      time.Time
	State      State
}

// EffectiveState 计算当前时刻的有效状态。
// 已落库的终态优先；否则按时间窗口推导。
func (s *FlashSale) EffectiveState(now time.Time) State {
	if s.State.Terminal() {
		return s.State
	}
	if now.Before(s.StartAt) {
		return StateScheduled
	}
	if !now.Before(s.EndAt) {
		return StateEnded
	}
	return StateActive
}

// Remaining 剩余可抢数量（按系统记录值）。
func (s *FlashSale) Remaining() int64 {
	return s.Total - s.Sold - s.Reserved
}

// Cancel 取消场次，终态场次不可取消。
func (s *FlashSale) Cancel() error {
	if s.State.Terminal() {
		return ErrInvalidTransition
	}
	s.State = StateCancelled
	return nil
}
