package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SagaTransitions 统计 saga 状态迁移，用于观察补偿比例。
	SagaTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "saga",
		Name:      "transitions_total",
		Help:      "Saga state transitions.",
	}, []string{"from", "to"})

	// CASConflicts 库存乐观锁冲突次数。持续升高说明热点商品需要走秒杀通道。
	CASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "inventory",
		Name:      "cas_conflicts_total",
		Help:      "Optimistic lock conflicts on inventory records.",
	})

	// ReservationOutcomes 预占结果分布（reserved/insufficient/conflict_exhausted/...）。
	ReservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "inventory",
		Name:      "reservation_outcomes_total",
		Help:      "Outcomes of stock reservation attempts.",
	}, []string{"outcome"})

	// FlashSaleDecrements 秒杀扣减结果分布（ok/sold_out/user_limit/window_closed）。
	FlashSaleDecrements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "flashsale",
		Name:      "decrements_total",
		Help:      "Outcomes of flash-sale decrement attempts.",
	}, []string{"result"})

	// StuckSagasSwept 被兜底任务强制处理的 saga 数量。正常应该接近 0。
	StuckSagasSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "saga",
		Name:      "stuck_swept_total",
		Help:      "Sagas resolved by the reconciliation sweep.",
	})

	// LowStock 触发补货水位的次数。
	LowStock = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "inventory",
		Name:      "low_stock_total",
		Help:      "Times a product dropped to its reorder point.",
	}, []string{"product_id"})
)
