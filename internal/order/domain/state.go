package domain

// OrderStatus 用户可见的订单状态。
// PENDING → CONFIRMED → SHIPPED → DELIVERED，
// 或 PENDING → CANCELLED / FAILED。
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderFailed
}

// SagaStatus saga 的内部推进状态。编排器是它唯一的写入方。
type SagaStatus string

const (
	SagaStarted           SagaStatus = "STARTED"
	SagaInventoryReserved SagaStatus = "INVENTORY_RESERVED"
	SagaPaymentProcessing SagaStatus = "PAYMENT_PROCESSING"
	SagaPaymentCompleted  SagaStatus = "PAYMENT_COMPLETED"
	SagaConfirmed         SagaStatus = "CONFIRMED"
	SagaCompensating      SagaStatus = "COMPENSATING"
	SagaCompensated       SagaStatus = "COMPENSATED"
	SagaFailed            SagaStatus = "FAILED"
)

func (s SagaStatus) Terminal() bool {
	return s == SagaConfirmed || s == SagaCompensated || s == SagaFailed
}

// rank 是成功路径上的推进序号，重放守卫用它判断
// "来晚了的事件"：目标步 <= 当前步 ⇒ 空操作。
// 补偿态不在序里，单独处理。
var sagaRank = map[SagaStatus]int{
	SagaStarted:           1,
	SagaInventoryReserved: 2,
	SagaPaymentProcessing: 3,
	SagaPaymentCompleted:  4,
	SagaConfirmed:         5,
}

// ReachedStep 判断 saga 是否已经走到（或越过）某个成功路径步骤。
// 进入补偿后视为越过了所有成功步骤——迟到的成功事件一律不再推进。
func (s SagaStatus) ReachedStep(step SagaStatus) bool {
	if s == SagaCompensating || s == SagaCompensated || s == SagaFailed {
		return true
	}
	return sagaRank[s] >= sagaRank[step]
}

// sagaTransitions 唯一权威的迁移表。
var sagaTransitions = map[SagaStatus][]SagaStatus{
	SagaStarted:           {SagaInventoryReserved, SagaCompensating},
	SagaInventoryReserved: {SagaPaymentProcessing, SagaCompensating},
	SagaPaymentProcessing: {SagaPaymentCompleted, SagaCompensating},
	SagaPaymentCompleted:  {SagaConfirmed, SagaCompensating},
	SagaCompensating:      {SagaCompensated, SagaFailed},
}

// CanTransitionTo 检查迁移是否合法。
func (s SagaStatus) CanTransitionTo(to SagaStatus) bool {
	for _, next := range sagaTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// LineStatus 订单行的预占状态，随库存侧的结果事件推进。
type LineStatus string

const (
	LinePending   LineStatus = "PENDING"
	LineReserved  LineStatus = "RESERVED"
	LineFailed    LineStatus = "FAILED"
	LineConfirmed LineStatus = "CONFIRMED"
	LineReleased  LineStatus = "RELEASED"
)
