package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaTransitionTable(t *testing.T) {
	allowed := []struct{ from, to SagaStatus }{
		{SagaStarted, SagaInventoryReserved},
		{SagaStarted, SagaCompensating},
		{SagaInventoryReserved, SagaPaymentProcessing},
		{SagaInventoryReserved, SagaCompensating},
		{SagaPaymentProcessing, SagaPaymentCompleted},
		{SagaPaymentProcessing, SagaCompensating},
		{SagaPaymentCompleted, SagaConfirmed},
		{SagaPaymentCompleted, SagaCompensating},
		{SagaCompensating, SagaCompensated},
		{SagaCompensating, SagaFailed},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to SagaStatus }{
		{SagaStarted, SagaPaymentProcessing}, // 不能跳过预占
		{SagaStarted, SagaConfirmed},
		{SagaInventoryReserved, SagaStarted}, // 不能倒退
		{SagaConfirmed, SagaCompensating},    // 终态不能出去
		{SagaCompensated, SagaStarted},
		{SagaFailed, SagaCompensating},
		{SagaCompensating, SagaConfirmed}, // 补偿不能变成功
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestReachedStepReplayGuard(t *testing.T) {
	assert.False(t, SagaStarted.ReachedStep(SagaInventoryReserved))
	assert.True(t, SagaInventoryReserved.ReachedStep(SagaInventoryReserved))
	assert.True(t, SagaPaymentProcessing.ReachedStep(SagaInventoryReserved))
	assert.True(t, SagaConfirmed.ReachedStep(SagaPaymentCompleted))

	// 补偿路径视为越过所有成功步骤
	assert.True(t, SagaCompensating.ReachedStep(SagaInventoryReserved))
	assert.True(t, SagaFailed.ReachedStep(SagaConfirmed))
}

func TestSagaTerminal(t *testing.T) {
	for _, s := range []SagaStatus{SagaConfirmed, SagaCompensated, SagaFailed} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []SagaStatus{SagaStarted, SagaInventoryReserved, SagaPaymentProcessing, SagaPaymentCompleted, SagaCompensating} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestAdvanceSagaRejectsInvalidTransition(t *testing.T) {
	order := NewOrder("s1", "ORD1", "u1", "", []*Item{{ProductID: "p1", UnitPrice: 1, Qty: 1}})
	require.NoError(t, order.AdvanceSaga(SagaInventoryReserved))
	assert.ErrorIs(t, order.AdvanceSaga(SagaConfirmed), ErrInvalidTransition)
}

func TestNewOrderComputesTotal(t *testing.T) {
	order := NewOrder("s1", "ORD1", "u1", "addr", []*Item{
		{ProductID: "a", UnitPrice: 9.5, Qty: 2},
		{ProductID: "b", UnitPrice: 1, Qty: 3},
	})
	assert.Equal(t, 22.0, order.TotalAmount)
	assert.Equal(t, OrderPending, order.Status)
	assert.Equal(t, SagaStarted, order.SagaStatus)
	for _, item := range order.Items {
		assert.Equal(t, LinePending, item.Reservation)
	}
}

func TestOrderShipmentLifecycle(t *testing.T) {
	order := NewOrder("s1", "ORD1", "u1", "", []*Item{{ProductID: "a", UnitPrice: 1, Qty: 1}})

	assert.ErrorIs(t, order.MarkShipped("TRK1"), ErrInvalidTransition)

	order.Status = OrderConfirmed
	require.NoError(t, order.MarkShipped("TRK1"))
	assert.Equal(t, "TRK1", order.TrackingNo)
	require.NoError(t, order.MarkDelivered())
	assert.Equal(t, OrderDelivered, order.Status)
}
