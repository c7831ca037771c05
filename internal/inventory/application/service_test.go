package application

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"mall/internal/inventory/domain"
	"mall/internal/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type memRecords struct {
	mu   sync.Mutex
	recs map[string]domain.Record
}

func newMemRecords(recs ...domain.Record) *memRecords {
	m := &memRecords{recs: make(map[string]domain.Record)}
	for _, r := range recs {
		m.recs[r.ProductID] = r
	}
	return m
}

func (m *memRecords) Get(_ context.Context, productID string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := rec
	return &copied, nil
}

func (m *memRecords) UpdateWithVersion(_ context.Context, record *domain.Record, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.recs[record.ProductID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrConflict
	}
	updated := *record
	updated.Version = expectedVersion + 1
	m.recs[record.ProductID] = updated
	return nil
}

type memReservations struct {
	mu   sync.Mutex
	rows map[string]domain.Reservation
}

func newMemReservations() *memReservations {
	return &memReservations{rows: make(map[string]domain.Reservation)}
}

func resKey(orderID, productID string) string { return orderID + "|" + productID }

func (m *memReservations) Get(_ context.Context, orderID, productID string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[resKey(orderID, productID)]
	if !ok {
		return nil, nil
	}
	copied := row
	return &copied, nil
}

func (m *memReservations) Create(_ context.Context, res *domain.Reservation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resKey(res.OrderID, res.ProductID)
	if _, ok := m.rows[key]; ok {
		return false, nil
	}
	m.rows[key] = *res
	return true, nil
}

func (m *memReservations) TransitionStatus(_ context.Context, orderID, productID string, from, to domain.ReservationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resKey(orderID, productID)
	row, ok := m.rows[key]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	m.rows[key] = row
	return true, nil
}

func (m *memReservations) FindByOrder(_ context.Context, orderID string) ([]*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Reservation
	for _, row := range m.rows {
		if row.OrderID == orderID {
			copied := row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func newTestLedger(records *memRecords) (*Ledger, *memReservations) {
	reservations := newMemReservations()
	return NewLedger(records, reservations, otel.Tracer("test")), reservations
}

func TestReserveHappyPath(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	ledger, _ := newTestLedger(records)

	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 3))

	rec, err := records.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Reserved)
	assert.Equal(t, int64(7), rec.Available())
}

func TestReserveInsufficientStock(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 2})
	ledger, _ := newTestLedger(records)

	err := ledger.Reserve(context.Background(), "o1", "p1", 5)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(0), rec.Reserved, "failed reserve must not mutate the record")
}

func TestReserveUnknownProduct(t *testing.T) {
	ledger, _ := newTestLedger(newMemRecords())
	err := ledger.Reserve(context.Background(), "o1", "nope", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReserveDuplicateCommandIsNoop(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	ledger, _ := newTestLedger(records)

	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 3))
	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 3))

	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(3), rec.Reserved, "redelivered command must not reserve twice")
}

// 核心性质：available=N 时无论并发多高，成功预占的总量不超过 N。
func TestReserveOversellFreedom(t *testing.T) {
	const available = 25
	const attempts = 200

	records := newMemRecords(domain.Record{ProductID: "hot", Quantity: available})
	ledger, _ := newTestLedger(records)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 失败可能是库存不足，也可能是重试预算耗尽的冲突，都是合法结果
			if err := ledger.Reserve(context.Background(), fmt.Sprintf("order-%d", i), "hot", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	rec, _ := records.Get(context.Background(), "hot")
	assert.LessOrEqual(t, rec.Reserved, int64(available))
	assert.Equal(t, int64(succeeded), rec.Reserved)
	assert.GreaterOrEqual(t, rec.Available(), int64(0))
}

func TestReleaseIsIdempotent(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	ledger, _ := newTestLedger(records)

	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 4))
	require.NoError(t, ledger.Release(context.Background(), "o1", "p1", 4))
	require.NoError(t, ledger.Release(context.Background(), "o1", "p1", 4))

	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(0), rec.Reserved)
	assert.Equal(t, int64(10), rec.Quantity)
}

func TestReleaseWithoutReservationIsNoop(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	ledger, _ := newTestLedger(records)

	require.NoError(t, ledger.Release(context.Background(), "ghost", "p1", 4))

	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(0), rec.Reserved)
}

func TestConfirmTurnsReservationIntoSale(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	ledger, reservations := newTestLedger(records)

	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 4))
	require.NoError(t, ledger.Confirm(context.Background(), "o1", "p1", 4))
	// 重复确认不能二次扣减
	require.NoError(t, ledger.Confirm(context.Background(), "o1", "p1", 4))

	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(6), rec.Quantity)
	assert.Equal(t, int64(0), rec.Reserved)

	res, err := reservations.Get(context.Background(), "o1", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, res.Status)
}

func TestConfirmWithoutReservationFails(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	ledger, _ := newTestLedger(records)

	err := ledger.Confirm(context.Background(), "ghost", "p1", 1)
	assert.ErrorIs(t, err, domain.ErrNotReserved)
}

func TestConfirmAfterReleaseFails(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	ledger, _ := newTestLedger(records)

	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 2))
	require.NoError(t, ledger.Release(context.Background(), "o1", "p1", 2))

	err := ledger.Confirm(context.Background(), "o1", "p1", 2)
	assert.ErrorIs(t, err, domain.ErrNotReserved)
}

// conflictingRecords 在前 n 次写回时强制返回版本冲突，验证 CAS 重试。
type conflictingRecords struct {
	*memRecords
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingRecords) UpdateWithVersion(ctx context.Context, record *domain.Record, expectedVersion int64) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return domain.ErrConflict
	}
	c.mu.Unlock()
	return c.memRecords.UpdateWithVersion(ctx, record, expectedVersion)
}

func TestReserveRetriesOnConflict(t *testing.T) {
	records := &conflictingRecords{
		memRecords: newMemRecords(domain.Record{ProductID: "p1", Quantity: 10}),
		conflicts:  2,
	}
	ledger := NewLedger(records, newMemReservations(), otel.Tracer("test"))

	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 1))

	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(1), rec.Reserved)
}

func TestReserveSurfacesExhaustedConflicts(t *testing.T) {
	records := &conflictingRecords{
		memRecords: newMemRecords(domain.Record{ProductID: "p1", Quantity: 10}),
		conflicts:  10,
	}
	ledger := NewLedger(records, newMemReservations(), otel.Tracer("test"))

	err := ledger.Reserve(context.Background(), "o1", "p1", 1)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// lostRaceReservations 让第一次 Create 表现成 "别人抢先落了预占单"。
type lostRaceReservations struct {
	*memReservations
	mu   sync.Mutex
	lost bool
}

func (l *lostRaceReservations) Create(ctx context.Context, res *domain.Reservation) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.lost {
		l.lost = true
		return false, nil
	}
	return l.memReservations.Create(ctx, res)
}

func TestReserveLostRaceRollsBackQuantity(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 10})
	reservations := &lostRaceReservations{memReservations: newMemReservations()}
	ledger := NewLedger(records, reservations, otel.Tracer("test"))

	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 3))

	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(0), rec.Reserved, "loser of the reservation race must return its deduction")
}

// rollbackConflictRecords 放行第一次写回（预占扣减），之后全部
// 返回版本冲突，模拟回退一直撞车直到重试耗尽。
type rollbackConflictRecords struct {
	*memRecords
	mu     sync.Mutex
	writes int
}

func (r *rollbackConflictRecords) UpdateWithVersion(ctx context.Context, record *domain.Record, expectedVersion int64) error {
	r.mu.Lock()
	r.writes++
	n := r.writes
	r.mu.Unlock()
	if n > 1 {
		return domain.ErrConflict
	}
	return r.memRecords.UpdateWithVersion(ctx, record, expectedVersion)
}

func TestReserveLostRaceRollbackFailureIsCounted(t *testing.T) {
	records := &rollbackConflictRecords{
		memRecords: newMemRecords(domain.Record{ProductID: "p1", Quantity: 10}),
	}
	reservations := &lostRaceReservations{memReservations: newMemReservations()}
	ledger := NewLedger(records, reservations, otel.Tracer("test"))

	before := testutil.ToFloat64(metrics.ReservationOutcomes.WithLabelValues("rollback_failed"))
	// 预占对调用方仍然是成功的——赢家的预占单在库
	require.NoError(t, ledger.Reserve(context.Background(), "o1", "p1", 3))
	after := testutil.ToFloat64(metrics.ReservationOutcomes.WithLabelValues("rollback_failed"))

	assert.Equal(t, before+1, after, "a rollback that exhausts its retries must leave a trace")
	rec, _ := records.Get(context.Background(), "p1")
	assert.Equal(t, int64(3), rec.Reserved, "the inflated count stays until operators act on the metric")
}

func TestCheckAvailability(t *testing.T) {
	records := newMemRecords(domain.Record{ProductID: "p1", Quantity: 5, Reserved: 3})
	ledger, _ := newTestLedger(records)

	ok, err := ledger.CheckAvailability(context.Background(), "p1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.CheckAvailability(context.Background(), "p1", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}
