package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"mall/internal/flashsale/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type memSales struct {
	mu    sync.Mutex
	sales map[string]domain.FlashSale
}

func newMemSales(sales ...domain.FlashSale) *memSales {
	m := &memSales{sales: make(map[string]domain.FlashSale)}
	for _, s := range sales {
		m.sales[s.ID] = s
	}
	return m
}

func (m *memSales) Get(_ context.Context, saleID string) (*domain.FlashSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[saleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := s
	return &copied, nil
}

func (m *memSales) UpdateCounters(_ context.Context, saleID string, sold, reserved int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sales[saleID]
	s.Sold, s.Reserved = sold, reserved
	m.sales[saleID] = s
	return nil
}

func (m *memSales) MarkSoldOut(_ context.Context, saleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sales[saleID]
	if s.State == domain.StateActive {
		s.State = domain.StateSoldOut
		m.sales[saleID] = s
	}
	return nil
}

func (m *memSales) ListOpen(_ context.Context) ([]*domain.FlashSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.FlashSale
	for _, s := range m.sales {
		if s.State != domain.StateEnded && s.State != domain.StateCancelled {
			copied := s
			out = append(out, &copied)
		}
	}
	return out, nil
}

// memCounters 按计数器存储的原子语义实现：整个检查加扣减
// 在同一把锁内完成。
type memCounters struct {
	mu       sync.Mutex
	sold     map[string]int64
	reserved map[string]int64
	users    map[string]map[string]int64
	orders   map[string]map[string]int64
	seeded   map[string]bool
}

func newMemCounters() *memCounters {
	return &memCounters{
		sold:     make(map[string]int64),
		reserved: make(map[string]int64),
		users:    make(map[string]map[string]int64),
		orders:   make(map[string]map[string]int64),
		seeded:   make(map[string]bool),
	}
}

func (m *memCounters) Seed(_ context.Context, sale *domain.FlashSale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seeded[sale.ID] {
		m.sold[sale.ID] = sale.Sold
		m.reserved[sale.ID] = sale.Reserved
		m.seeded[sale.ID] = true
	}
	return nil
}

func (m *memCounters) TryDecrement(_ context.Context, sale *domain.FlashSale, orderID, userID string, qty int64, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.orders[sale.ID] == nil {
		m.orders[sale.ID] = make(map[string]int64)
	}
	if m.users[sale.ID] == nil {
		m.users[sale.ID] = make(map[string]int64)
	}

	if _, dup := m.orders[sale.ID][orderID]; dup {
		return sale.Total - m.sold[sale.ID] - m.reserved[sale.ID], nil
	}
	if now.Before(sale.StartAt) || !now.Before(sale.EndAt) {
		return 0, domain.ErrWindowClosed
	}
	if m.sold[sale.ID]+m.reserved[sale.ID]+qty > sale.Total {
		return sale.Total - m.sold[sale.ID] - m.reserved[sale.ID], domain.ErrSoldOut
	}
	if m.users[sale.ID][userID]+qty > sale.PerUserCap {
		return 0, domain.ErrUserLimitExceeded
	}

	m.reserved[sale.ID] += qty
	m.users[sale.ID][userID] += qty
	m.orders[sale.ID][orderID] = qty
	return sale.Total - m.sold[sale.ID] - m.reserved[sale.ID], nil
}

func (m *memCounters) ConfirmDecrement(_ context.Context, saleID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, ok := m.orders[saleID][orderID]
	if !ok {
		return nil
	}
	m.reserved[saleID] -= qty
	m.sold[saleID] += qty
	delete(m.orders[saleID], orderID)
	return nil
}

func (m *memCounters) RollbackDecrement(_ context.Context, saleID, orderID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, ok := m.orders[saleID][orderID]
	if !ok {
		return nil
	}
	m.reserved[saleID] -= qty
	m.users[saleID][userID] -= qty
	delete(m.orders[saleID], orderID)
	return nil
}

func (m *memCounters) Snapshot(_ context.Context, saleID string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sold[saleID], m.reserved[saleID], nil
}

func activeSale(id string, total, cap int64) domain.FlashSale {
	now := time.Now()
	return domain.FlashSale{
		ID:         id,
		ProductID:  "p1",
		Total:      total,
		PerUserCap: cap,
		StartAt:    now.Add(-time.Hour),
		EndAt:      now.Add(time.Hour),
		State:      domain.StateScheduled,
	}
}

func newTestCounter(sales *memSales) (*Counter, *memCounters) {
	store := newMemCounters()
	return NewCounter(sales, store, otel.Tracer("test")), store
}

func TestTryDecrementHappyPath(t *testing.T) {
	sales := newMemSales(activeSale("fs1", 10, 2))
	counter, _ := newTestCounter(sales)

	remaining, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(8), remaining)
}

func TestTryDecrementIsIdempotentPerOrder(t *testing.T) {
	sales := newMemSales(activeSale("fs1", 10, 5))
	counter, store := newTestCounter(sales)

	_, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 2)
	require.NoError(t, err)
	_, err = counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 2)
	require.NoError(t, err)

	_, reserved, _ := store.Snapshot(context.Background(), "fs1")
	assert.Equal(t, int64(2), reserved, "duplicate order must not decrement twice")
}

func TestTryDecrementEnforcesUserCap(t *testing.T) {
	sales := newMemSales(activeSale("fs1", 100, 2))
	counter, _ := newTestCounter(sales)

	_, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 2)
	require.NoError(t, err)

	_, err = counter.TryDecrement(context.Background(), "fs1", "o2", "u1", 1)
	assert.ErrorIs(t, err, domain.ErrUserLimitExceeded)
}

func TestTryDecrementOutsideWindow(t *testing.T) {
	sale := activeSale("fs1", 10, 2)
	sale.StartAt = time.Now().Add(time.Hour)
	sale.EndAt = time.Now().Add(2 * time.Hour)
	counter, _ := newTestCounter(newMemSales(sale))

	_, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 1)
	assert.ErrorIs(t, err, domain.ErrWindowClosed)
}

func TestTryDecrementUnknownSale(t *testing.T) {
	counter, _ := newTestCounter(newMemSales())
	_, err := counter.TryDecrement(context.Background(), "nope", "o1", "u1", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSoldOutMarksSale(t *testing.T) {
	sales := newMemSales(activeSale("fs1", 2, 5))
	counter, _ := newTestCounter(sales)

	remaining, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	// 扣到 0 之后场次应当被标记售罄，后续请求直接拒绝
	_, err = counter.TryDecrement(context.Background(), "fs1", "o2", "u2", 1)
	assert.ErrorIs(t, err, domain.ErrSoldOut)

	sale, _ := sales.Get(context.Background(), "fs1")
	assert.Equal(t, domain.StateSoldOut, sale.State)
}

// 核心性质：total=N 时无论并发多高，sold+reserved 不超过 N。
func TestTryDecrementOversellFreedom(t *testing.T) {
	const total = 50
	const attempts = 300

	sales := newMemSales(activeSale("hot", total, 1))
	counter, store := newTestCounter(sales)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = counter.TryDecrement(context.Background(), "hot",
				fmt.Sprintf("order-%d", i), fmt.Sprintf("user-%d", i), 1)
		}(i)
	}
	wg.Wait()

	sold, reserved, _ := store.Snapshot(context.Background(), "hot")
	assert.LessOrEqual(t, sold+reserved, int64(total))
	assert.Equal(t, int64(total), reserved, "with plenty of demand every unit should be reserved")
}

func TestConfirmMovesReservedToSold(t *testing.T) {
	sales := newMemSales(activeSale("fs1", 10, 5))
	counter, store := newTestCounter(sales)

	_, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 3)
	require.NoError(t, err)

	require.NoError(t, counter.ConfirmDecrement(context.Background(), "fs1", "o1"))
	// 重复确认无副作用
	require.NoError(t, counter.ConfirmDecrement(context.Background(), "fs1", "o1"))

	sold, reserved, _ := store.Snapshot(context.Background(), "fs1")
	assert.Equal(t, int64(3), sold)
	assert.Equal(t, int64(0), reserved)
}

func TestRollbackRestoresUserAllowance(t *testing.T) {
	sales := newMemSales(activeSale("fs1", 10, 2))
	counter, store := newTestCounter(sales)

	_, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 2)
	require.NoError(t, err)

	require.NoError(t, counter.RollbackDecrement(context.Background(), "fs1", "o1", "u1"))
	// 重复回滚无副作用
	require.NoError(t, counter.RollbackDecrement(context.Background(), "fs1", "o1", "u1"))

	_, reserved, _ := store.Snapshot(context.Background(), "fs1")
	assert.Equal(t, int64(0), reserved)

	// 额度退还后同一用户可以再抢
	_, err = counter.TryDecrement(context.Background(), "fs1", "o2", "u1", 2)
	require.NoError(t, err)
}

func TestReconcilerWritesBackCounters(t *testing.T) {
	sales := newMemSales(activeSale("fs1", 10, 5))
	counter, store := newTestCounter(sales)

	_, err := counter.TryDecrement(context.Background(), "fs1", "o1", "u1", 3)
	require.NoError(t, err)
	require.NoError(t, counter.ConfirmDecrement(context.Background(), "fs1", "o1"))

	r := &Reconciler{sales: sales, store: store, interval: time.Minute, tracer: otel.Tracer("test")}
	r.reconcileOnce(context.Background())

	sale, _ := sales.Get(context.Background(), "fs1")
	assert.Equal(t, int64(3), sale.Sold)
	assert.Equal(t, int64(0), sale.Reserved)
}
