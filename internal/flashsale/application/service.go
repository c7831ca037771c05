package application

import (
	"context"
	"sync"
	"time"

	"mall/internal/flashsale/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/metrics"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Counter 秒杀扣减服务。热路径只走计数器存储，
// 关系库里的场次行仅提供配置（总量、限购、时间窗口）和对账基线。
type Counter struct {
	sales  domain.Repository
	store  domain.CounterStore
	tracer trace.Tracer
	now    func() time.Time

	// seeded 记录本进程已经确认过计数器初始化的场次，避免每次请求都 SETNX
	seeded sync.Map
}

func NewCounter(sales domain.Repository, store domain.CounterStore, tracer trace.Tracer) *Counter {
	return &Counter{sales: sales, store: store, tracer: tracer, now: time.Now}
}

// TryDecrement 尝试为订单抢占秒杀库存，orderID 是幂等键。
// 返回本次扣减后的剩余量。售罄、限购、窗口外都是终态错误。
func (c *Counter) TryDecrement(ctx context.Context, saleID, orderID, userID string, qty int64) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "flashsale.TryDecrement", trace.WithAttributes(
		attribute.String("sale.id", saleID),
		attribute.String("order.id", orderID),
		attribute.Int64("qty", qty),
	))
	defer span.End()

	sale, err := c.loadActiveSale(ctx, saleID)
	if err != nil {
		metrics.FlashSaleDecrements.WithLabelValues(outcomeLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "sale not available")
		return 0, err
	}

	remaining, err := c.store.TryDecrement(ctx, sale, orderID, userID, qty, c.now())
	if err != nil {
		metrics.FlashSaleDecrements.WithLabelValues(outcomeLabel(err)).Inc()
		if errors.Is(err, domain.ErrSoldOut) {
			c.markSoldOut(ctx, saleID)
		}
		span.RecordError(err)
		return remaining, err
	}

	metrics.FlashSaleDecrements.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int64("remaining", remaining))
	if remaining <= 0 {
		c.markSoldOut(ctx, saleID)
	}
	return remaining, nil
}

// ConfirmDecrement 支付完成后把预占转为已售。幂等。
func (c *Counter) ConfirmDecrement(ctx context.Context, saleID, orderID string) error {
	ctx, span := c.tracer.Start(ctx, "flashsale.ConfirmDecrement", trace.WithAttributes(
		attribute.String("sale.id", saleID),
		attribute.String("order.id", orderID),
	))
	defer span.End()
	return c.store.ConfirmDecrement(ctx, saleID, orderID)
}

// RollbackDecrement 补偿路径：释放预占并退还用户额度。幂等。
func (c *Counter) RollbackDecrement(ctx context.Context, saleID, orderID, userID string) error {
	ctx, span := c.tracer.Start(ctx, "flashsale.RollbackDecrement", trace.WithAttributes(
		attribute.String("sale.id", saleID),
		attribute.String("order.id", orderID),
	))
	defer span.End()
	return c.store.RollbackDecrement(ctx, saleID, orderID, userID)
}

// loadActiveSale 取场次并检查有效状态，首次命中时初始化计数器。
func (c *Counter) loadActiveSale(ctx context.Context, saleID string) (*domain.FlashSale, error) {
	sale, err := c.sales.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}

	switch sale.EffectiveState(c.now()) {
	case domain.StateActive:
	case domain.StateSoldOut:
		return nil, errors.Wrapf(domain.ErrSoldOut, "sale %s", saleID)
	default:
		return nil, errors.Wrapf(domain.ErrWindowClosed, "sale %s", saleID)
	}

	if _, ok := c.seeded.Load(saleID); !ok {
		if err := c.store.Seed(ctx, sale); err != nil {
			return nil, err
		}
		c.seeded.Store(saleID, struct{}{})
	}
	return sale, nil
}

func (c *Counter) markSoldOut(ctx context.Context, saleID string) {
	if err := c.sales.MarkSoldOut(ctx, saleID); err != nil {
		// 回写失败不影响本次请求的结论，下一次对账会补上
		logger.Ctx(ctx).Warn().Err(err).Str("sale_id", saleID).Msg("failed to mark sale sold out")
		return
	}
	logger.Ctx(ctx).Info().Str("sale_id", saleID).Msg("flash sale sold out")
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrSoldOut):
		return "sold_out"
	case errors.Is(err, domain.ErrUserLimitExceeded):
		return "user_limit"
	case errors.Is(err, domain.ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
