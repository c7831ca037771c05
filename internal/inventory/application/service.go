package application

import (
	"context"
	"time"

	"mall/internal/inventory/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/metrics"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxCASRetries 乐观锁冲突的本地重试上限，超过后按失败上抛。
const maxCASRetries = 3

// Ledger 库存台账服务。所有库存变更的唯一入口，
// 外部不允许绕过它直接读改写库存行。
type Ledger struct {
	records      domain.Repository
	reservations domain.ReservationStore
	tracer       trace.Tracer
}

func NewLedger(records domain.Repository, reservations domain.ReservationStore, tracer trace.Tracer) *Ledger {
	return &Ledger{records: records, reservations: reservations, tracer: tracer}
}

// Reserve 为订单预占库存。同一 (orderId, productId) 的重复调用
// 是无副作用的成功——命令可能被重复投递。
func (l *Ledger) Reserve(ctx context.Context, orderID, productID string, qty int64) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Reserve", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("product.id", productID),
		attribute.Int64("qty", qty),
	))
	defer span.End()

	existing, err := l.reservations.Get(ctx, orderID, productID)
	if err != nil {
		return err
	}
	if existing != nil {
		// 幂等命中：这笔订单已经处理过这一行
		logger.Ctx(ctx).Debug().Str("order_id", orderID).Str("product_id", productID).
			Msg("duplicate reserve command ignored")
		span.AddEvent("duplicate reserve, no-op")
		return nil
	}

	if err := l.mutate(ctx, productID, func(rec *domain.Record) error {
		return rec.Reserve(qty)
	}); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			metrics.ReservationOutcomes.WithLabelValues("insufficient").Inc()
		} else if errors.Is(err, domain.ErrConflict) {
			metrics.ReservationOutcomes.WithLabelValues("conflict_exhausted").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return err
	}

	created, err := l.reservations.Create(ctx, &domain.Reservation{
		OrderID:   orderID,
		ProductID: productID,
		Qty:       qty,
		Status:    domain.ReservationReserved,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	if !created {
		// 并发重复命令和我们同时扣了库存，退回多扣的部分。
		// 预占本身是成功的（赢家的预占单已落库），所以这里不能
		// 把错误上抛：ErrConflict 会被消费侧当成终态失败，
		// 和赢家发出的成功事件打架。回退失败必须留下痕迹——
		// 多扣的量没有对应预占单，兜底扫描看不见它。
		if rbErr := l.releaseQuantity(ctx, productID, qty); rbErr != nil {
			metrics.ReservationOutcomes.WithLabelValues("rollback_failed").Inc()
			span.RecordError(rbErr)
			logger.Ctx(ctx).Error().Err(rbErr).Str("order_id", orderID).Str("product_id", productID).
				Int64("qty", qty).Msg("failed to roll back stock after losing reservation race, reserved count inflated")
		}
		return nil
	}

	metrics.ReservationOutcomes.WithLabelValues("reserved").Inc()
	return nil
}

// Confirm 把预占转为正式销售，是不可逆的扣减。
// 预占单状态先行迁移，保证重复投递只扣一次。
func (l *Ledger) Confirm(ctx context.Context, orderID, productID string, qty int64) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Confirm", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	res, err := l.reservations.Get(ctx, orderID, productID)
	if err != nil {
		return err
	}
	if res == nil || res.Status == domain.ReservationReleased {
		span.SetStatus(codes.Error, "not reserved")
		return errors.Wrapf(domain.ErrNotReserved, "order %s product %s", orderID, productID)
	}
	if res.Status == domain.ReservationConfirmed {
		span.AddEvent("already confirmed, no-op")
		return nil
	}

	moved, err := l.reservations.TransitionStatus(ctx, orderID, productID, domain.ReservationReserved, domain.ReservationConfirmed)
	if err != nil {
		return err
	}
	if !moved {
		// 另一个消费者抢先完成了确认
		return nil
	}

	if err := l.mutate(ctx, productID, func(rec *domain.Record) error {
		return rec.ConfirmSale(res.Qty)
	}); err != nil {
		span.RecordError(err)
		return err
	}

	if rec, err := l.records.Get(ctx, productID); err == nil && rec.LowStock() {
		metrics.LowStock.WithLabelValues(productID).Inc()
		logger.Ctx(ctx).Warn().Str("product_id", productID).
			Int64("available", rec.Available()).Int64("reorder_point", rec.ReorderPoint).
			Msg("product reached reorder point")
	}
	return nil
}

// Release 归还预占。对同一 (orderId, productId) 重复调用等价于
// 调用一次——补偿命令会被重试，这里必须幂等。
func (l *Ledger) Release(ctx context.Context, orderID, productID string, qty int64) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Release", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	res, err := l.reservations.Get(ctx, orderID, productID)
	if err != nil {
		return err
	}
	if res == nil || res.Status != domain.ReservationReserved {
		span.AddEvent("nothing to release, no-op")
		return nil
	}

	moved, err := l.reservations.TransitionStatus(ctx, orderID, productID, domain.ReservationReserved, domain.ReservationReleased)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	metrics.ReservationOutcomes.WithLabelValues("released").Inc()
	return l.releaseQuantity(ctx, productID, res.Qty)
}

// CheckAvailability 只读查询，不产生预占。结果仅供参考，
// 调用方拿到 true 之后仍然可能在 Reserve 时失败。
func (l *Ledger) CheckAvailability(ctx context.Context, productID string, qty int64) (bool, error) {
	rec, err := l.records.Get(ctx, productID)
	if err != nil {
		return false, err
	}
	return rec.Available() >= qty, nil
}

func (l *Ledger) releaseQuantity(ctx context.Context, productID string, qty int64) error {
	return l.mutate(ctx, productID, func(rec *domain.Record) error {
		rec.Release(qty)
		return nil
	})
}

// mutate 以 CAS 语义修改库存行：读取、应用变更、按读到的版本条件写回。
// 冲突时拿新版本重试，重试耗尽后把 ErrConflict 上抛。
func (l *Ledger) mutate(ctx context.Context, productID string, fn func(*domain.Record) error) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		rec, err := l.records.Get(ctx, productID)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		err = l.records.UpdateWithVersion(ctx, rec, rec.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		metrics.CASConflicts.Inc()
	}
	return errors.Wrapf(domain.ErrConflict, "gave up on product %s after %d attempts", productID, maxCASRetries)
}
