package application

import (
	"context"
	"errors"
	"time"

	"mall/internal/flashsale/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/zookeeper"

	"go.opentelemetry.io/otel/trace"
)

// Reconciler 定期把计数器存储里的 sold/reserved 回写到关系库，
// 并为冷启动的场次补种计数器。多实例部署时通过 ZooKeeper
// 分布式锁选主，任一时刻只有一个实例在跑。
type Reconciler struct {
	sales    domain.Repository
	store    domain.CounterStore
	zkConn   *zookeeper.Conn
	interval time.Duration
	tracer   trace.Tracer
}

func NewReconciler(sales domain.Repository, store domain.CounterStore, zkConn *zookeeper.Conn, interval time.Duration, tracer trace.Tracer) *Reconciler {
	return &Reconciler{sales: sales, store: store, zkConn: zkConn, interval: interval, tracer: tracer}
}

// Run 阻塞运行直到 ctx 取消。每个 tick 先抢锁，抢不到说明
// 另一个实例在对账，本轮跳过。
func (r *Reconciler) Run(ctx context.Context) error {
	lock, err := zookeeper.NewDistributedLock(r.zkConn, "flashsale-reconcile")
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Dur("interval", r.interval).Msg("flash sale reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lock.TryLock(); err != nil {
				if !errors.Is(err, zookeeper.ErrLockHeld) {
					logger.Ctx(ctx).Error().Err(err).Msg("reconcile: lock acquisition failed")
				}
				continue
			}
			r.reconcileOnce(ctx)
			if err := lock.Unlock(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to release reconcile lock")
			}
		}
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "flashsale.reconcile")
	defer span.End()

	sales, err := r.sales.ListOpen(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("reconcile: list open sales failed")
		return
	}

	for _, sale := range sales {
		// 冷计数器先补种，SETNX 保证不会覆盖已有值
		if err := r.store.Seed(ctx, sale); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("sale_id", sale.ID).Msg("reconcile: seed failed")
			continue
		}
		sold, reserved, err := r.store.Snapshot(ctx, sale.ID)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("sale_id", sale.ID).Msg("reconcile: snapshot failed")
			continue
		}
		if sold == sale.Sold && reserved == sale.Reserved {
			continue
		}
		if err := r.sales.UpdateCounters(ctx, sale.ID, sold, reserved); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("sale_id", sale.ID).Msg("reconcile: writeback failed")
			continue
		}
		logger.Ctx(ctx).Info().Str("sale_id", sale.ID).
			Int64("sold", sold).Int64("reserved", reserved).
			Msg("reconciled flash sale counters")
	}
}
