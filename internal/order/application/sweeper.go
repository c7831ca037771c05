package application

import (
	"context"
	"errors"
	"time"

	"mall/internal/order/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/metrics"
	"mall/internal/pkg/zookeeper"
)

// Sweeper 兜底任务：扫描卡在非终态 saga 超过阈值的订单，
// 能恢复的恢复，不能恢复的强制补偿。它给部分失败的生命周期
// 设了上界——worker 崩溃或消息丢失造成的悬挂预占最终都会被释放。
// 多实例部署时通过 ZooKeeper 锁选主。
type Sweeper struct {
	orch      *Orchestrator
	zkConn    *zookeeper.Conn
	threshold time.Duration
	interval  time.Duration
}

func NewSweeper(orch *Orchestrator, zkConn *zookeeper.Conn, threshold, interval time.Duration) *Sweeper {
	return &Sweeper{orch: orch, zkConn: zkConn, threshold: threshold, interval: interval}
}

// Run 阻塞运行直到 ctx 取消。每个 tick 先抢锁，抢不到说明
// 另一个实例在扫，本轮跳过。
func (s *Sweeper) Run(ctx context.Context) error {
	lock, err := zookeeper.NewDistributedLock(s.zkConn, "order-saga-sweep")
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Dur("interval", s.interval).Dur("threshold", s.threshold).
		Msg("stuck-saga sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lock.TryLock(); err != nil {
				if !errors.Is(err, zookeeper.ErrLockHeld) {
					logger.Ctx(ctx).Error().Err(err).Msg("sweep: lock acquisition failed")
				}
				continue
			}
			s.sweepOnce(ctx)
			if err := lock.Unlock(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to release sweep lock")
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	stuck, err := s.orch.repo.FindStuck(ctx, time.Now().Add(-s.threshold))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("sweep: query stuck sagas failed")
		return
	}

	for _, order := range stuck {
		if err := s.resolve(ctx, order); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("saga_id", order.SagaID).
				Str("saga_status", string(order.SagaStatus)).Msg("sweep: failed to resolve stuck saga")
			continue
		}
		metrics.StuckSagasSwept.Inc()
	}
}

// resolve 按卡住的位置决定是续跑还是强制补偿。
func (s *Sweeper) resolve(ctx context.Context, order *domain.Order) error {
	logger.Ctx(ctx).Warn().Str("saga_id", order.SagaID).
		Str("saga_status", string(order.SagaStatus)).
		Time("updated_at", order.UpdatedAt).Msg("sweep: stuck saga detected")

	switch order.SagaStatus {
	case domain.SagaPaymentProcessing:
		// 支付结果未知，先向网关求证再决定方向
		return s.resolvePayment(ctx, order)

	case domain.SagaPaymentCompleted:
		// 已扣款但确认流程中断，重发确认命令推到终点
		return s.orch.confirmOrder(ctx, order)

	case domain.SagaCompensating:
		return s.forceFail(ctx, order, "compensation did not complete within threshold")

	default: // STARTED / INVENTORY_RESERVED
		return s.orch.compensate(ctx, order, domain.OrderFailed,
			"saga stalled before payment, swept after threshold")
	}
}

func (s *Sweeper) resolvePayment(ctx context.Context, order *domain.Order) error {
	result, err := s.orch.gateway.QueryCharge(ctx, order.SagaID)
	if err != nil {
		return err
	}
	switch {
	case result == nil:
		// 网关没有这笔扣款的记录，补偿是安全的
		return s.orch.compensate(ctx, order, domain.OrderFailed,
			"payment outcome unknown, swept after threshold")
	case result.Approved:
		order.PaymentRef = result.TransactionID
		if err := s.orch.transition(ctx, order, domain.SagaPaymentCompleted); err != nil {
			return err
		}
		if err := s.orch.repo.Update(ctx, order); err != nil {
			return err
		}
		return s.orch.confirmOrder(ctx, order)
	default:
		return s.orch.compensate(ctx, order, domain.OrderCancelled,
			"payment declined: "+result.Reason)
	}
}

// forceFail 重发释放命令并直接落 FAILED，不再等待确认事件。
// 释放是幂等的，多发无害。
func (s *Sweeper) forceFail(ctx context.Context, order *domain.Order, reason string) error {
	for _, line := range order.ReservedLines() {
		if err := s.orch.stock.Release(ctx, order, line); err != nil {
			return err
		}
	}
	if err := s.orch.transition(ctx, order, domain.SagaFailed); err != nil {
		return err
	}
	if order.FailureReason == "" {
		order.FailureReason = reason
	}
	return s.orch.repo.Update(ctx, order)
}
