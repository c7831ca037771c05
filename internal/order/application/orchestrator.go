package application

import (
	"context"
	"fmt"
	"time"

	"mall/internal/contracts"
	"mall/internal/order/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/metrics"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator 订单 saga 编排器：reserve → pay → confirm，
// 任一步失败走补偿。它是 sagaStatus 的唯一写入方，
// 调用方必须保证同一 saga 的事件串行进来（见 KeyedPool）。
type Orchestrator struct {
	repo    domain.Repository
	gateway domain.PaymentGateway
	stock   domain.StockCommander
	events  domain.EventPublisher
	tracer  trace.Tracer

	paymentTimeout time.Duration
	paymentRetries int
}

func NewOrchestrator(
	repo domain.Repository,
	gateway domain.PaymentGateway,
	stock domain.StockCommander,
	events domain.EventPublisher,
	tracer trace.Tracer,
	paymentTimeout time.Duration,
	paymentRetries int,
) *Orchestrator {
	return &Orchestrator{
		repo:           repo,
		gateway:        gateway,
		stock:          stock,
		events:         events,
		tracer:         tracer,
		paymentTimeout: paymentTimeout,
		paymentRetries: paymentRetries,
	}
}

// CreateOrder 处理下单触发事件：持久化订单并为每一行下发预占命令。
// sagaId/orderNo 已存在说明是重复投递，按成功空操作处理。
func (o *Orchestrator) CreateOrder(ctx context.Context, req *contracts.OrderCreationRequested) error {
	ctx, span := o.tracer.Start(ctx, "saga.CreateOrder", trace.WithAttributes(
		attribute.String("saga.id", req.SagaID),
		attribute.String("order.no", req.OrderNo),
	))
	defer span.End()

	items := make([]*domain.Item, 0, len(req.Items))
	for _, line := range req.Items {
		items = append(items, &domain.Item{
			ProductID:   line.ProductID,
			SKU:         line.SKU,
			UnitPrice:   line.UnitPrice,
			Qty:         line.Qty,
			FlashSaleID: line.FlashSaleID,
		})
	}
	order := domain.NewOrder(req.SagaID, req.OrderNo, req.UserID, req.ShippingAddress, items)

	created, err := o.repo.Create(ctx, order)
	if err != nil {
		return err
	}
	if !created {
		logger.Ctx(ctx).Info().Str("saga_id", req.SagaID).Msg("duplicate order creation ignored")
		span.AddEvent("duplicate creation, no-op")
		return nil
	}

	logger.Ctx(ctx).Info().Str("saga_id", order.SagaID).Str("order_no", order.OrderNo).
		Float64("amount", order.TotalAmount).Int("lines", len(order.Items)).
		Msg("order created, saga started")
	o.publishEvent(ctx, contracts.OrderCreated, order)

	for _, item := range order.Items {
		if err := o.stock.Reserve(ctx, order, item); err != nil {
			// 命令发不出去就让创建事件重投，Create 的幂等保证不会重复建单
			return errors.Wrap(err, "publish reserve command")
		}
	}
	return nil
}

// HandleStockEvent 消费库存侧的结果事件并推进 saga。
// 每个分支开头都是重放守卫：事件对应的步骤已经走过 ⇒ 空操作。
func (o *Orchestrator) HandleStockEvent(ctx context.Context, evt *contracts.StockEvent) error {
	ctx, span := o.tracer.Start(ctx, "saga.HandleStockEvent", trace.WithAttributes(
		attribute.String("event.type", string(evt.Type)),
		attribute.String("saga.id", evt.SagaID),
		attribute.String("product.id", evt.ProductID),
	))
	defer span.End()

	order, err := o.repo.GetBySagaID(ctx, evt.SagaID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Ctx(ctx).Warn().Str("saga_id", evt.SagaID).Msg("stock event for unknown saga skipped")
			return nil
		}
		return err
	}

	switch evt.Type {
	case contracts.EvtStockReserved:
		return o.onLineReserved(ctx, order, evt.ProductID)
	case contracts.EvtStockReservationFailed:
		return o.onLineFailed(ctx, order, evt.ProductID, evt.Reason)
	case contracts.EvtStockConfirmed:
		return o.onLineConfirmed(ctx, order, evt.ProductID)
	case contracts.EvtStockReleased:
		return o.onLineReleased(ctx, order, evt.ProductID)
	default:
		logger.Ctx(ctx).Warn().Str("type", string(evt.Type)).Msg("unknown stock event skipped")
		return nil
	}
}

func (o *Orchestrator) onLineReserved(ctx context.Context, order *domain.Order, productID string) error {
	line := order.Line(productID)
	if line == nil {
		logger.Ctx(ctx).Warn().Str("saga_id", order.SagaID).Str("product_id", productID).
			Msg("reserved event for unknown line skipped")
		return nil
	}

	if order.SagaStatus == domain.SagaCompensating || order.SagaStatus.Terminal() {
		// 补偿开始后才到达的预占成功：这份库存不再需要，立即释放。
		// 其余情况都是重复投递，不动已有的行状态。
		if line.Reservation == domain.LinePending {
			line.Reservation = domain.LineReserved
			if err := o.repo.Update(ctx, order); err != nil {
				return err
			}
			return o.stock.Release(ctx, order, line)
		}
		return nil
	}
	if line.Reservation == domain.LineReserved {
		return nil // 重复投递
	}

	line.Reservation = domain.LineReserved
	if !order.AllLinesReserved() {
		return o.repo.Update(ctx, order)
	}

	if err := o.transition(ctx, order, domain.SagaInventoryReserved); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, order); err != nil {
		return err
	}
	return o.processPayment(ctx, order)
}

func (o *Orchestrator) onLineFailed(ctx context.Context, order *domain.Order, productID, reason string) error {
	if order.SagaStatus.ReachedStep(domain.SagaInventoryReserved) {
		return nil // 已经越过预占阶段，迟到的失败事件不再有意义
	}
	if line := order.Line(productID); line != nil {
		line.Reservation = domain.LineFailed
	}
	return o.compensate(ctx, order, domain.OrderFailed,
		fmt.Sprintf("reservation failed for product %s: %s", productID, reason))
}

func (o *Orchestrator) onLineConfirmed(ctx context.Context, order *domain.Order, productID string) error {
	line := order.Line(productID)
	if line == nil || line.Reservation == domain.LineConfirmed {
		return nil
	}
	line.Reservation = domain.LineConfirmed
	return o.repo.Update(ctx, order)
}

func (o *Orchestrator) onLineReleased(ctx context.Context, order *domain.Order, productID string) error {
	line := order.Line(productID)
	if line == nil || line.Reservation == domain.LineReleased {
		return nil
	}
	line.Reservation = domain.LineReleased

	// 所有预占都已归还，补偿完成
	if order.SagaStatus == domain.SagaCompensating && len(order.ReservedLines()) == 0 {
		if err := o.transition(ctx, order, domain.SagaCompensated); err != nil {
			return err
		}
		logger.Ctx(ctx).Info().Str("saga_id", order.SagaID).Str("reason", order.FailureReason).
			Msg("saga compensation completed")
	}
	return o.repo.Update(ctx, order)
}

// processPayment 同步调用支付网关。传输类错误在预算内重试；
// 拒付是终态结论，绝不重试。
func (o *Orchestrator) processPayment(ctx context.Context, order *domain.Order) error {
	ctx, span := o.tracer.Start(ctx, "saga.ProcessPayment", trace.WithAttributes(
		attribute.String("saga.id", order.SagaID),
		attribute.Float64("amount", order.TotalAmount),
	))
	defer span.End()

	if err := o.transition(ctx, order, domain.SagaPaymentProcessing); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, order); err != nil {
		return err
	}

	result, err := o.charge(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment failed")
		return o.compensate(ctx, order, domain.OrderFailed, err.Error())
	}
	if !result.Approved {
		span.SetStatus(codes.Error, "payment declined")
		return o.compensate(ctx, order, domain.OrderCancelled, "payment declined: "+result.Reason)
	}

	order.PaymentRef = result.TransactionID
	if err := o.transition(ctx, order, domain.SagaPaymentCompleted); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, order); err != nil {
		return err
	}
	return o.confirmOrder(ctx, order)
}

func (o *Orchestrator) charge(ctx context.Context, order *domain.Order) (*domain.ChargeResult, error) {
	var lastErr error
	for attempt := 0; attempt <= o.paymentRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
		result, err := o.gateway.Charge(callCtx, order.SagaID, order.TotalAmount)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		logger.Ctx(ctx).Warn().Err(err).Str("saga_id", order.SagaID).
			Int("attempt", attempt+1).Msg("payment gateway call failed")
	}
	return nil, errors.Wrapf(domain.ErrDownstreamTimeout,
		"payment gateway unreachable after %d attempts: %v", o.paymentRetries+1, lastErr)
}

// confirmOrder 支付完成后向每一条已预占行下发确认命令，
// 然后把订单和 saga 都置为 CONFIRMED。命令是幂等的，重放无害。
func (o *Orchestrator) confirmOrder(ctx context.Context, order *domain.Order) error {
	for _, line := range order.ReservedLines() {
		if err := o.stock.Confirm(ctx, order, line); err != nil {
			// 发布失败让触发事件重投，重放守卫保证不会重复推进
			return errors.Wrap(err, "publish confirm command")
		}
	}

	if err := o.transition(ctx, order, domain.SagaConfirmed); err != nil {
		return err
	}
	order.Status = domain.OrderConfirmed
	if err := o.repo.Update(ctx, order); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().Str("saga_id", order.SagaID).Str("order_no", order.OrderNo).
		Msg("order confirmed")
	o.publishEvent(ctx, contracts.OrderConfirmed, order)
	return nil
}

// compensate 把 saga 转入补偿：记录失败原因、落终态订单状态、
// 退款（若已扣款）、逐行释放预占。已在补偿中或已终态时是空操作。
func (o *Orchestrator) compensate(ctx context.Context, order *domain.Order, status domain.OrderStatus, reason string) error {
	if order.SagaStatus == domain.SagaCompensating || order.SagaStatus.Terminal() {
		return o.repo.Update(ctx, order)
	}

	ctx, span := o.tracer.Start(ctx, "saga.Compensate", trace.WithAttributes(
		attribute.String("saga.id", order.SagaID),
		attribute.String("reason", reason),
	))
	defer span.End()

	if err := o.transition(ctx, order, domain.SagaCompensating); err != nil {
		return err
	}
	order.Status = status
	order.FailureReason = reason

	if order.PaymentRef != "" {
		if err := o.gateway.Refund(ctx, order.PaymentRef, order.TotalAmount); err != nil {
			// 退款失败不阻塞补偿，兜底任务会重试整个补偿路径
			logger.Ctx(ctx).Error().Err(err).Str("saga_id", order.SagaID).
				Str("payment_ref", order.PaymentRef).Msg("refund failed")
		}
	}

	reserved := order.ReservedLines()
	if len(reserved) == 0 {
		// 没有需要归还的预占，直接补偿完成
		if err := o.transition(ctx, order, domain.SagaCompensated); err != nil {
			return err
		}
	}
	if err := o.repo.Update(ctx, order); err != nil {
		return err
	}

	for _, line := range reserved {
		if err := o.stock.Release(ctx, order, line); err != nil {
			return errors.Wrap(err, "publish release command")
		}
	}

	logger.Ctx(ctx).Warn().Str("saga_id", order.SagaID).Str("reason", reason).
		Str("order_status", string(status)).Int("lines_to_release", len(reserved)).
		Msg("saga entered compensation")
	if status == domain.OrderCancelled {
		o.publishEvent(ctx, contracts.OrderCancelled, order)
	} else {
		o.publishEvent(ctx, contracts.OrderFailed, order)
	}
	return nil
}

// MarkShipped 已确认订单发货。
func (o *Orchestrator) MarkShipped(ctx context.Context, orderNo, trackingNo string) error {
	order, err := o.repo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	if err := order.MarkShipped(trackingNo); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, order); err != nil {
		return err
	}
	o.publishEvent(ctx, contracts.OrderShipped, order)
	return nil
}

// MarkDelivered 已发货订单签收。
func (o *Orchestrator) MarkDelivered(ctx context.Context, orderNo string) error {
	order, err := o.repo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	if err := order.MarkDelivered(); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, order); err != nil {
		return err
	}
	o.publishEvent(ctx, contracts.OrderDelivered, order)
	return nil
}

// GetBySagaID 查询 saga 当前状态，HTTP 查询接口用。
func (o *Orchestrator) GetBySagaID(ctx context.Context, sagaID string) (*domain.Order, error) {
	return o.repo.GetBySagaID(ctx, sagaID)
}

func (o *Orchestrator) transition(ctx context.Context, order *domain.Order, to domain.SagaStatus) error {
	from := order.SagaStatus
	if err := order.AdvanceSaga(to); err != nil {
		return err
	}
	metrics.SagaTransitions.WithLabelValues(string(from), string(to)).Inc()
	logger.Ctx(ctx).Debug().Str("saga_id", order.SagaID).
		Str("from", string(from)).Str("to", string(to)).Msg("saga transition")
	return nil
}

func (o *Orchestrator) publishEvent(ctx context.Context, eventType string, order *domain.Order) {
	if err := o.events.PublishOrderEvent(ctx, eventType, order); err != nil {
		// 里程碑事件至少一次投递由上游重试兜底，这里只记录
		logger.Ctx(ctx).Error().Err(err).Str("saga_id", order.SagaID).
			Str("event", eventType).Msg("failed to publish order event")
	}
}
