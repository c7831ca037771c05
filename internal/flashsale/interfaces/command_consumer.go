package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"mall/internal/contracts"
	"mall/internal/flashsale/application"
	"mall/internal/flashsale/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CommandConsumer 消费 flashsale-commands 主题，驱动秒杀计数器，
// 并把结果事件发回 stock-events——对编排器来说秒杀扣减和普通
// 库存预占是同一套事件语义。
type CommandConsumer struct {
	reader  *kafka.Reader
	writer  *kafka.Writer
	counter *application.Counter
	tracer  trace.Tracer
}

func NewCommandConsumer(reader *kafka.Reader, writer *kafka.Writer, counter *application.Counter, tracer trace.Tracer) *CommandConsumer {
	return &CommandConsumer{reader: reader, writer: writer, counter: counter, tracer: tracer}
}

// Run 阻塞消费直到 ctx 取消。
func (c *CommandConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("flash sale command consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("flash sale command consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
			time.Sleep(time.Second)
			continue
		}

		if c.process(ctx, msg) {
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
			}
		}
	}
}

// process 返回是否应该提交 offset。
func (c *CommandConsumer) process(parentCtx context.Context, msg kafka.Message) bool {
	var cmd contracts.StockCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		logger.Ctx(parentCtx).Error().Err(err).Msg("malformed flash sale command skipped")
		return true
	}

	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "flashsale.HandleCommand",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("command.type", string(cmd.Type)),
			attribute.String("order.id", cmd.OrderID),
			attribute.String("sale.id", cmd.FlashSaleID),
		))
	defer span.End()

	var err error
	switch cmd.Type {
	case contracts.CmdReserveStock:
		_, err = c.counter.TryDecrement(ctx, cmd.FlashSaleID, cmd.OrderID, cmd.UserID, cmd.Qty)
		if err == nil {
			return c.publish(ctx, &cmd, contracts.EvtStockReserved, "")
		}
		if isTerminal(err) {
			span.SetStatus(codes.Error, err.Error())
			return c.publish(ctx, &cmd, contracts.EvtStockReservationFailed, err.Error())
		}

	case contracts.CmdConfirmReservation:
		err = c.counter.ConfirmDecrement(ctx, cmd.FlashSaleID, cmd.OrderID)
		if err == nil {
			return c.publish(ctx, &cmd, contracts.EvtStockConfirmed, "")
		}

	case contracts.CmdReleaseReservation:
		err = c.counter.RollbackDecrement(ctx, cmd.FlashSaleID, cmd.OrderID, cmd.UserID)
		if err == nil {
			return c.publish(ctx, &cmd, contracts.EvtStockReleased, "")
		}

	default:
		logger.Ctx(ctx).Error().Str("type", string(cmd.Type)).Msg("unknown flash sale command skipped")
		return true
	}

	// 瞬态错误：不提交，等待重新投递
	span.RecordError(err)
	logger.Ctx(ctx).Warn().Err(err).Str("order_id", cmd.OrderID).Msg("transient error, message will be redelivered")
	return false
}

func (c *CommandConsumer) publish(ctx context.Context, cmd *contracts.StockCommand, evtType contracts.EventType, reason string) bool {
	event := contracts.StockEvent{
		Type:      evtType,
		OrderID:   cmd.OrderID,
		SagaID:    cmd.SagaID,
		ProductID: cmd.ProductID,
		Qty:       cmd.Qty,
		Reason:    reason,
	}
	payload, _ := json.Marshal(event)
	if err := mq.ProduceMessage(ctx, c.writer, []byte(cmd.SagaID), payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to publish stock event")
		return false
	}
	return true
}

// isTerminal 判断错误是否对本次命令是终态的（重试也不会成功）。
func isTerminal(err error) bool {
	return errors.Is(err, domain.ErrSoldOut) ||
		errors.Is(err, domain.ErrUserLimitExceeded) ||
		errors.Is(err, domain.ErrWindowClosed) ||
		errors.Is(err, domain.ErrNotFound)
}
