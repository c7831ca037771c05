package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"mall/internal/contracts"
	"mall/internal/inventory/application"
	"mall/internal/inventory/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CommandConsumer 消费 stock-commands 主题，驱动库存台账，
// 并把结果事件发回 stock-events。
// 终态错误（库存不足等）转成失败事件；瞬态错误不提交 offset，
// 等待重新投递。
type CommandConsumer struct {
	reader *kafka.Reader
	writer *kafka.Writer
	ledger *application.Ledger
	tracer trace.Tracer
}

func NewCommandConsumer(reader *kafka.Reader, writer *kafka.Writer, ledger *application.Ledger, tracer trace.Tracer) *CommandConsumer {
	return &CommandConsumer{reader: reader, writer: writer, ledger: ledger, tracer: tracer}
}

// Run 阻塞消费直到 ctx 取消。
func (c *CommandConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("inventory command consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("inventory command consumer shutting down")
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
		logger.Ctx(parentCtx).Error().Err(err).Msg("malformed stock command skipped")
		return true // 格式错误的消息重投也没用
	}

	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "inventory.HandleCommand",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("command.type", string(cmd.Type)),
			attribute.String("order.id", cmd.OrderID),
			attribute.String("product.id", cmd.ProductID),
		))
	defer span.End()

	var err error
	switch cmd.Type {
	case contracts.CmdReserveStock:
		err = c.ledger.Reserve(ctx, cmd.OrderID, cmd.ProductID, cmd.Qty)
		if err == nil {
			return c.publish(ctx, &cmd, contracts.EvtStockReserved, "")
		}
		if isTerminal(err) {
			span.SetStatus(codes.Error, err.Error())
			return c.publish(ctx, &cmd, contracts.EvtStockReservationFailed, err.Error())
		}

	case contracts.CmdConfirmReservation:
		err = c.ledger.Confirm(ctx, cmd.OrderID, cmd.ProductID, cmd.Qty)
		if err == nil {
			return c.publish(ctx, &cmd, contracts.EvtStockConfirmed, "")
		}
		if isTerminal(err) {
			// 确认失败没有可用的补偿路径，记录后人工介入
			logger.Ctx(ctx).Error().Err(err).Str("order_id", cmd.OrderID).
				Str("product_id", cmd.ProductID).Msg("confirm failed terminally")
			span.SetStatus(codes.Error, err.Error())
			return true
		}

	case contracts.CmdReleaseReservation:
		err = c.ledger.Release(ctx, cmd.OrderID, cmd.ProductID, cmd.Qty)
		if err == nil {
			return c.publish(ctx, &cmd, contracts.EvtStockReleased, "")
		}

	default:
		logger.Ctx(ctx).Error().Str("type", string(cmd.Type)).Msg("unknown stock command skipped")
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
		// 事件发不出去就不能提交命令，否则结果会丢
		logger.Ctx(ctx).Error().Err(err).Msg("failed to publish stock event")
		return false
	}
	return true
}

// isTerminal 判断错误是否对本次命令是终态的（重试也不会成功）。
func isTerminal(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrNotReserved) ||
		errors.Is(err, domain.ErrConflict) // 重试预算已在台账内部耗尽
}
