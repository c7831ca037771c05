package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"mall/internal/contracts"
	"mall/internal/order/application"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreationConsumer 消费 order-creation 主题，驱动建单和首轮预占。
type CreationConsumer struct {
	reader *kafka.Reader
	orch   *application.Orchestrator
	tracer trace.Tracer
}

func NewCreationConsumer(reader *kafka.Reader, orch *application.Orchestrator, tracer trace.Tracer) *CreationConsumer {
	return &CreationConsumer{reader: reader, orch: orch, tracer: tracer}
}

// Run 阻塞消费直到 ctx 取消。
func (c *CreationConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("order creation consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("order creation consumer shutting down")
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

func (c *CreationConsumer) process(parentCtx context.Context, msg kafka.Message) bool {
	var req contracts.OrderCreationRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		logger.Ctx(parentCtx).Error().Err(err).Msg("malformed creation event skipped")
		return true
	}

	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "order.HandleCreation",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("saga.id", req.SagaID)))
	defer span.End()

	if err := c.orch.CreateOrder(ctx, &req); err != nil {
		// 建单是幂等的，不提交等重投
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("saga_id", req.SagaID).
			Msg("order creation failed, message will be redelivered")
		return false
	}
	return true
}
