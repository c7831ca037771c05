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

// OutcomeConsumer 消费 stock-events 主题并驱动 saga 推进。
// 事件按 sagaId 提交到 KeyedPool：不同 saga 并行处理，
// 同一 saga 的事件严格串行——这是 sagaStatus 单写入方的前提。
// offset 在状态落库之后由 worker 逐条提交。同一分区里不同
// saga 的提交是乱序的：靠后的提交会把 committed offset 推过
// 前面未提交的失败消息，所以 "不提交" 并不保证重新投递——
// 失败的最终兜底是 stuck-saga 扫描，重复投递则由编排器的
// 重放守卫吸收。
type OutcomeConsumer struct {
	reader *kafka.Reader
	orch   *application.Orchestrator
	pool   *mq.KeyedPool
	tracer trace.Tracer
}

func NewOutcomeConsumer(reader *kafka.Reader, orch *application.Orchestrator, pool *mq.KeyedPool, tracer trace.Tracer) *OutcomeConsumer {
	return &OutcomeConsumer{reader: reader, orch: orch, pool: pool, tracer: tracer}
}

// Run 阻塞消费直到 ctx 取消，退出前等 worker 清空队列。
func (c *OutcomeConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("stock outcome consumer started")
	defer c.pool.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("stock outcome consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
			time.Sleep(time.Second)
			continue
		}

		var evt contracts.StockEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("malformed stock event skipped")
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		c.pool.Submit(evt.SagaID, func() {
			c.handle(ctx, msg, &evt)
		})
	}
}

func (c *OutcomeConsumer) handle(parentCtx context.Context, msg kafka.Message, evt *contracts.StockEvent) {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "order.HandleStockOutcome",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.type", string(evt.Type)),
			attribute.String("saga.id", evt.SagaID),
		))
	defer span.End()

	if err := c.orch.HandleStockEvent(ctx, evt); err != nil {
		// 不提交 offset。同分区后续消息的提交可能越过这一条，
		// 重新投递没有保证；真正收尾的是 stuck-saga 扫描
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("saga_id", evt.SagaID).
			Msg("stock event handling failed, left uncommitted")
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
	}
}
