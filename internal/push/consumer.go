package push

import (
	"context"
	"encoding/json"
	"time"

	"mall/internal/contracts"
	"mall/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// EventConsumer 消费 order-events 主题，把事件推给对应的在线用户。
// 用户不在线直接丢弃——推送是尽力而为，权威状态永远可以查单。
type EventConsumer struct {
	reader *kafka.Reader
	hub    *Hub
}

func NewEventConsumer(reader *kafka.Reader, hub *Hub) *EventConsumer {
	return &EventConsumer{reader: reader, hub: hub}
}

// Run 阻塞消费直到 ctx 取消。
func (c *EventConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("push event consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("push event consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
			time.Sleep(time.Second)
			continue
		}

		var event contracts.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("malformed order event skipped")
		} else if delivered := c.hub.SendToUser(event.UserID, msg.Value); delivered {
			logger.Ctx(ctx).Debug().Str("user_id", event.UserID).
				Str("event", event.Type).Str("order_no", event.OrderNo).
				Msg("order event pushed")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
		}
	}
}
