package adapter

import (
	"context"
	"encoding/json"
	"time"

	"mall/internal/contracts"
	"mall/internal/order/domain"
	"mall/internal/pkg/mq"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// OrderEventKafkaAdapter 把订单里程碑事件发到 order-events 主题，
// 实现 domain.EventPublisher。按 userId 作 key，推送网关按用户消费。
type OrderEventKafkaAdapter struct {
	writer *kafka.Writer
}

func NewOrderEventKafkaAdapter(writer *kafka.Writer) *OrderEventKafkaAdapter {
	return &OrderEventKafkaAdapter{writer: writer}
}

func (a *OrderEventKafkaAdapter) PublishOrderEvent(ctx context.Context, eventType string, order *domain.Order) error {
	event := contracts.OrderEvent{
		Type:       eventType,
		OrderID:    order.SagaID,
		OrderNo:    order.OrderNo,
		UserID:     order.UserID,
		Amount:     order.TotalAmount,
		Reason:     order.FailureReason,
		TrackingNo: order.TrackingNo,
		OccurredAt: time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(order.UserID), payload)
}
