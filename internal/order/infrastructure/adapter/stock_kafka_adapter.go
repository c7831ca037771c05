package adapter

import (
	"context"
	"encoding/json"

	"mall/internal/contracts"
	"mall/internal/order/domain"
	"mall/internal/pkg/mq"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// StockKafkaAdapter 把库存命令发到 Kafka，实现 domain.StockCommander。
// 普通行发 stock-commands，秒杀行发 flashsale-commands；
// 消息按 orderId 作 key，保证同一订单的命令分区内有序。
type StockKafkaAdapter struct {
	stockWriter     *kafka.Writer
	flashSaleWriter *kafka.Writer
}

func NewStockKafkaAdapter(stockWriter, flashSaleWriter *kafka.Writer) *StockKafkaAdapter {
	return &StockKafkaAdapter{stockWriter: stockWriter, flashSaleWriter: flashSaleWriter}
}

func (a *StockKafkaAdapter) Reserve(ctx context.Context, order *domain.Order, item *domain.Item) error {
	return a.send(ctx, contracts.CmdReserveStock, order, item)
}

func (a *StockKafkaAdapter) Confirm(ctx context.Context, order *domain.Order, item *domain.Item) error {
	return a.send(ctx, contracts.CmdConfirmReservation, order, item)
}

func (a *StockKafkaAdapter) Release(ctx context.Context, order *domain.Order, item *domain.Item) error {
	return a.send(ctx, contracts.CmdReleaseReservation, order, item)
}

func (a *StockKafkaAdapter) send(ctx context.Context, cmdType contracts.CommandType, order *domain.Order, item *domain.Item) error {
	cmd := contracts.StockCommand{
		Type:        cmdType,
		OrderID:     order.OrderNo,
		SagaID:      order.SagaID,
		ProductID:   item.ProductID,
		FlashSaleID: item.FlashSaleID,
		UserID:      order.UserID,
		Qty:         item.Qty,
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "marshal stock command")
	}

	writer := a.stockWriter
	if item.FlashSaleID != "" {
		writer = a.flashSaleWriter
	}
	return mq.ProduceMessage(ctx, writer, []byte(order.OrderNo), payload)
}
