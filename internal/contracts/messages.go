// Package contracts 定义服务之间的 Kafka 消息契约。
// 所有命令和事件都带 orderId/sagaId 作为幂等键，消费方必须
// 把重复投递处理成无副作用的成功。
package contracts

import "time"

// 主题约定。命令主题按 orderId 分区，事件主题按 sagaId 分区，
// 保证同一笔订单的消息在分区内有序。
const (
	OrderCreationTopic    = "order-creation"
	StockCommandTopic     = "stock-commands"
	FlashSaleCommandTopic = "flashsale-commands"
	StockEventTopic       = "stock-events"
	OrderEventTopic       = "order-events"
)

// CommandType 库存/秒杀命令类型。
type CommandType string

const (
	CmdReserveStock       CommandType = "ReserveStock"
	CmdConfirmReservation CommandType = "ConfirmReservation"
	CmdReleaseReservation CommandType = "ReleaseReservation"
)

// StockCommand 由订单编排器发出，库存服务或秒杀服务消费。
type StockCommand struct {
	Type        CommandType `json:"type"`
	OrderID     string      `json:"orderId"`
	SagaID      string      `json:"sagaId"`
	ProductID   string      `json:"productId"`
	FlashSaleID string      `json:"flashSaleId,omitempty"`
	UserID      string      `json:"userId"`
	Qty         int64       `json:"qty"`
}

// EventType 库存侧结果事件类型。
type EventType string

const (
	EvtStockReserved          EventType = "StockReserved"
	EvtStockReservationFailed EventType = "StockReservationFailed"
	EvtStockConfirmed         EventType = "StockConfirmed"
	EvtStockReleased          EventType = "StockReleased"
)

// StockEvent 由库存/秒杀服务发出，订单编排器消费。
type StockEvent struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"orderId"`
	SagaID    string    `json:"sagaId"`
	ProductID string    `json:"productId"`
	Qty       int64     `json:"qty"`
	Reason    string    `json:"reason,omitempty"`
}

// OrderCreationRequested 是下单入口发出的触发事件。
type OrderCreationRequested struct {
	SagaID          string      `json:"sagaId"`
	OrderNo         string      `json:"orderNo"`
	UserID          string      `json:"userId"`
	ShippingAddress string      `json:"shippingAddress"`
	Items           []OrderLine `json:"items"`
}

// OrderLine 下单时的商品行快照。
type OrderLine struct {
	ProductID   string  `json:"productId"`
	SKU         string  `json:"sku"`
	UnitPrice   float64 `json:"unitPrice"`
	Qty         int64   `json:"qty"`
	FlashSaleID string  `json:"flashSaleId,omitempty"`
}

// 订单终态/里程碑事件类型，通知侧和推送网关消费。
const (
	OrderCreated   = "order-created"
	OrderConfirmed = "order-confirmed"
	OrderCancelled = "order-cancelled"
	OrderFailed    = "order-failed"
	OrderShipped   = "order-shipped"
	OrderDelivered = "order-delivered"
)

// OrderEvent 是对外发布的扁平订单事件。
type OrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	OrderNo    string    `json:"orderNo"`
	UserID     string    `json:"userId"`
	Amount     float64   `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	TrackingNo string    `json:"trackingNo,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
