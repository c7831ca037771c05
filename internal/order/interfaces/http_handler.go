package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mall/internal/contracts"
	"mall/internal/order/application"
	"mall/internal/order/domain"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrderHandler 下单入口和订单查询的 HTTP 面。
// 下单只做校验和事件发布，真正的建单在创建消费者里完成，
// 入口永远快速返回。
type OrderHandler struct {
	validator      *application.Validator
	orch           *application.Orchestrator
	creationWriter *kafka.Writer
	tracer         trace.Tracer
}

func NewOrderHandler(validator *application.Validator, orch *application.Orchestrator, creationWriter *kafka.Writer, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{validator: validator, orch: orch, creationWriter: creationWriter, tracer: tracer}
}

// RegisterRoutes 挂载路由。
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", h.createOrder)
	mux.HandleFunc("GET /orders/{sagaId}", h.getOrder)
	mux.HandleFunc("POST /orders/{orderNo}/ship", h.shipOrder)
	mux.HandleFunc("POST /orders/{orderNo}/deliver", h.deliverOrder)
}

type createOrderRequest struct {
	UserID          string                `json:"userId"`
	ShippingAddress string                `json:"shippingAddress"`
	Items           []contracts.OrderLine `json:"items"`
}

type createOrderResponse struct {
	SagaID  string `json:"sagaId"`
	OrderNo string `json:"orderNo"`
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "http.CreateOrder")
	defer span.End()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	event := contracts.OrderCreationRequested{
		SagaID:          uuid.NewString(),
		OrderNo:         newOrderNo(),
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		Items:           req.Items,
	}
	if err := h.validator.Validate(&event); err != nil {
		// 校验失败在任何副作用之前，直接拒绝
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("saga.id", event.SagaID))

	payload, _ := json.Marshal(event)
	if err := mq.ProduceMessage(ctx, h.creationWriter, []byte(event.SagaID), payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to publish order creation event")
		writeError(w, http.StatusServiceUnavailable, "could not accept order")
		return
	}

	logger.Ctx(ctx).Info().Str("saga_id", event.SagaID).Str("order_no", event.OrderNo).
		Str("user_id", event.UserID).Msg("order accepted")
	writeJSON(w, http.StatusAccepted, createOrderResponse{SagaID: event.SagaID, OrderNo: event.OrderNo})
}

type orderStatusResponse struct {
	SagaID        string  `json:"sagaId"`
	OrderNo       string  `json:"orderNo"`
	Status        string  `json:"status"`
	SagaStatus    string  `json:"sagaStatus"`
	TotalAmount   float64 `json:"totalAmount"`
	FailureReason string  `json:"failureReason,omitempty"`
	TrackingNo    string  `json:"trackingNo,omitempty"`
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orch.GetBySagaID(r.Context(), r.PathValue("sagaId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, orderStatusResponse{
		SagaID:        order.SagaID,
		OrderNo:       order.OrderNo,
		Status:        string(order.Status),
		SagaStatus:    string(order.SagaStatus),
		TotalAmount:   order.TotalAmount,
		FailureReason: order.FailureReason,
		TrackingNo:    order.TrackingNo,
	})
}

type shipRequest struct {
	TrackingNo string `json:"trackingNo"`
}

func (h *OrderHandler) shipOrder(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingNo == "" {
		writeError(w, http.StatusBadRequest, "trackingNo is required")
		return
	}
	h.writeTransitionResult(w, r.Context(),
		h.orch.MarkShipped(r.Context(), r.PathValue("orderNo"), req.TrackingNo))
}

func (h *OrderHandler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.writeTransitionResult(w, r.Context(),
		h.orch.MarkDelivered(r.Context(), r.PathValue("orderNo")))
}

func (h *OrderHandler) writeTransitionResult(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("order transition failed")
		writeError(w, http.StatusInternalServerError, "transition failed")
	}
}

// newOrderNo 生成对用户可见的订单号。
func newOrderNo() string {
	return fmt.Sprintf("ORD%d%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
