package adapter

import (
	"context"

	"mall/internal/order/domain"
	"mall/internal/pkg/httpclient"

	"github.com/pkg/errors"
)

// PaymentHTTPAdapter 通过 HTTP 调用外部支付网关，实现
// domain.PaymentGateway。超时由调用方的 context 控制。
type PaymentHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewPaymentHTTPAdapter(client *httpclient.Client, baseURL string) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, baseURL: baseURL}
}

type chargeRequest struct {
	IdempotencyKey string  `json:"idempotencyKey"`
	Amount         float64 `json:"amount"`
}

type chargeResponse struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

type refundRequest struct {
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
}

type queryRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
}

type queryResponse struct {
	Found         bool   `json:"found"`
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

func (a *PaymentHTTPAdapter) Charge(ctx context.Context, sagaID string, amount float64) (*domain.ChargeResult, error) {
	var resp chargeResponse
	req := chargeRequest{IdempotencyKey: sagaID, Amount: amount}
	if err := a.client.PostJSON(ctx, a.baseURL+"/charge", req, &resp); err != nil {
		return nil, errors.Wrap(err, "payment charge")
	}
	return &domain.ChargeResult{
		Approved:      resp.Approved,
		TransactionID: resp.TransactionID,
		Reason:        resp.Reason,
	}, nil
}

func (a *PaymentHTTPAdapter) Refund(ctx context.Context, transactionID string, amount float64) error {
	req := refundRequest{TransactionID: transactionID, Amount: amount}
	if err := a.client.PostJSON(ctx, a.baseURL+"/refund", req, nil); err != nil {
		return errors.Wrap(err, "payment refund")
	}
	return nil
}

func (a *PaymentHTTPAdapter) QueryCharge(ctx context.Context, sagaID string) (*domain.ChargeResult, error) {
	var resp queryResponse
	req := queryRequest{IdempotencyKey: sagaID}
	if err := a.client.PostJSON(ctx, a.baseURL+"/query", req, &resp); err != nil {
		return nil, errors.Wrap(err, "payment query")
	}
	if !resp.Found {
		return nil, nil
	}
	return &domain.ChargeResult{
		Approved:      resp.Approved,
		TransactionID: resp.TransactionID,
		Reason:        resp.Reason,
	}, nil
}
