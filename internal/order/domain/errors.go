package domain

import "errors"

var (
	// ErrValidation 下单请求未通过校验，没有产生任何副作用。
	ErrValidation = errors.New("order validation failed")

	// ErrNotFound 订单不存在。
	ErrNotFound = errors.New("order not found")

	// ErrDuplicateRequest sagaId/orderNo 已经处理过。对调用方不算错误，
	// 按成功的空操作处理。
	ErrDuplicateRequest = errors.New("duplicate order request")

	// ErrDownstreamTimeout 下游调用（支付网关等）超时，重试预算耗尽后
	// 按失败进入补偿。
	ErrDownstreamTimeout = errors.New("downstream call timed out")

	// ErrPaymentDeclined 支付被拒绝。终态，不重试。
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrInvalidTransition 非法的状态迁移。
	ErrInvalidTransition = errors.New("invalid order state transition")
)
