// Package billing 下单、支付回调对账与积分发放
package billing

import (
	"errors"

	"companion/pkg/payment/types"
)

var (
	// ErrInvalidParams 请求参数不合法，不会产生任何订单
	ErrInvalidParams = errors.New("invalid params")
	// ErrUnauthenticated 无法确定付款用户
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrConfiguration 支付渠道未配置
	ErrConfiguration = types.ErrConfiguration
	// ErrUpstreamProvider 调用支付渠道失败，订单停留在 created
	ErrUpstreamProvider = errors.New("upstream payment provider error")
	// ErrSignatureInvalid 回调签名不通过
	ErrSignatureInvalid = types.ErrSignatureInvalid
	// ErrOrderNotFound 回调对应的订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrReconciliationConflict 订单已标记支付但积分流水写入失败
	ErrReconciliationConflict = errors.New("reconciliation conflict")
	// ErrAmountMismatch 回调金额或币种与订单不一致
	ErrAmountMismatch = errors.New("notification amount does not match order")
)
