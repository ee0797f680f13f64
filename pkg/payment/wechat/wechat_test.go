package wechat

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/payment/types"
)

func transaction(state string) *payments.Transaction {
	return &payments.Transaction{
		Mchid:         core.String("1900000001"),
		OutTradeNo:    core.String("ord_1"),
		TransactionId: core.String("4200000000000000"),
		TradeState:    core.String(state),
		SuccessTime:   core.String("2024-01-01T12:00:00+08:00"),
		Amount: &payments.TransactionAmount{
			Total:    core.Int64(999),
			Currency: core.String("CNY"),
		},
	}
}

func TestNewWechatPayServiceRequiresCredentials(t *testing.T) {
	_, err := NewWechatPayService(config.WechatConfig{AppID: "wx123"})
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestParseTransaction(t *testing.T) {
	svc := &WechatPayService{mchID: "1900000001"}

	cases := map[string]order.Status{
		"SUCCESS":    order.StatusPaid,
		"CLOSED":     order.StatusFailed,
		"PAYERROR":   order.StatusFailed,
		"REVOKED":    order.StatusFailed,
		"USERPAYING": order.StatusProcessing,
		"NOTPAY":     order.StatusPending,
	}
	for state, want := range cases {
		n, err := svc.parseTransaction(transaction(state), nil)
		require.NoError(t, err, state)
		assert.Equal(t, want, n.Status, state)
		assert.False(t, n.Ignored, state)
		assert.Equal(t, "ord_1", n.OrderNo)
		assert.Equal(t, "4200000000000000", n.ProviderTransactionID)
		assert.Equal(t, int64(999), n.Amount)
		assert.Equal(t, "cny", n.Currency)
	}

	n, err := svc.parseTransaction(transaction("SUCCESS"), nil)
	require.NoError(t, err)
	require.NotNil(t, n.PaidAt)
	assert.Equal(t, int64(1704081600), n.PaidAt.Unix())

	n, err = svc.parseTransaction(transaction("REFUND"), nil)
	require.NoError(t, err)
	assert.True(t, n.Ignored)
}

func TestParseTransactionRejectsForeignMerchant(t *testing.T) {
	svc := &WechatPayService{mchID: "1900000002"}
	_, err := svc.parseTransaction(transaction("SUCCESS"), nil)
	assert.True(t, errors.Is(err, types.ErrSignatureInvalid))
}

func TestVerifySignatureRequiresHeaders(t *testing.T) {
	svc := &WechatPayService{mchID: "1900000001"}
	assert.False(t, svc.VerifySignature([]byte(`{}`), http.Header{}))

	h := http.Header{}
	for _, name := range notifyHeaders {
		h.Set(name, "x")
	}
	// 没有回调处理器时同样拒绝
	assert.False(t, svc.VerifySignature([]byte(`{}`), h))
}

func TestAcknowledge(t *testing.T) {
	svc := &WechatPayService{}
	assert.JSONEq(t, `{"code":"SUCCESS","message":"成功"}`, string(svc.Acknowledge(true).Body))
	assert.JSONEq(t, `{"code":"FAIL","message":"失败"}`, string(svc.Acknowledge(false).Body))
}
