package alipay

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/payment/types"
)

func TestNewAlipayServiceRequiresCredentials(t *testing.T) {
	_, err := NewAlipayService(config.AlipayConfig{AppID: "2021000000000000"})
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestParseNotification(t *testing.T) {
	svc := &AlipayService{appID: "2021000000000000"}

	cases := []struct {
		status  string
		want    order.Status
		ignored bool
	}{
		{TradeStatusSuccess, order.StatusPaid, false},
		{TradeStatusFinished, order.StatusPaid, false},
		{TradeStatusClosed, order.StatusFailed, false},
		{TradeStatusWaitBuyerPay, order.StatusPending, false},
		{"SOMETHING_ELSE", "", true},
	}
	for _, c := range cases {
		values := url.Values{
			"app_id":       {"2021000000000000"},
			"out_trade_no": {"ord_1"},
			"trade_no":     {"2024010122001"},
			"trade_status": {c.status},
			"total_amount": {"199.99"},
			"gmt_payment":  {"2024-01-01 12:00:00"},
		}
		n, err := svc.parseNotification(values, []byte(values.Encode()))
		require.NoError(t, err, c.status)
		assert.Equal(t, c.want, n.Status, c.status)
		assert.Equal(t, c.ignored, n.Ignored, c.status)
		assert.Equal(t, "ord_1", n.OrderNo)
		assert.Equal(t, int64(19999), n.Amount)
		assert.Equal(t, "cny", n.Currency)
		if c.want == order.StatusPaid {
			require.NotNil(t, n.PaidAt)
			assert.Equal(t, int64(1704081600), n.PaidAt.Unix())
		}
	}
}

func TestParseNotificationRejectsForeignAppID(t *testing.T) {
	svc := &AlipayService{appID: "2021000000000000"}
	values := url.Values{"app_id": {"other"}, "out_trade_no": {"ord_1"}, "trade_status": {TradeStatusSuccess}}
	_, err := svc.parseNotification(values, nil)
	assert.True(t, errors.Is(err, types.ErrSignatureInvalid))
}

func TestVerifySignatureRequiresSign(t *testing.T) {
	svc := &AlipayService{appID: "2021000000000000"}
	assert.False(t, svc.VerifySignature([]byte("out_trade_no=ord_1&trade_status=TRADE_SUCCESS"), http.Header{}))
	assert.False(t, svc.VerifySignature([]byte("%zz"), http.Header{}))
}

func TestAcknowledge(t *testing.T) {
	svc := &AlipayService{}
	assert.Equal(t, "success", string(svc.Acknowledge(true).Body))
	assert.Equal(t, "fail", string(svc.Acknowledge(false).Body))
}

func TestValidateCurrency(t *testing.T) {
	svc := &AlipayService{}
	assert.NoError(t, svc.ValidateCurrency("CNY"))
	assert.True(t, errors.Is(svc.ValidateCurrency("usd"), types.ErrUnsupportedCurrency))

	var _ types.CurrencyValidator = svc
}
