package zhufufm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/payment/signature"
	"companion/pkg/payment/types"
)

const testSecret = "zf_secret"

func newTestService(t *testing.T, gateway string) *ZhuFuFmService {
	t.Helper()
	svc, err := NewZhuFuFmService(config.ZhuFuFmConfig{
		Gateway:    gateway,
		MerchantID: "10001",
		Secret:     testSecret,
		NotifyURL:  "https://api.example.com/v1/webhooks/zhufufm",
		ReturnURL:  "https://app.example.com/ok",
	})
	require.NoError(t, err)
	return svc
}

func signedForm(params map[string]string) []byte {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("sign", Sign(params, testSecret))
	return []byte(values.Encode())
}

func TestSign(t *testing.T) {
	params := map[string]string{
		"b":    "2",
		"a":    "1",
		"c":    "",
		"sign": "IGNORED",
	}
	assert.Equal(t, signature.MD5Upper("a=1&b=2&key="+testSecret), Sign(params, testSecret))
}

func TestCreatePaymentIntentConvertsToYuan(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/order/create", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{"pay_url":"https://qr.example.com/abc","trade_no":"ZF123"}}`))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	intent, err := svc.CreatePaymentIntent(context.Background(), &types.IntentRequest{
		OrderNo:     "ord_1",
		Amount:      19999,
		Currency:    "CNY",
		ProductName: "会员",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://qr.example.com/abc", intent.PaymentURL)
	assert.Equal(t, "ZF123", intent.ProviderSessionID)

	assert.Equal(t, "199.99", form.Get("amount"))
	assert.Equal(t, "ord_1", form.Get("out_trade_no"))
	assert.Equal(t, "10001", form.Get("mch_id"))

	params := map[string]string{}
	for k := range form {
		params[k] = form.Get(k)
	}
	assert.Equal(t, Sign(params, testSecret), form.Get("sign"))
}

func TestCreatePaymentIntentRejectsNonCNY(t *testing.T) {
	svc := newTestService(t, "https://gateway.invalid")
	_, err := svc.CreatePaymentIntent(context.Background(), &types.IntentRequest{OrderNo: "ord_1", Amount: 100, Currency: "usd"})
	assert.True(t, errors.Is(err, types.ErrUnsupportedCurrency))
}

func TestCreatePaymentIntentBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":1001,"msg":"sign error"}`))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	_, err := svc.CreatePaymentIntent(context.Background(), &types.IntentRequest{OrderNo: "ord_1", Amount: 100, Currency: "cny"})
	assert.ErrorContains(t, err, "sign error")
}

func TestParseWebhookFormSuccess(t *testing.T) {
	svc := newTestService(t, "https://gateway.invalid")
	body := signedForm(map[string]string{
		"mch_id":       "10001",
		"out_trade_no": "ord_1",
		"trade_no":     "ZF123",
		"amount":       "199.99",
		"state":        "SUCCESS",
		"pay_time":     "1700000000",
	})

	n, err := svc.ParseWebhook(context.Background(), body, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "ord_1", n.OrderNo)
	assert.Equal(t, "ZF123", n.ProviderTransactionID)
	assert.Equal(t, order.StatusPaid, n.Status)
	assert.Equal(t, int64(19999), n.Amount)
	assert.Equal(t, "cny", n.Currency)
	require.NotNil(t, n.PaidAt)
	assert.Equal(t, int64(1700000000), n.PaidAt.Unix())
}

func TestParseWebhookJSONFail(t *testing.T) {
	svc := newTestService(t, "https://gateway.invalid")
	params := map[string]string{"out_trade_no": "ord_2", "amount": "1", "state": "FAIL"}
	body := []byte(`{"out_trade_no":"ord_2","amount":1,"state":"FAIL","sign":"` + Sign(params, testSecret) + `"}`)

	n, err := svc.ParseWebhook(context.Background(), body, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, n.Status)
	assert.Equal(t, int64(100), n.Amount)
}

func TestParseWebhookSignatureGate(t *testing.T) {
	svc := newTestService(t, "https://gateway.invalid")

	unsigned := []byte("out_trade_no=ord_1&state=SUCCESS")
	assert.False(t, svc.VerifySignature(unsigned, http.Header{}))

	body := signedForm(map[string]string{"out_trade_no": "ord_1", "state": "FAIL"})
	values, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	values.Set("state", "SUCCESS")
	_, err = svc.ParseWebhook(context.Background(), []byte(values.Encode()), http.Header{})
	assert.True(t, errors.Is(err, types.ErrSignatureInvalid))
}

func TestAcknowledgeIsPlainText(t *testing.T) {
	svc := newTestService(t, "https://gateway.invalid")
	assert.Equal(t, "success", string(svc.Acknowledge(true).Body))
	assert.Equal(t, "fail", string(svc.Acknowledge(false).Body))
	assert.Contains(t, svc.Acknowledge(true).ContentType, "text/plain")
}
