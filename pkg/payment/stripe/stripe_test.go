package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/payment/types"
)

const (
	testSecret         = "whsec_test"
	testEmbeddedSecret = "whsec_embedded"
)

func newCheckout(t *testing.T) *StripeService {
	t.Helper()
	svc, err := NewStripeService(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testSecret,
		SuccessURL:    "https://app.example.com/ok",
		CancelURL:     "https://app.example.com/cancel",
	})
	require.NoError(t, err)
	return svc
}

func newEmbedded(t *testing.T) *StripeService {
	t.Helper()
	svc, err := NewStripeEmbeddedService(config.StripeConfig{
		SecretKey:             "sk_test_123",
		EmbeddedWebhookSecret: testEmbeddedSecret,
	})
	require.NoError(t, err)
	return svc
}

// buildSignedEvent 构造带签名的事件，object 为 data.object 的原始 JSON
func buildSignedEvent(t *testing.T, eventType stripe.EventType, object string, secret string) ([]byte, http.Header) {
	t.Helper()
	event := map[string]interface{}{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        string(eventType),
		"api_version": stripe.APIVersion,
		"created":     1700000000,
		"data": map[string]interface{}{
			"object": json.RawMessage(object),
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	h := http.Header{}
	h.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return payload, h
}

const completedSession = `{
	"id": "cs_test_1",
	"object": "checkout.session",
	"client_reference_id": "ord_1",
	"metadata": {"order_no": "ord_1"},
	"payment_status": "paid",
	"amount_total": 999,
	"currency": "usd",
	"payment_intent": "pi_1"
}`

func TestNewServiceRequiresCredentials(t *testing.T) {
	_, err := NewStripeService(config.StripeConfig{WebhookSecret: testSecret})
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	_, err = NewStripeService(config.StripeConfig{SecretKey: "sk_test_1"})
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	_, err = NewStripeEmbeddedService(config.StripeConfig{SecretKey: "sk_test_1"})
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestParseCheckoutSessionCompleted(t *testing.T) {
	svc := newCheckout(t)
	body, h := buildSignedEvent(t, stripe.EventTypeCheckoutSessionCompleted, completedSession, testSecret)

	assert.True(t, svc.VerifySignature(body, h))

	n, err := svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderStripe, n.Provider)
	assert.Equal(t, "ord_1", n.OrderNo)
	assert.Equal(t, "cs_test_1", n.ProviderSessionID)
	assert.Equal(t, "pi_1", n.ProviderTransactionID)
	assert.Equal(t, order.StatusPaid, n.Status)
	assert.Equal(t, int64(999), n.Amount)
	assert.Equal(t, "usd", n.Currency)
	require.NotNil(t, n.PaidAt)
	assert.Equal(t, int64(1700000000), n.PaidAt.Unix())
}

func TestParseCheckoutSessionStatuses(t *testing.T) {
	svc := newCheckout(t)

	unpaid := `{"id":"cs_2","object":"checkout.session","client_reference_id":"ord_2","payment_status":"unpaid"}`
	body, h := buildSignedEvent(t, stripe.EventTypeCheckoutSessionCompleted, unpaid, testSecret)
	n, err := svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, "ord_2", n.OrderNo)
	assert.Equal(t, order.StatusProcessing, n.Status)

	body, h = buildSignedEvent(t, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded, unpaid, testSecret)
	n, err = svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, n.Status)

	body, h = buildSignedEvent(t, stripe.EventTypeCheckoutSessionExpired, unpaid, testSecret)
	n, err = svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, n.Status)

	body, h = buildSignedEvent(t, stripe.EventTypeCustomerCreated, `{"id":"cus_1","object":"customer"}`, testSecret)
	n, err = svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.True(t, n.Ignored)
}

func TestParseEmbeddedPaymentIntent(t *testing.T) {
	svc := newEmbedded(t)
	pi := `{"id":"pi_9","object":"payment_intent","amount":999,"amount_received":999,"currency":"eur","status":"succeeded","metadata":{"order_no":"ord_9"}}`

	body, h := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, pi, testEmbeddedSecret)
	n, err := svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderStripeEmbedded, n.Provider)
	assert.Equal(t, "ord_9", n.OrderNo)
	assert.Equal(t, "pi_9", n.ProviderSessionID)
	assert.Equal(t, order.StatusPaid, n.Status)
	assert.Equal(t, int64(999), n.Amount)
	assert.Equal(t, "eur", n.Currency)

	body, h = buildSignedEvent(t, stripe.EventTypePaymentIntentPaymentFailed, pi, testEmbeddedSecret)
	n, err = svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, n.Status)

	// 内嵌渠道不处理 Checkout 事件
	body, h = buildSignedEvent(t, stripe.EventTypeCheckoutSessionCompleted, completedSession, testEmbeddedSecret)
	n, err = svc.ParseWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.True(t, n.Ignored)
}

func TestSignatureGate(t *testing.T) {
	svc := newCheckout(t)
	body, _ := buildSignedEvent(t, stripe.EventTypeCheckoutSessionCompleted, completedSession, testSecret)

	assert.False(t, svc.VerifySignature(body, http.Header{}))
	_, err := svc.ParseWebhook(context.Background(), body, http.Header{})
	assert.True(t, errors.Is(err, types.ErrSignatureInvalid))

	bad := http.Header{}
	bad.Set(SignatureHeader, "t=1,v1=invalid")
	assert.False(t, svc.VerifySignature(body, bad))
	_, err = svc.ParseWebhook(context.Background(), body, bad)
	assert.True(t, errors.Is(err, types.ErrSignatureInvalid))

	// 用内嵌渠道的密钥签名，Checkout 渠道必须拒绝
	_, other := buildSignedEvent(t, stripe.EventTypeCheckoutSessionCompleted, completedSession, testEmbeddedSecret)
	assert.False(t, svc.VerifySignature(body, other))
}

func TestCreateCheckoutSession(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	})
	stripe.SetBackend(stripe.APIBackend, backend)
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })

	svc := newCheckout(t)
	intent, err := svc.CreatePaymentIntent(context.Background(), &types.IntentRequest{
		OrderNo:     "ord_1",
		UserID:      "u_1",
		UserEmail:   "buyer@example.com",
		Amount:      999,
		Currency:    "USD",
		Credits:     100,
		ProductName: "100 credits",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", intent.PaymentURL)
	assert.Equal(t, "cs_test_1", intent.ProviderSessionID)

	assert.Equal(t, "ord_1", form["client_reference_id"])
	assert.Equal(t, "ord_1", form["metadata[order_no]"])
	assert.Equal(t, "999", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "usd", form["line_items[0][price_data][currency]"])
	assert.Equal(t, "payment", form["mode"])
}
