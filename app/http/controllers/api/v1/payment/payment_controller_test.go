package payment

import (
	"bytes"
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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"companion/app/http/middlewares"
	"companion/app/models/order"
	"companion/app/repositories"
	"companion/app/services/billing"
	"companion/config"
	"companion/pkg/auth"
	"companion/pkg/database/dbtest"
	"companion/pkg/metrics"
	"companion/pkg/payment/factory"
	"companion/pkg/payment/payblis"
	"companion/pkg/payment/signature"
	"companion/pkg/payment/stripe"
	"companion/pkg/payment/types"
)

const (
	jwtSecret      = "jwt_secret"
	stripeSecret   = "whsec_stripe"
	payblisSecret  = "whsec_payblis"
	adminTestToken = "admin_secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// hostedProvider 返回固定支付链接的渠道
type hostedProvider struct {
	err error
}

func (p *hostedProvider) Name() types.Provider          { return types.ProviderNOWPayments }
func (p *hostedProvider) Method() order.PaymentMethod   { return order.MethodCrypto }
func (p *hostedProvider) Acknowledge(ok bool) types.Ack { return types.JSONAck(ok) }
func (p *hostedProvider) VerifySignature(body []byte, header http.Header) bool {
	return false
}
func (p *hostedProvider) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*types.Notification, error) {
	return nil, types.ErrSignatureInvalid
}
func (p *hostedProvider) CreatePaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &types.Intent{PaymentURL: "https://pay.example.com/" + req.OrderNo, ProviderSessionID: "inv_" + req.OrderNo}, nil
}

type fixture struct {
	db      *gorm.DB
	router  *gin.Engine
	orders  *repositories.OrderRepository
	credits *repositories.CreditRepository
	hosted  *hostedProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)

	stripeSvc, err := stripe.NewStripeService(config.StripeConfig{SecretKey: "sk_test_1", WebhookSecret: stripeSecret})
	require.NoError(t, err)
	payblisSvc, err := payblis.NewPayblisService(config.PayblisConfig{
		Gateway:       "https://pay.example.com/gateway.php",
		MerchantKey:   "mk_test",
		SecretKey:     "sk_test",
		WebhookSecret: payblisSecret,
	})
	require.NoError(t, err)
	hosted := &hostedProvider{}
	registry := factory.NewRegistry(stripeSvc, payblisSvc, hosted)

	m := metrics.NewPaymentMetrics(prometheus.NewRegistry())
	orders := repositories.NewOrderRepository(db)
	credits := repositories.NewCreditRepository(db)
	checkout := billing.NewCheckoutService(registry, orders, repositories.NewUserRepository(db), nil, m)
	reconciler := billing.NewReconciler(db, nil, m)
	auditor := billing.NewAuditor(db, m, 0)

	r := gin.New()
	v1 := r.Group("/v1")
	pc := NewPaymentController(checkout)
	wc := NewWebhookController(registry, reconciler)
	oc := NewOrderController(orders, credits)
	rc := NewReconcileController(auditor, nil)

	v1.POST("/webhooks/:provider", wc.Handle)
	authed := v1.Group("", middlewares.AuthJWT(jwtSecret))
	authed.POST("/checkout/:provider", pc.Checkout)
	authed.GET("/orders", oc.Index)
	authed.GET("/orders/:order_no", oc.Show)
	authed.GET("/credits/balance", oc.Balance)
	authed.GET("/credits/transactions", oc.Transactions)
	authed.POST("/credits/consume", oc.Consume)
	admin := v1.Group("/admin", middlewares.AdminToken(adminTestToken))
	admin.GET("/reconciliation", rc.Show)
	admin.POST("/reconciliation/repair", rc.Repair)

	return &fixture{db: db, router: r, orders: orders, credits: credits, hosted: hosted}
}

func (f *fixture) createOrder(t *testing.T, orderNo string, status order.Status) {
	t.Helper()
	require.NoError(t, f.orders.Create(context.Background(), &order.Order{
		OrderNo:  orderNo,
		UserID:   "user_1",
		Provider: "stripe",
		Amount:   999,
		Currency: "usd",
		Credits:  100,
		Status:   status,
	}))
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.credits.Balance(context.Background(), userID, time.Now().UTC())
	require.NoError(t, err)
	return b
}

func (f *fixture) status(t *testing.T, orderNo string) order.Status {
	t.Helper()
	o, err := f.orders.GetByOrderNo(context.Background(), orderNo)
	require.NoError(t, err)
	return o.Status
}

func bearer(t *testing.T, userID string) http.Header {
	t.Helper()
	token, err := auth.MintToken(jwtSecret, userID, userID+"@example.com", time.Now(), time.Hour)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h
}

func stripeEvent(t *testing.T, eventType stripego.EventType, object string) ([]byte, http.Header) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_1",
		"object":      "event",
		"type":        string(eventType),
		"api_version": stripego.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": json.RawMessage(object)},
	})
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(stripeSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	h := http.Header{}
	h.Set(stripe.SignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return payload, h
}

const completedSession = `{
	"id": "cs_test_1",
	"object": "checkout.session",
	"metadata": {"order_no": "ord_1"},
	"payment_status": "paid",
	"amount_total": 999,
	"currency": "usd",
	"payment_intent": "pi_1"
}`

func TestStripeWebhookCreditsOrderOnce(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "ord_1", order.StatusPending)

	body, h := stripeEvent(t, stripego.EventTypeCheckoutSessionCompleted, completedSession)
	w := f.do(t, http.MethodPost, "/v1/webhooks/stripe", body, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, order.StatusPaid, f.status(t, "ord_1"))
	assert.Equal(t, int64(100), f.balance(t, "user_1"))

	// 同一回调再投递一次
	w = f.do(t, http.MethodPost, "/v1/webhooks/stripe", body, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(100), f.balance(t, "user_1"))

	n, err := f.credits.CountByOrderNo(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "ord_1", order.StatusPending)

	body := []byte(`{"event":"payment.success","status":"SUCCESS","transaction_id":"tx_1","ref_order":"ord_1","amount":"9.99","currency":"USD"}`)
	h := http.Header{}
	h.Set(payblis.SignatureHeader, signature.HMACSHA256Hex([]byte("wrong"), body))

	w := f.do(t, http.MethodPost, "/v1/webhooks/payblis", body, h)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false}`, w.Body.String())
	assert.Equal(t, order.StatusPending, f.status(t, "ord_1"))
	assert.Equal(t, int64(0), f.balance(t, "user_1"))

	w = f.do(t, http.MethodPost, "/v1/webhooks/payblis", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 签名正确时正常入账
	h.Set(payblis.SignatureHeader, signature.HMACSHA256Hex([]byte(payblisSecret), body))
	w = f.do(t, http.MethodPost, "/v1/webhooks/payblis", body, h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusPaid, f.status(t, "ord_1"))
	assert.Equal(t, int64(100), f.balance(t, "user_1"))
}

func TestWebhookUnknownOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"event":"payment.success","status":"SUCCESS","transaction_id":"tx_9","ref_order":"ord_missing"}`)
	h := http.Header{}
	h.Set(payblis.SignatureHeader, signature.HMACSHA256Hex([]byte(payblisSecret), body))

	w := f.do(t, http.MethodPost, "/v1/webhooks/payblis", body, h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	n, err := f.credits.CountByOrderNo(context.Background(), "ord_missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestWebhookMalformedAndUnconfigured(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{not json`)
	h := http.Header{}
	h.Set(payblis.SignatureHeader, signature.HMACSHA256Hex([]byte(payblisSecret), body))
	w := f.do(t, http.MethodPost, "/v1/webhooks/payblis", body, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/webhooks/zhufufm", []byte(`{}`), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckoutEndpoint(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"product_id":"credits_100","product_name":"100 credits","amount":999,"currency":"usd","credits":100,"interval":"one-time"}`)

	w := f.do(t, http.MethodPost, "/v1/checkout/nowpayments", body, bearer(t, "user_1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res billing.CheckoutResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.OrderNo)
	assert.Equal(t, "https://pay.example.com/"+res.OrderNo, res.PaymentURL)
	assert.Equal(t, order.StatusPending, f.status(t, res.OrderNo))

	// 订单查询只对本人可见
	w = f.do(t, http.MethodGet, "/v1/orders/"+res.OrderNo, nil, bearer(t, "user_1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)
	w = f.do(t, http.MethodGet, "/v1/orders/"+res.OrderNo, nil, bearer(t, "user_2"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/orders", nil, bearer(t, "user_1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestCheckoutEndpointErrors(t *testing.T) {
	f := newFixture(t)
	valid := []byte(`{"product_id":"credits_100","amount":999,"currency":"usd","credits":100}`)

	w := f.do(t, http.MethodPost, "/v1/checkout/nowpayments", valid, http.Header{"Content-Type": {"application/json"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/v1/checkout/nowpayments", []byte(`{"amount":999,"currency":"usd"}`), bearer(t, "user_1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":-1`)

	w = f.do(t, http.MethodPost, "/v1/checkout/nowpayments", []byte(`{"product_id":"p","amount":50,"currency":"usd"}`), bearer(t, "user_1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/checkout/zhufufm", valid, bearer(t, "user_1"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.hosted.err = errors.New("timeout")
	w = f.do(t, http.MethodPost, "/v1/checkout/nowpayments", valid, bearer(t, "user_1"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "timeout")

	var created int64
	require.NoError(t, f.db.Model(&order.Order{}).Where("status = ?", order.StatusCreated).Count(&created).Error)
	assert.Equal(t, int64(1), created)
}

func TestCreditsEndpoints(t *testing.T) {
	f := newFixture(t)
	_, err := f.credits.Grant(context.Background(), "user_1", "ord_1", 100, nil)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/credits/balance", nil, bearer(t, "user_1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":100`)

	w = f.do(t, http.MethodPost, "/v1/credits/consume", []byte(`{"amount":30}`), bearer(t, "user_1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"balance":70`)

	w = f.do(t, http.MethodPost, "/v1/credits/consume", []byte(`{"amount":500}`), bearer(t, "user_1"))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = f.do(t, http.MethodPost, "/v1/credits/consume", []byte(`{"amount":-5}`), bearer(t, "user_1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/credits/transactions", nil, bearer(t, "user_1"))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}

func TestTransactionsLimitIsClamped(t *testing.T) {
	assert.Equal(t, 50, transactionsLimit(""))
	assert.Equal(t, 50, transactionsLimit("-1"))
	assert.Equal(t, 50, transactionsLimit("0"))
	assert.Equal(t, 50, transactionsLimit("abc"))
	assert.Equal(t, 10, transactionsLimit("10"))
	assert.Equal(t, 200, transactionsLimit("100000"))

	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.credits.Grant(context.Background(), "user_1", fmt.Sprintf("ord_%d", i), 10, nil)
		require.NoError(t, err)
	}

	var body struct {
		Data []map[string]interface{} `json:"data"`
	}
	w := f.do(t, http.MethodGet, "/v1/credits/transactions?limit=-1", nil, bearer(t, "user_1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 3)

	w = f.do(t, http.MethodGet, "/v1/credits/transactions?limit=2", nil, bearer(t, "user_1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}

func TestAdminReconciliation(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "ord_gap", order.StatusPaid)

	w := f.do(t, http.MethodGet, "/v1/admin/reconciliation", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	h := http.Header{"X-Admin-Token": {adminTestToken}}
	w = f.do(t, http.MethodGet, "/v1/admin/reconciliation", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"uncredited":["ord_gap"]`)

	w = f.do(t, http.MethodPost, "/v1/admin/reconciliation/repair", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"repaired":["ord_gap"]`)
	assert.Equal(t, int64(100), f.balance(t, "user_1"))
}
