// Package stripe Stripe 收款：托管 Checkout 页面与内嵌 PaymentIntent 两种方式
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/webhook"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/logger"
	"companion/pkg/payment/types"
	"companion/pkg/payment/utils"
)

// SignatureHeader Stripe 回调签名头
const SignatureHeader = "Stripe-Signature"

// MetadataOrderNo 写入 metadata 的订单号键
const MetadataOrderNo = "order_no"

// StripeService Stripe 支付服务。embedded 为 true 时走 PaymentIntent，
// 前端拿 client_secret 在页面内确认支付
type StripeService struct {
	webhookSecret string
	successURL    string
	cancelURL     string
	embedded      bool
}

// NewStripeService 创建 Stripe Checkout 支付服务
func NewStripeService(cfg config.StripeConfig) (*StripeService, error) {
	if err := initKey(cfg.SecretKey); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is required", types.ErrConfiguration)
	}
	return &StripeService{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// NewStripeEmbeddedService 创建 Stripe 内嵌支付服务
func NewStripeEmbeddedService(cfg config.StripeConfig) (*StripeService, error) {
	if err := initKey(cfg.SecretKey); err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(cfg.EmbeddedWebhookSecret)
	if secret == "" {
		return nil, fmt.Errorf("%w: stripe embedded webhook secret is required", types.ErrConfiguration)
	}
	return &StripeService{
		webhookSecret: secret,
		embedded:      true,
	}, nil
}

func initKey(secretKey string) error {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return fmt.Errorf("%w: stripe secret key is required", types.ErrConfiguration)
	}
	stripe.Key = key
	return nil
}

func (s *StripeService) Name() types.Provider {
	if s.embedded {
		return types.ProviderStripeEmbedded
	}
	return types.ProviderStripe
}

func (s *StripeService) Method() order.PaymentMethod {
	return order.MethodCard
}

func metadata(req *types.IntentRequest) map[string]string {
	return map[string]string{
		MetadataOrderNo: req.OrderNo,
		"user_id":       req.UserID,
		"product_id":    req.ProductID,
		"credits":       fmt.Sprintf("%d", req.Credits),
	}
}

// CreatePaymentIntent 创建 Checkout Session 或 PaymentIntent
func (s *StripeService) CreatePaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	if s.embedded {
		return s.createPaymentIntent(ctx, req)
	}
	return s.createCheckoutSession(ctx, req)
}

func (s *StripeService) createCheckoutSession(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderNo),
		SuccessURL:        stripe.String(utils.FirstNonEmpty(req.ReturnURL, s.successURL)),
		CancelURL:         stripe.String(utils.FirstNonEmpty(req.CancelURL, s.cancelURL)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(utils.NormalizeCurrency(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(utils.FirstNonEmpty(req.ProductName, req.ProductID, "credits")),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata(req),
		},
	}
	if req.UserEmail != "" {
		params.CustomerEmail = stripe.String(req.UserEmail)
	}
	for k, v := range metadata(req) {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session error: %w", err)
	}

	logger.InfoString("Stripe", "Checkout", fmt.Sprintf("订单:%s 会话:%s", req.OrderNo, sess.ID))

	return &types.Intent{
		PaymentURL:        sess.URL,
		ProviderSessionID: sess.ID,
	}, nil
}

func (s *StripeService) createPaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(utils.NormalizeCurrency(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String(utils.FirstNonEmpty(req.ProductName, req.ProductID, "credits")),
	}
	if req.UserEmail != "" {
		params.ReceiptEmail = stripe.String(req.UserEmail)
	}
	for k, v := range metadata(req) {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe payment intent error: %w", err)
	}

	logger.InfoString("Stripe", "PaymentIntent", fmt.Sprintf("订单:%s 支付意图:%s", req.OrderNo, pi.ID))

	return &types.Intent{
		ClientSecret:      pi.ClientSecret,
		ProviderSessionID: pi.ID,
	}, nil
}

// VerifySignature 交给 SDK 校验 Stripe-Signature
func (s *StripeService) VerifySignature(body []byte, header http.Header) bool {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return false
	}
	return webhook.ValidatePayload(body, sig, s.webhookSecret) == nil
}

// ParseWebhook 解析事件。与当前接入方式无关的事件标记为 Ignored
func (s *StripeService) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*types.Notification, error) {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return nil, types.ErrSignatureInvalid
	}
	event, err := webhook.ConstructEventWithOptions(body, sig, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSignatureInvalid, err)
	}

	n := &types.Notification{
		Provider:   s.Name(),
		RawStatus:  string(event.Type),
		RawPayload: body,
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		n.Ignored = true
		return n, nil
	}

	if s.embedded {
		err = s.fillFromPaymentIntent(n, &event)
	} else {
		err = s.fillFromCheckoutSession(n, &event)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *StripeService) fillFromCheckoutSession(n *types.Notification, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
	default:
		n.Ignored = true
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}

	n.OrderNo = utils.FirstNonEmpty(sess.Metadata[MetadataOrderNo], sess.ClientReferenceID)
	n.ProviderSessionID = sess.ID
	if sess.PaymentIntent != nil {
		n.ProviderTransactionID = sess.PaymentIntent.ID
	}
	n.Amount = sess.AmountTotal
	n.Currency = utils.NormalizeCurrency(string(sess.Currency))
	n.RawStatus = string(event.Type) + "/" + string(sess.PaymentStatus)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		switch sess.PaymentStatus {
		case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
			n.Status = order.StatusPaid
		default:
			// 异步支付方式，等待 async_payment_succeeded
			n.Status = order.StatusProcessing
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		n.Status = order.StatusPaid
	default:
		n.Status = order.StatusFailed
	}
	if n.Status == order.StatusPaid {
		paidAt := eventTime(event)
		n.PaidAt = &paidAt
	}
	return nil
}

func (s *StripeService) fillFromPaymentIntent(n *types.Notification, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		n.Status = order.StatusPaid
	case stripe.EventTypePaymentIntentProcessing:
		n.Status = order.StatusProcessing
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		n.Status = order.StatusFailed
	default:
		n.Ignored = true
		return nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}

	n.OrderNo = pi.Metadata[MetadataOrderNo]
	n.ProviderSessionID = pi.ID
	n.ProviderTransactionID = pi.ID
	n.Amount = pi.Amount
	if n.Status == order.StatusPaid && pi.AmountReceived > 0 {
		n.Amount = pi.AmountReceived
	}
	n.Currency = utils.NormalizeCurrency(string(pi.Currency))
	n.RawStatus = string(event.Type) + "/" + string(pi.Status)
	if n.Status == order.StatusPaid {
		paidAt := eventTime(event)
		n.PaidAt = &paidAt
	}
	return nil
}

func eventTime(event *stripe.Event) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0)
	}
	return time.Now()
}

func (s *StripeService) Acknowledge(ok bool) types.Ack {
	return types.JSONAck(ok)
}
