package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"companion/app/models/order"
)

// Provider 支付提供商类型
type Provider string

const (
	ProviderStripe         Provider = "stripe"
	ProviderStripeEmbedded Provider = "stripe-embedded"
	ProviderZhuFuFm        Provider = "zhufufm"
	ProviderPayblis        Provider = "payblis"
	ProviderNOWPayments    Provider = "nowpayments"
	ProviderAlipay         Provider = "alipay"
	ProviderWechat         Provider = "wechat"
)

// AllProviders 所有支持的支付渠道
var AllProviders = []Provider{
	ProviderStripe,
	ProviderStripeEmbedded,
	ProviderZhuFuFm,
	ProviderPayblis,
	ProviderNOWPayments,
	ProviderAlipay,
	ProviderWechat,
}

var (
	// ErrSignatureInvalid 回调签名缺失或不匹配
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrConfiguration 渠道凭证缺失
	ErrConfiguration = errors.New("payment provider not configured")
	// ErrMalformedPayload 回调内容无法解析
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrUnsupportedCurrency 渠道不支持该币种
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// IntentRequest 创建支付请求参数
type IntentRequest struct {
	OrderNo     string
	UserID      string
	UserEmail   string
	Amount      int64  // 最小货币单位
	Currency    string // 小写 ISO 4217
	Credits     int64
	ProductID   string
	ProductName string
	Interval    string // month | year | 空
	ReturnURL   string
	CancelURL   string
}

// Intent 支付渠道返回的支付凭证
type Intent struct {
	PaymentURL        string `json:"payment_url,omitempty"`
	ClientSecret      string `json:"client_secret,omitempty"`
	ProviderSessionID string `json:"-"`
}

// Notification 验签后的标准化回调
type Notification struct {
	Provider              Provider
	OrderNo               string
	ProviderSessionID     string
	ProviderTransactionID string
	RawStatus             string
	Status                order.Status
	Ignored               bool   // 与订单状态无关的事件
	Amount                int64  // 最小货币单位，0 表示回调未携带
	Currency              string // 小写，空表示回调未携带
	PaidAt                *time.Time
	RawPayload            []byte
}

// Ack 回调应答，内容由支付渠道规定
type Ack struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Service 支付渠道接口
type Service interface {
	Name() Provider
	Method() order.PaymentMethod
	CreatePaymentIntent(ctx context.Context, req *IntentRequest) (*Intent, error)
	VerifySignature(body []byte, header http.Header) bool
	ParseWebhook(ctx context.Context, body []byte, header http.Header) (*Notification, error)
	Acknowledge(ok bool) Ack
}

// CurrencyValidator 只接受部分币种的渠道实现，创建订单前检查
type CurrencyValidator interface {
	ValidateCurrency(currency string) error
}

// JSONAck 通用 JSON 应答 {"success":true}
func JSONAck(ok bool) Ack {
	if ok {
		return Ack{StatusCode: http.StatusOK, ContentType: "application/json; charset=utf-8", Body: []byte(`{"success":true}`)}
	}
	return Ack{StatusCode: http.StatusOK, ContentType: "application/json; charset=utf-8", Body: []byte(`{"success":false}`)}
}

// TextAck 纯文本应答 success / fail
func TextAck(ok bool) Ack {
	body := "fail"
	if ok {
		body = "success"
	}
	return Ack{StatusCode: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: []byte(body)}
}
