// Package payblis 银行卡收单渠道 Payblis。
//
// 下单不走 API：把参数 PHP 序列化后 base64 编码，作为 token 拼到网关地址上，
// 用户直接跳转到网关页面完成支付。
package payblis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/payment/phpserialize"
	"companion/pkg/payment/signature"
	"companion/pkg/payment/types"
	"companion/pkg/payment/utils"
)

// SignatureHeader 回调签名头
const SignatureHeader = "X-Payblis-Signature"

const (
	EventSuccess  = "payment.success"
	EventFailed   = "payment.failed"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// PayblisService Payblis 支付服务
type PayblisService struct {
	gateway       string
	merchantKey   string
	secretKey     string
	webhookSecret string
	ipnURL        string
	lang          string
	successURL    string
	cancelURL     string
	now           func() time.Time
}

// NewPayblisService 创建 Payblis 支付服务
func NewPayblisService(cfg config.PayblisConfig) (*PayblisService, error) {
	if cfg.MerchantKey == "" || cfg.SecretKey == "" || cfg.WebhookSecret == "" || cfg.Gateway == "" {
		return nil, fmt.Errorf("%w: payblis merchant key, secret key, webhook secret and gateway are required", types.ErrConfiguration)
	}
	lang := cfg.Lang
	if lang == "" {
		lang = "en"
	}
	return &PayblisService{
		gateway:       cfg.Gateway,
		merchantKey:   cfg.MerchantKey,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		ipnURL:        cfg.IPNURL,
		lang:          lang,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		now:           time.Now,
	}, nil
}

func (s *PayblisService) Name() types.Provider {
	return types.ProviderPayblis
}

func (s *PayblisService) Method() order.PaymentMethod {
	return order.MethodCard
}

// CreatePaymentIntent 生成网关跳转地址
func (s *PayblisService) CreatePaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	token, err := s.BuildToken(req)
	if err != nil {
		return nil, err
	}
	sep := "?"
	if strings.Contains(s.gateway, "?") {
		sep = "&"
	}
	return &types.Intent{
		PaymentURL: s.gateway + sep + "token=" + url.QueryEscape(token),
	}, nil
}

// BuildToken 序列化下单参数。字段顺序即网关要求的顺序，不能调整
func (s *PayblisService) BuildToken(req *types.IntentRequest) (string, error) {
	successURL := utils.FirstNonEmpty(req.ReturnURL, s.successURL)
	cancelURL := utils.FirstNonEmpty(req.CancelURL, s.cancelURL)
	amount := utils.MinorToMajor(req.Amount)
	currency := strings.ToUpper(req.Currency)

	payload := phpserialize.Array{
		{Key: "MerchantKey", Value: s.merchantKey},
		{Key: "amount", Value: amount},
		{Key: "product_name", Value: req.ProductName},
		{Key: "RefOrder", Value: req.OrderNo},
		{Key: "Customer_Email", Value: req.UserEmail},
		{Key: "currency", Value: currency},
		{Key: "lang", Value: s.lang},
		{Key: "urlOK", Value: successURL},
		{Key: "urlKO", Value: cancelURL},
		{Key: "ipnURL", Value: s.ipnURL},
		{Key: "timestamp", Value: s.now().Unix()},
	}
	// 签名覆盖前面所有字段的序列化结果
	unsigned, err := phpserialize.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize payblis payload: %w", err)
	}
	payload = append(payload, phpserialize.KeyValue{
		Key:   "signature",
		Value: signature.HMACSHA256Hex([]byte(s.secretKey), unsigned),
	})

	data, err := phpserialize.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize payblis payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// VerifySignature 原始请求体的 HMAC-SHA256
func (s *PayblisService) VerifySignature(body []byte, header http.Header) bool {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return false
	}
	return signature.EqualHex(signature.HMACSHA256Hex([]byte(s.webhookSecret), body), sig)
}

type webhookPayload struct {
	Event         string          `json:"event"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	RefOrder      string          `json:"ref_order"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Timestamp     int64           `json:"timestamp"`
}

// ParseWebhook 解析回调，事件由 {event, status} 共同决定
func (s *PayblisService) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*types.Notification, error) {
	if !s.VerifySignature(body, header) {
		return nil, types.ErrSignatureInvalid
	}

	var p webhookPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}

	n := &types.Notification{
		Provider:              types.ProviderPayblis,
		OrderNo:               utils.FirstNonEmpty(p.RefOrder, p.OrderID),
		ProviderSessionID:     p.TransactionID,
		ProviderTransactionID: p.TransactionID,
		RawStatus:             p.Event + "/" + p.Status,
		Currency:              utils.NormalizeCurrency(p.Currency),
		RawPayload:            body,
	}
	if !p.Amount.IsZero() {
		amount, err := utils.DecimalToMinor(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
		}
		n.Amount = amount
	}

	switch {
	case p.Event == EventSuccess && strings.EqualFold(p.Status, StatusSuccess):
		n.Status = order.StatusPaid
		paidAt := s.now()
		if p.Timestamp > 0 {
			paidAt = time.Unix(p.Timestamp, 0)
		}
		n.PaidAt = &paidAt
	case p.Event == EventFailed && strings.EqualFold(p.Status, StatusFailed):
		n.Status = order.StatusFailed
	default:
		n.Ignored = true
	}

	if n.OrderNo == "" && n.ProviderTransactionID == "" && !n.Ignored {
		return nil, fmt.Errorf("%w: missing order reference", types.ErrMalformedPayload)
	}
	return n, nil
}

func (s *PayblisService) Acknowledge(ok bool) types.Ack {
	return types.JSONAck(ok)
}
