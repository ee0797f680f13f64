// Package nowpayments 加密货币收款渠道 NOWPayments
package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/logger"
	"companion/pkg/payment/signature"
	"companion/pkg/payment/types"
	"companion/pkg/payment/utils"
)

// SignatureHeader IPN 签名头
const SignatureHeader = "X-Nowpayments-Sig"

// statusMap 渠道状态 -> 订单状态
var statusMap = map[string]order.Status{
	"waiting":        order.StatusPending,
	"confirming":     order.StatusProcessing,
	"confirmed":      order.StatusProcessing,
	"sending":        order.StatusProcessing,
	"partially_paid": order.StatusPartiallyPaid,
	"finished":       order.StatusPaid,
	"failed":         order.StatusFailed,
	"refunded":       order.StatusFailed,
	"expired":        order.StatusFailed,
}

// MapStatus 映射 payment_status，未知状态返回 false
func MapStatus(raw string) (order.Status, bool) {
	s, ok := statusMap[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// NOWPaymentsService NOWPayments 支付服务
type NOWPaymentsService struct {
	client     *resty.Client
	apiURL     string
	apiKey     string
	ipnSecret  string
	ipnURL     string
	successURL string
	cancelURL  string
	now        func() time.Time
}

// NewNOWPaymentsService 创建 NOWPayments 支付服务
func NewNOWPaymentsService(cfg config.NOWPaymentsConfig) (*NOWPaymentsService, error) {
	if cfg.APIKey == "" || cfg.IPNSecret == "" || cfg.APIURL == "" {
		return nil, fmt.Errorf("%w: nowpayments api key, ipn secret and api url are required", types.ErrConfiguration)
	}

	// 创建发票不重试，避免重复下单
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(0)

	return &NOWPaymentsService{
		client:     client,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		ipnSecret:  cfg.IPNSecret,
		ipnURL:     cfg.IPNURL,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		now:        time.Now,
	}, nil
}

func (s *NOWPaymentsService) Name() types.Provider {
	return types.ProviderNOWPayments
}

func (s *NOWPaymentsService) Method() order.PaymentMethod {
	return order.MethodCrypto
}

type invoiceRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description"`
	IPNCallbackURL   string      `json:"ipn_callback_url,omitempty"`
	SuccessURL       string      `json:"success_url,omitempty"`
	CancelURL        string      `json:"cancel_url,omitempty"`
}

type invoiceResponse struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
}

// CreatePaymentIntent 创建发票，返回发票页地址
func (s *NOWPaymentsService) CreatePaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	reqBody := invoiceRequest{
		PriceAmount:      json.Number(utils.MinorToMajor(req.Amount)),
		PriceCurrency:    utils.NormalizeCurrency(req.Currency),
		OrderID:          req.OrderNo,
		OrderDescription: req.ProductName,
		IPNCallbackURL:   s.ipnURL,
		SuccessURL:       utils.FirstNonEmpty(req.ReturnURL, s.successURL),
		CancelURL:        utils.FirstNonEmpty(req.CancelURL, s.cancelURL),
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", s.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(s.apiURL + "/invoice")
	if err != nil {
		return nil, fmt.Errorf("failed to call nowpayments invoice api: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("nowpayments invoice api returned status %d, body: %s", resp.StatusCode(), resp.String())
	}

	var invoice invoiceResponse
	if err := json.Unmarshal(resp.Body(), &invoice); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nowpayments invoice: %w", err)
	}
	if invoice.InvoiceURL == "" {
		return nil, fmt.Errorf("nowpayments invoice response missing invoice_url: %s", resp.String())
	}

	logger.InfoString("NOWPayments", "Invoice", fmt.Sprintf("订单:%s 发票:%s", req.OrderNo, invoice.ID.String()))

	return &types.Intent{
		PaymentURL:        invoice.InvoiceURL,
		ProviderSessionID: invoice.ID.String(),
	}, nil
}

// SortedJSON 按键名递归排序后输出紧凑 JSON，数组元素顺序不变。
// 数字按 JavaScript 的 Number 输出规则重写，10.00 与 10 得到相同原文
func SortedJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	v, err := normalizeNumbers(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json 输出 map 时按键排序，嵌套对象同样适用
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func normalizeNumbers(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			n, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
	case []interface{}:
		for i, item := range t {
			n, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
	case json.Number:
		return jsNumber(t)
	}
	return v, nil
}

// jsNumber 与 Number.prototype.toString 一致：
// [1e-6, 1e21) 内用十进制，其余用指数形式且指数不补零
func jsNumber(n json.Number) (json.Number, error) {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q: %w", n.String(), err)
	}
	if f == 0 {
		return "0", nil
	}
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return json.Number(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	return json.Number(mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")), nil
}

// Sign 计算 IPN 签名
func Sign(secret string, body []byte) (string, error) {
	sorted, err := SortedJSON(body)
	if err != nil {
		return "", err
	}
	return signature.HMACSHA512Hex([]byte(secret), sorted), nil
}

// VerifySignature 校验 x-nowpayments-sig
func (s *NOWPaymentsService) VerifySignature(body []byte, header http.Header) bool {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return false
	}
	expected, err := Sign(s.ipnSecret, body)
	if err != nil {
		return false
	}
	return signature.EqualHex(expected, sig)
}

type ipnPayload struct {
	PaymentID     json.Number     `json:"payment_id"`
	InvoiceID     json.Number     `json:"invoice_id"`
	OrderID       string          `json:"order_id"`
	PaymentStatus string          `json:"payment_status"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	PayCurrency   string          `json:"pay_currency"`
}

// ParseWebhook 解析 IPN
func (s *NOWPaymentsService) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*types.Notification, error) {
	if !s.VerifySignature(body, header) {
		return nil, types.ErrSignatureInvalid
	}

	var p ipnPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}

	n := &types.Notification{
		Provider:              types.ProviderNOWPayments,
		OrderNo:               p.OrderID,
		ProviderSessionID:     p.InvoiceID.String(),
		ProviderTransactionID: p.PaymentID.String(),
		RawStatus:             p.PaymentStatus,
		Currency:              utils.NormalizeCurrency(p.PriceCurrency),
		RawPayload:            body,
	}
	if n.OrderNo == "" && n.ProviderSessionID == "" && n.ProviderTransactionID == "" {
		return nil, fmt.Errorf("%w: missing order reference", types.ErrMalformedPayload)
	}

	if !p.PriceAmount.IsZero() {
		amount, err := utils.DecimalToMinor(p.PriceAmount.Round(2))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
		}
		n.Amount = amount
	}

	status, ok := MapStatus(p.PaymentStatus)
	if !ok {
		n.Ignored = true
		return n, nil
	}
	n.Status = status
	if status == order.StatusPaid {
		paidAt := s.now()
		n.PaidAt = &paidAt
	}
	return n, nil
}

func (s *NOWPaymentsService) Acknowledge(ok bool) types.Ack {
	return types.JSONAck(ok)
}
