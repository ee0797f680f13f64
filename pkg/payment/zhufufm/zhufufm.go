// Package zhufufm 支付FM 聚合收款（支付宝扫码）。
//
// 金额以元为单位、两位小数字符串传递；签名为参数按键名排序后拼接
// k=v&...&key=密钥 的大写 MD5，空值和 sign 字段不参与签名。
package zhufufm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/logger"
	"companion/pkg/payment/signature"
	"companion/pkg/payment/types"
	"companion/pkg/payment/utils"
)

const (
	StateSuccess = "SUCCESS"
	StateFail    = "FAIL"
)

// ZhuFuFmService 支付FM 支付服务
type ZhuFuFmService struct {
	client     *resty.Client
	gateway    string
	merchantID string
	secret     string
	notifyURL  string
	returnURL  string
	now        func() time.Time
}

// NewZhuFuFmService 创建支付FM 支付服务
func NewZhuFuFmService(cfg config.ZhuFuFmConfig) (*ZhuFuFmService, error) {
	if cfg.MerchantID == "" || cfg.Secret == "" || cfg.Gateway == "" {
		return nil, fmt.Errorf("%w: zhufufm merchant id, secret and gateway are required", types.ErrConfiguration)
	}

	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(0)

	return &ZhuFuFmService{
		client:     client,
		gateway:    strings.TrimRight(cfg.Gateway, "/"),
		merchantID: cfg.MerchantID,
		secret:     cfg.Secret,
		notifyURL:  cfg.NotifyURL,
		returnURL:  cfg.ReturnURL,
		now:        time.Now,
	}, nil
}

func (s *ZhuFuFmService) Name() types.Provider {
	return types.ProviderZhuFuFm
}

func (s *ZhuFuFmService) Method() order.PaymentMethod {
	return order.MethodAlipay
}

// Sign 计算参数签名
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
		b.WriteByte('&')
	}
	b.WriteString("key=")
	b.WriteString(secret)
	return signature.MD5Upper(b.String())
}

type createResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		PayURL  string `json:"pay_url"`
		TradeNo string `json:"trade_no"`
	} `json:"data"`
}

// ValidateCurrency 只接受人民币
func (s *ZhuFuFmService) ValidateCurrency(currency string) error {
	if utils.NormalizeCurrency(currency) != "cny" {
		return fmt.Errorf("%w: zhufufm only accepts cny, got %s", types.ErrUnsupportedCurrency, currency)
	}
	return nil
}

// CreatePaymentIntent 下单，返回支付宝扫码页地址
func (s *ZhuFuFmService) CreatePaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	if err := s.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}

	params := map[string]string{
		"mch_id":       s.merchantID,
		"out_trade_no": req.OrderNo,
		"amount":       utils.MinorToMajor(req.Amount),
		"subject":      req.ProductName,
		"notify_url":   s.notifyURL,
		"return_url":   utils.FirstNonEmpty(req.ReturnURL, s.returnURL),
		"pay_type":     "alipay",
		"timestamp":    strconv.FormatInt(s.now().Unix(), 10),
		"nonce":        utils.GenerateNonceStr(),
	}
	params["sign"] = Sign(params, s.secret)

	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(params).
		Post(s.gateway + "/api/order/create")
	if err != nil {
		return nil, fmt.Errorf("failed to call zhufufm create api: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("zhufufm create api returned status %d, body: %s", resp.StatusCode(), resp.String())
	}

	var result createResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal zhufufm response: %w", err)
	}
	if result.Code != 0 || result.Data.PayURL == "" {
		return nil, fmt.Errorf("zhufufm create order failed: code=%d msg=%s", result.Code, result.Msg)
	}

	logger.InfoString("ZhuFuFm", "Create", fmt.Sprintf("订单:%s 渠道单号:%s", req.OrderNo, result.Data.TradeNo))

	return &types.Intent{
		PaymentURL:        result.Data.PayURL,
		ProviderSessionID: result.Data.TradeNo,
	}, nil
}

// parseParams 回调可能是表单也可能是 JSON
func parseParams(body []byte) (map[string]string, error) {
	trimmed := bytes.TrimSpace(body)
	params := make(map[string]string)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			switch val := v.(type) {
			case nil:
			case string:
				params[k] = val
			case json.Number:
				params[k] = val.String()
			case bool:
				params[k] = strconv.FormatBool(val)
			default:
				return nil, fmt.Errorf("unsupported value for %s", k)
			}
		}
		return params, nil
	}

	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, err
	}
	for k := range values {
		params[k] = values.Get(k)
	}
	return params, nil
}

// VerifySignature 校验回调参数中的 sign
func (s *ZhuFuFmService) VerifySignature(body []byte, header http.Header) bool {
	params, err := parseParams(body)
	if err != nil {
		return false
	}
	sig := params["sign"]
	if sig == "" {
		return false
	}
	return signature.EqualHex(Sign(params, s.secret), sig)
}

// ParseWebhook 解析异步通知，state 只有 SUCCESS / FAIL
func (s *ZhuFuFmService) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*types.Notification, error) {
	if !s.VerifySignature(body, header) {
		return nil, types.ErrSignatureInvalid
	}
	params, err := parseParams(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}

	n := &types.Notification{
		Provider:              types.ProviderZhuFuFm,
		OrderNo:               params["out_trade_no"],
		ProviderSessionID:     params["trade_no"],
		ProviderTransactionID: params["trade_no"],
		RawStatus:             params["state"],
		Currency:              "cny",
		RawPayload:            body,
	}
	if n.OrderNo == "" && n.ProviderTransactionID == "" {
		return nil, fmt.Errorf("%w: missing order reference", types.ErrMalformedPayload)
	}
	if amount := params["amount"]; amount != "" {
		minor, err := utils.MajorToMinor(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
		}
		n.Amount = minor
	}

	switch strings.ToUpper(params["state"]) {
	case StateSuccess:
		n.Status = order.StatusPaid
		paidAt := s.now()
		if ts, err := strconv.ParseInt(params["pay_time"], 10, 64); err == nil && ts > 0 {
			paidAt = time.Unix(ts, 0)
		}
		n.PaidAt = &paidAt
	case StateFail:
		n.Status = order.StatusFailed
	default:
		n.Ignored = true
	}
	return n, nil
}

// Acknowledge 纯文本 success / fail
func (s *ZhuFuFmService) Acknowledge(ok bool) types.Ack {
	return types.TextAck(ok)
}
