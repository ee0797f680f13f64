package alipay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smartwalle/alipay/v3"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/payment/types"
	"companion/pkg/payment/utils"
)

// 交易状态
const (
	TradeStatusWaitBuyerPay = "WAIT_BUYER_PAY"
	TradeStatusClosed       = "TRADE_CLOSED"
	TradeStatusSuccess      = "TRADE_SUCCESS"
	TradeStatusFinished     = "TRADE_FINISHED"
)

// AlipayService 支付宝电脑网站支付
type AlipayService struct {
	client    *alipay.Client
	appID     string
	notifyURL string
	returnURL string
}

// NewAlipayService 创建支付宝支付服务
func NewAlipayService(cfg config.AlipayConfig) (*AlipayService, error) {
	if cfg.AppID == "" || cfg.PrivateKey == "" || cfg.PublicKey == "" {
		return nil, fmt.Errorf("%w: alipay app id, private key and public key are required", types.ErrConfiguration)
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction)
	if err != nil {
		return nil, fmt.Errorf("create alipay client error: %w", err)
	}

	if err := client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, fmt.Errorf("load alipay public key error: %w", err)
	}

	return &AlipayService{
		client:    client,
		appID:     cfg.AppID,
		notifyURL: cfg.NotifyURL,
		returnURL: cfg.ReturnURL,
	}, nil
}

func (s *AlipayService) Name() types.Provider {
	return types.ProviderAlipay
}

func (s *AlipayService) Method() order.PaymentMethod {
	return order.MethodAlipay
}

// ValidateCurrency 只接受人民币
func (s *AlipayService) ValidateCurrency(currency string) error {
	if utils.NormalizeCurrency(currency) != "cny" {
		return fmt.Errorf("%w: alipay only accepts cny, got %s", types.ErrUnsupportedCurrency, currency)
	}
	return nil
}

// CreatePaymentIntent 生成支付宝收银台地址
func (s *AlipayService) CreatePaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	if err := s.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}

	trade := alipay.TradePagePay{}
	trade.NotifyURL = s.notifyURL
	trade.ReturnURL = utils.FirstNonEmpty(req.ReturnURL, s.returnURL)
	trade.Subject = utils.FirstNonEmpty(req.ProductName, req.ProductID, "credits")
	trade.OutTradeNo = req.OrderNo
	trade.TotalAmount = utils.MinorToMajor(req.Amount)
	trade.ProductCode = "FAST_INSTANT_TRADE_PAY"

	payURL, err := s.client.TradePagePay(trade)
	if err != nil {
		return nil, fmt.Errorf("create alipay payment error: %w", err)
	}

	return &types.Intent{
		PaymentURL: payURL.String(),
	}, nil
}

// VerifySignature 异步通知为表单，交给 SDK 用支付宝公钥验签
func (s *AlipayService) VerifySignature(body []byte, header http.Header) bool {
	values, err := url.ParseQuery(string(body))
	if err != nil || values.Get("sign") == "" {
		return false
	}
	if s.client == nil {
		return false
	}
	return s.client.VerifySign(values) == nil
}

// ParseWebhook 解析异步通知
func (s *AlipayService) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*types.Notification, error) {
	if !s.VerifySignature(body, header) {
		return nil, types.ErrSignatureInvalid
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	return s.parseNotification(values, body)
}

func (s *AlipayService) parseNotification(values url.Values, body []byte) (*types.Notification, error) {
	if appID := values.Get("app_id"); appID != "" && appID != s.appID {
		return nil, fmt.Errorf("%w: app_id %s does not match", types.ErrSignatureInvalid, appID)
	}

	n := &types.Notification{
		Provider:              types.ProviderAlipay,
		OrderNo:               values.Get("out_trade_no"),
		ProviderTransactionID: values.Get("trade_no"),
		RawStatus:             values.Get("trade_status"),
		Currency:              "cny",
		RawPayload:            body,
	}
	if n.OrderNo == "" && n.ProviderTransactionID == "" {
		return nil, fmt.Errorf("%w: missing order reference", types.ErrMalformedPayload)
	}
	if total := values.Get("total_amount"); total != "" {
		amount, err := utils.MajorToMinor(total)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
		}
		n.Amount = amount
	}

	switch strings.ToUpper(n.RawStatus) {
	case TradeStatusSuccess, TradeStatusFinished:
		n.Status = order.StatusPaid
		paidAt := time.Now()
		// gmt_payment 为北京时间
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", values.Get("gmt_payment"), time.FixedZone("CST", 8*3600)); err == nil {
			paidAt = t
		}
		n.PaidAt = &paidAt
	case TradeStatusClosed:
		n.Status = order.StatusFailed
	case TradeStatusWaitBuyerPay:
		n.Status = order.StatusPending
	default:
		n.Ignored = true
	}
	return n, nil
}

// Acknowledge 支付宝要求返回纯文本 success
func (s *AlipayService) Acknowledge(ok bool) types.Ack {
	return types.TextAck(ok)
}
