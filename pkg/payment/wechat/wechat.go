package wechat

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/native"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"

	"companion/app/models/order"
	"companion/config"
	"companion/pkg/logger"
	"companion/pkg/payment/types"
	payutils "companion/pkg/payment/utils"
)

// 回调签名相关的请求头
var notifyHeaders = []string{
	"Wechatpay-Signature",
	"Wechatpay-Serial",
	"Wechatpay-Timestamp",
	"Wechatpay-Nonce",
}

// WechatPayService 微信支付 Native 扫码支付
type WechatPayService struct {
	client  *core.Client
	handler *notify.Handler
	appID   string
	mchID   string

	notifyURL string
}

// NewWechatPayService 创建微信支付服务
func NewWechatPayService(cfg config.WechatConfig) (*WechatPayService, error) {
	if cfg.AppID == "" || cfg.MchID == "" || cfg.SerialNo == "" || cfg.PrivateKey == "" || cfg.APIv3Key == "" {
		return nil, fmt.Errorf("%w: wechat app id, mch id, serial no, private key and api v3 key are required", types.ErrConfiguration)
	}

	// 1. 加载商户私钥
	mchPrivateKey, err := utils.LoadPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load merchant private key error: %w", err)
	}

	// 2. 创建客户端，同时注册平台证书自动下载
	opts := []core.ClientOption{
		option.WithWechatPayAutoAuthCipher(
			cfg.MchID,
			cfg.SerialNo,
			mchPrivateKey,
			cfg.APIv3Key,
		),
	}
	client, err := core.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create wechat pay client error: %w", err)
	}

	// 3. 回调处理器：平台证书验签 + APIv3 密钥解密
	certVisitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)
	handler, err := notify.NewRSANotifyHandler(cfg.APIv3Key, verifiers.NewSHA256WithRSAVerifier(certVisitor))
	if err != nil {
		return nil, fmt.Errorf("create wechat notify handler error: %w", err)
	}

	return &WechatPayService{
		client:    client,
		handler:   handler,
		appID:     cfg.AppID,
		mchID:     cfg.MchID,
		notifyURL: cfg.NotifyURL,
	}, nil
}

func (s *WechatPayService) Name() types.Provider {
	return types.ProviderWechat
}

func (s *WechatPayService) Method() order.PaymentMethod {
	return order.MethodWechat
}

// ValidateCurrency 只接受人民币
func (s *WechatPayService) ValidateCurrency(currency string) error {
	if payutils.NormalizeCurrency(currency) != "cny" {
		return fmt.Errorf("%w: wechat pay only accepts cny, got %s", types.ErrUnsupportedCurrency, currency)
	}
	return nil
}

// CreatePaymentIntent Native 下单，返回二维码链接
func (s *WechatPayService) CreatePaymentIntent(ctx context.Context, req *types.IntentRequest) (*types.Intent, error) {
	if err := s.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}

	svc := native.NativeApiService{Client: s.client}
	resp, result, err := svc.Prepay(ctx, native.PrepayRequest{
		Appid:       core.String(s.appID),
		Mchid:       core.String(s.mchID),
		Description: core.String(payutils.FirstNonEmpty(req.ProductName, req.ProductID, "credits")),
		OutTradeNo:  core.String(req.OrderNo),
		NotifyUrl:   core.String(s.notifyURL),
		Amount: &native.Amount{
			Total:    core.Int64(req.Amount),
			Currency: core.String("CNY"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create wechat payment error: %w", err)
	}
	if result != nil && result.Response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create wechat payment failed with status code: %d", result.Response.StatusCode)
	}
	if resp.CodeUrl == nil {
		return nil, fmt.Errorf("create wechat payment returned empty code_url")
	}

	logger.InfoString("WechatPay", "Prepay", fmt.Sprintf("订单:%s", req.OrderNo))

	return &types.Intent{
		PaymentURL: *resp.CodeUrl,
	}, nil
}

func hasNotifyHeaders(header http.Header) bool {
	for _, h := range notifyHeaders {
		if header.Get(h) == "" {
			return false
		}
	}
	return true
}

// decode 验签并解密回调资源
func (s *WechatPayService) decode(ctx context.Context, body []byte, header http.Header) (*payments.Transaction, error) {
	if s.handler == nil || !hasNotifyHeaders(header) {
		return nil, types.ErrSignatureInvalid
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()

	transaction := new(payments.Transaction)
	if _, err := s.handler.ParseNotifyRequest(ctx, req, transaction); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSignatureInvalid, err)
	}
	return transaction, nil
}

// VerifySignature 平台证书验签，验签与解密由 SDK 一并完成
func (s *WechatPayService) VerifySignature(body []byte, header http.Header) bool {
	_, err := s.decode(context.Background(), body, header)
	return err == nil
}

// ParseWebhook 解析支付结果通知
func (s *WechatPayService) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*types.Notification, error) {
	transaction, err := s.decode(ctx, body, header)
	if err != nil {
		return nil, err
	}
	return s.parseTransaction(transaction, body)
}

func (s *WechatPayService) parseTransaction(t *payments.Transaction, body []byte) (*types.Notification, error) {
	if t.Mchid != nil && *t.Mchid != s.mchID {
		return nil, fmt.Errorf("%w: mchid %s does not match", types.ErrSignatureInvalid, *t.Mchid)
	}

	n := &types.Notification{
		Provider:              types.ProviderWechat,
		OrderNo:               stringValue(t.OutTradeNo),
		ProviderTransactionID: stringValue(t.TransactionId),
		RawStatus:             stringValue(t.TradeState),
		RawPayload:            body,
	}
	if n.OrderNo == "" && n.ProviderTransactionID == "" {
		return nil, fmt.Errorf("%w: missing order reference", types.ErrMalformedPayload)
	}
	if t.Amount != nil {
		n.Amount = int64Value(t.Amount.Total)
		n.Currency = payutils.NormalizeCurrency(stringValue(t.Amount.Currency))
	}

	switch strings.ToUpper(n.RawStatus) {
	case "SUCCESS":
		n.Status = order.StatusPaid
		paidAt := time.Now()
		if ts, err := time.Parse(time.RFC3339, stringValue(t.SuccessTime)); err == nil {
			paidAt = ts
		}
		n.PaidAt = &paidAt
	case "CLOSED", "PAYERROR", "REVOKED":
		n.Status = order.StatusFailed
	case "USERPAYING":
		n.Status = order.StatusProcessing
	case "NOTPAY":
		n.Status = order.StatusPending
	default:
		// REFUND 等
		n.Ignored = true
	}
	return n, nil
}

// Acknowledge 微信支付要求 JSON 应答
func (s *WechatPayService) Acknowledge(ok bool) types.Ack {
	if ok {
		return types.Ack{
			StatusCode:  http.StatusOK,
			ContentType: "application/json; charset=utf-8",
			Body:        []byte(`{"code":"SUCCESS","message":"成功"}`),
		}
	}
	return types.Ack{
		StatusCode:  http.StatusOK,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(`{"code":"FAIL","message":"失败"}`),
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func int64Value(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
