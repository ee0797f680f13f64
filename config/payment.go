package config

import (
	"companion/pkg/config"
)

func init() {
	config.Add("payment", func() map[string]interface{} {
		return map[string]interface{}{
			// 支付成功、取消后的前端跳转地址
			"success_url": config.Env("PAYMENT_SUCCESS_URL", "http://localhost:3000/pricing?status=success"),
			"cancel_url":  config.Env("PAYMENT_CANCEL_URL", "http://localhost:3000/pricing?status=cancel"),

			// 商品目录（JSON 数组），为空时信任前端提交的价格
			"catalog": config.Env("PAYMENT_CATALOG", ""),

			"stripe": map[string]interface{}{
				"secret_key":     config.Env("STRIPE_SECRET_KEY", ""),
				"webhook_secret": config.Env("STRIPE_WEBHOOK_SECRET", ""),
				// 内嵌支付使用独立的 webhook endpoint，未设置时沿用 webhook_secret
				"embedded_webhook_secret": config.Env("STRIPE_EMBEDDED_WEBHOOK_SECRET", ""),
			},

			"zhufufm": map[string]interface{}{
				"gateway":     config.Env("ZHUFUFM_GATEWAY", "https://api.zhufu.fm"),
				"merchant_id": config.Env("ZHUFUFM_MERCHANT_ID", ""),
				"secret":      config.Env("ZHUFUFM_SECRET", ""),
				"notify_url":  config.Env("ZHUFUFM_NOTIFY_URL", ""),
			},

			"payblis": map[string]interface{}{
				"gateway":        config.Env("PAYBLIS_GATEWAY", "https://pay.payblis.com/api/payment_gateway.php"),
				"merchant_key":   config.Env("PAYBLIS_MERCHANT_KEY", ""),
				"secret_key":     config.Env("PAYBLIS_SECRET_KEY", ""),
				"webhook_secret": config.Env("PAYBLIS_WEBHOOK_SECRET", ""),
				"ipn_url":        config.Env("PAYBLIS_IPN_URL", ""),
				"lang":           config.Env("PAYBLIS_LANG", "en"),
			},

			"nowpayments": map[string]interface{}{
				"api_url":    config.Env("NOWPAYMENTS_API_URL", "https://api.nowpayments.io/v1"),
				"api_key":    config.Env("NOWPAYMENTS_API_KEY", ""),
				"ipn_secret": config.Env("NOWPAYMENTS_IPN_SECRET", ""),
				"ipn_url":    config.Env("NOWPAYMENTS_IPN_URL", ""),
			},

			"alipay": map[string]interface{}{
				"app_id":        config.Env("ALIPAY_APP_ID", ""),
				"private_key":   config.Env("ALIPAY_PRIVATE_KEY", ""),
				"public_key":    config.Env("ALIPAY_PUBLIC_KEY", ""),
				"notify_url":    config.Env("ALIPAY_NOTIFY_URL", ""),
				"is_production": config.Env("ALIPAY_IS_PRODUCTION", false),
			},

			"wechat": map[string]interface{}{
				"app_id":      config.Env("WECHAT_APP_ID", ""),
				"mch_id":      config.Env("WECHAT_MCH_ID", ""),
				"serial_no":   config.Env("WECHAT_SERIAL_NO", ""),
				"private_key": config.Env("WECHAT_PRIVATE_KEY", ""),
				"api_v3_key":  config.Env("WECHAT_API_V3_KEY", ""),
				"notify_url":  config.Env("WECHAT_NOTIFY_URL", ""),
			},
		}
	})
}

// PaymentConfig 支付配置
type PaymentConfig struct {
	SuccessURL  string
	CancelURL   string
	Catalog     string
	Stripe      StripeConfig
	ZhuFuFm     ZhuFuFmConfig
	Payblis     PayblisConfig
	NOWPayments NOWPaymentsConfig
	Wechat      WechatConfig
	Alipay      AlipayConfig
}

// StripeConfig Stripe 配置
type StripeConfig struct {
	SecretKey             string
	WebhookSecret         string
	EmbeddedWebhookSecret string
	SuccessURL            string
	CancelURL             string
}

// ZhuFuFmConfig 支付FM（支付宝扫码聚合）配置
type ZhuFuFmConfig struct {
	Gateway    string
	MerchantID string
	Secret     string
	NotifyURL  string
	ReturnURL  string
}

// PayblisConfig Payblis 银行卡支付配置
type PayblisConfig struct {
	Gateway       string
	MerchantKey   string
	SecretKey     string
	WebhookSecret string
	IPNURL        string
	Lang          string
	SuccessURL    string
	CancelURL     string
}

// NOWPaymentsConfig NOWPayments 加密货币支付配置
type NOWPaymentsConfig struct {
	APIURL     string
	APIKey     string
	IPNSecret  string
	IPNURL     string
	SuccessURL string
	CancelURL  string
}

// WechatConfig 微信支付配置
type WechatConfig struct {
	AppID      string
	MchID      string
	SerialNo   string
	PrivateKey string
	APIv3Key   string
	NotifyURL  string
}

// AlipayConfig 支付宝配置
type AlipayConfig struct {
	AppID        string
	PrivateKey   string
	PublicKey    string
	NotifyURL    string
	ReturnURL    string
	IsProduction bool
}

// LoadPaymentConfig 从已加载的配置中组装支付配置
func LoadPaymentConfig() PaymentConfig {
	successURL := config.GetString("payment.success_url")
	cancelURL := config.GetString("payment.cancel_url")

	embeddedSecret := config.GetString("payment.stripe.embedded_webhook_secret")
	if embeddedSecret == "" {
		embeddedSecret = config.GetString("payment.stripe.webhook_secret")
	}

	return PaymentConfig{
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Catalog:    config.GetString("payment.catalog"),
		Stripe: StripeConfig{
			SecretKey:             config.GetString("payment.stripe.secret_key"),
			WebhookSecret:         config.GetString("payment.stripe.webhook_secret"),
			EmbeddedWebhookSecret: embeddedSecret,
			SuccessURL:            successURL,
			CancelURL:             cancelURL,
		},
		ZhuFuFm: ZhuFuFmConfig{
			Gateway:    config.GetString("payment.zhufufm.gateway"),
			MerchantID: config.GetString("payment.zhufufm.merchant_id"),
			Secret:     config.GetString("payment.zhufufm.secret"),
			NotifyURL:  config.GetString("payment.zhufufm.notify_url"),
			ReturnURL:  successURL,
		},
		Payblis: PayblisConfig{
			Gateway:       config.GetString("payment.payblis.gateway"),
			MerchantKey:   config.GetString("payment.payblis.merchant_key"),
			SecretKey:     config.GetString("payment.payblis.secret_key"),
			WebhookSecret: config.GetString("payment.payblis.webhook_secret"),
			IPNURL:        config.GetString("payment.payblis.ipn_url"),
			Lang:          config.GetString("payment.payblis.lang"),
			SuccessURL:    successURL,
			CancelURL:     cancelURL,
		},
		NOWPayments: NOWPaymentsConfig{
			APIURL:     config.GetString("payment.nowpayments.api_url"),
			APIKey:     config.GetString("payment.nowpayments.api_key"),
			IPNSecret:  config.GetString("payment.nowpayments.ipn_secret"),
			IPNURL:     config.GetString("payment.nowpayments.ipn_url"),
			SuccessURL: successURL,
			CancelURL:  cancelURL,
		},
		Alipay: AlipayConfig{
			AppID:        config.GetString("payment.alipay.app_id"),
			PrivateKey:   config.GetString("payment.alipay.private_key"),
			PublicKey:    config.GetString("payment.alipay.public_key"),
			NotifyURL:    config.GetString("payment.alipay.notify_url"),
			ReturnURL:    successURL,
			IsProduction: config.GetBool("payment.alipay.is_production"),
		},
		Wechat: WechatConfig{
			AppID:      config.GetString("payment.wechat.app_id"),
			MchID:      config.GetString("payment.wechat.mch_id"),
			SerialNo:   config.GetString("payment.wechat.serial_no"),
			PrivateKey: config.GetString("payment.wechat.private_key"),
			APIv3Key:   config.GetString("payment.wechat.api_v3_key"),
			NotifyURL:  config.GetString("payment.wechat.notify_url"),
		},
	}
}
