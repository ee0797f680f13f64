package factory

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"companion/config"
	"companion/pkg/logger"
	"companion/pkg/payment/alipay"
	"companion/pkg/payment/nowpayments"
	"companion/pkg/payment/payblis"
	"companion/pkg/payment/stripe"
	"companion/pkg/payment/types"
	"companion/pkg/payment/wechat"
	"companion/pkg/payment/zhufufm"
)

// NewPaymentService 创建支付服务
func NewPaymentService(provider types.Provider, cfg config.PaymentConfig) (types.Service, error) {
	switch provider {
	case types.ProviderStripe:
		return stripe.NewStripeService(cfg.Stripe)
	case types.ProviderStripeEmbedded:
		return stripe.NewStripeEmbeddedService(cfg.Stripe)
	case types.ProviderZhuFuFm:
		return zhufufm.NewZhuFuFmService(cfg.ZhuFuFm)
	case types.ProviderPayblis:
		return payblis.NewPayblisService(cfg.Payblis)
	case types.ProviderNOWPayments:
		return nowpayments.NewNOWPaymentsService(cfg.NOWPayments)
	case types.ProviderAlipay:
		return alipay.NewAlipayService(cfg.Alipay)
	case types.ProviderWechat:
		return wechat.NewWechatPayService(cfg.Wechat)
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}

// Registry 已启用的支付渠道
type Registry struct {
	mu       sync.RWMutex
	services map[types.Provider]types.Service
}

// NewRegistry 创建渠道注册表
func NewRegistry(services ...types.Service) *Registry {
	r := &Registry{services: make(map[types.Provider]types.Service)}
	for _, svc := range services {
		r.Register(svc)
	}
	return r
}

// NewRegistryFromConfig 按配置创建所有渠道，缺少凭证的渠道不启用
func NewRegistryFromConfig(cfg config.PaymentConfig) *Registry {
	r := NewRegistry()
	for _, provider := range types.AllProviders {
		svc, err := NewPaymentService(provider, cfg)
		if err != nil {
			if errors.Is(err, types.ErrConfiguration) {
				logger.Info("Payment", zap.String("provider", string(provider)), zap.String("status", "disabled"))
			} else {
				logger.Error("Payment", zap.String("provider", string(provider)), zap.Error(err))
			}
			continue
		}
		r.Register(svc)
		logger.Info("Payment", zap.String("provider", string(provider)), zap.String("status", "enabled"))
	}
	return r
}

// Register 注册渠道，同名覆盖
func (r *Registry) Register(svc types.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Name()] = svc
}

// Get 获取渠道，未启用时返回 ErrConfiguration
func (r *Registry) Get(provider types.Provider) (types.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrConfiguration, provider)
	}
	return svc, nil
}

// Providers 已启用的渠道，按 AllProviders 顺序
func (r *Registry) Providers() []types.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]types.Provider, 0, len(r.services))
	for _, p := range types.AllProviders {
		if _, ok := r.services[p]; ok {
			list = append(list, p)
		}
	}
	return list
}
