package billing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"companion/app/models/order"
	"companion/app/repositories"
	"companion/pkg/logger"
	"companion/pkg/metrics"
	"companion/pkg/payment/types"
	"companion/pkg/payment/utils"
)

const (
	// MinAmount 最小下单金额（最小货币单位）
	MinAmount int64 = 100
	// MaxAmount 最大下单金额（最小货币单位）
	MaxAmount int64 = 100000000
	// SubscriptionGrace 订阅权益额外保留时间，容忍续费回调延迟
	SubscriptionGrace = 24 * time.Hour
)

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

// ProviderResolver 按名称获取已启用的支付渠道
type ProviderResolver interface {
	Get(provider types.Provider) (types.Service, error)
}

// CheckoutRequest 下单参数，用户身份由认证中间件给出
type CheckoutRequest struct {
	Provider    types.Provider
	UserID      string
	UserEmail   string
	ProductID   string
	ProductName string
	Amount      int64
	Currency    string
	Credits     int64
	Interval    string
	ValidMonths int
	ReturnURL   string
	CancelURL   string
}

// CheckoutResult 下单结果，payment_url 与 client_secret 二选一
type CheckoutResult struct {
	OrderNo      string `json:"order_no"`
	PaymentURL   string `json:"payment_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// CheckoutService 创建订单并向支付渠道申请支付凭证
type CheckoutService struct {
	providers ProviderResolver
	orders    *repositories.OrderRepository
	users     *repositories.UserRepository
	catalog   *Catalog
	metrics   *metrics.PaymentMetrics

	now        func() time.Time
	newOrderNo func() string
}

// NewCheckoutService 创建下单服务
func NewCheckoutService(providers ProviderResolver, orders *repositories.OrderRepository, users *repositories.UserRepository, catalog *Catalog, m *metrics.PaymentMetrics) *CheckoutService {
	return &CheckoutService{
		providers:  providers,
		orders:     orders,
		users:      users,
		catalog:    catalog,
		metrics:    m,
		now:        time.Now,
		newOrderNo: utils.GenerateOrderNo,
	}
}

// Checkout 下单。参数错误、渠道未配置时不会写入任何订单；
// 渠道调用失败时订单停留在 created，可直接丢弃
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	provider := string(req.Provider)

	plan, err := normalizeCheckout(req)
	if err != nil {
		s.metrics.IncCheckout(provider, "invalid")
		return nil, err
	}

	svc, err := s.providers.Get(req.Provider)
	if err != nil {
		s.metrics.IncCheckout(provider, "unconfigured")
		logger.Error("Checkout", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}
	if cv, ok := svc.(types.CurrencyValidator); ok {
		if err := cv.ValidateCurrency(plan.currency); err != nil {
			s.metrics.IncCheckout(provider, "invalid")
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if err := s.catalog.Check(req); err != nil {
		s.metrics.IncCheckout(provider, "invalid")
		return nil, err
	}

	if err := s.users.Ensure(ctx, req.UserID, req.UserEmail); err != nil {
		s.metrics.IncCheckout(provider, "error")
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	o := &order.Order{
		OrderNo:       s.newOrderNo(),
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		Provider:      provider,
		PaymentMethod: svc.Method(),
		Amount:        req.Amount,
		Currency:      plan.currency,
		Credits:       req.Credits,
		Status:        order.StatusCreated,
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		SubInterval:   plan.interval,
		ValidMonths:   plan.validMonths,
		ExpiredAt:     plan.expiredAt(s.now()),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		s.metrics.IncCheckout(provider, "error")
		return nil, fmt.Errorf("create order: %w", err)
	}

	intentReq := &types.IntentRequest{
		OrderNo:     o.OrderNo,
		UserID:      o.UserID,
		UserEmail:   o.UserEmail,
		Amount:      o.Amount,
		Currency:    o.Currency,
		Credits:     o.Credits,
		ProductID:   o.ProductID,
		ProductName: o.ProductName,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
	}
	if plan.interval != nil {
		intentReq.Interval = *plan.interval
	}

	intent, err := svc.CreatePaymentIntent(ctx, intentReq)
	if err != nil {
		s.metrics.IncCheckout(provider, "upstream_error")
		logger.Error("Checkout",
			zap.String("provider", provider),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamProvider, err)
	}

	// 会话 ID 写入失败不影响用户付款：回调仍可以通过 order_no 找到订单
	if err := s.orders.UpdateSessionID(ctx, o.OrderNo, intent.ProviderSessionID); err != nil {
		logger.Error("Checkout",
			zap.String("provider", provider),
			zap.String("order_no", o.OrderNo),
			zap.String("session_id", intent.ProviderSessionID),
			zap.Error(err),
		)
	}

	s.metrics.IncCheckout(provider, "ok")
	logger.Info("Checkout",
		zap.String("provider", provider),
		zap.String("order_no", o.OrderNo),
		zap.String("user_id", o.UserID),
		zap.Int64("amount", o.Amount),
		zap.String("currency", o.Currency),
	)

	return &CheckoutResult{
		OrderNo:      o.OrderNo,
		PaymentURL:   intent.PaymentURL,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// checkoutPlan 校验后的订单参数
type checkoutPlan struct {
	currency    string
	interval    *string
	validMonths int
}

// expiredAt 权益到期时间，valid_months 为 0 时永不过期
func (p checkoutPlan) expiredAt(now time.Time) *time.Time {
	if p.validMonths <= 0 {
		return nil
	}
	t := now.UTC().AddDate(0, p.validMonths, 0)
	if p.interval != nil {
		t = t.Add(SubscriptionGrace)
	}
	return &t
}

func normalizeCheckout(req *CheckoutRequest) (checkoutPlan, error) {
	var plan checkoutPlan

	if strings.TrimSpace(req.UserID) == "" {
		return plan, ErrUnauthenticated
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return plan, fmt.Errorf("%w: product_id is required", ErrInvalidParams)
	}
	if req.Amount < MinAmount || req.Amount > MaxAmount {
		return plan, fmt.Errorf("%w: amount must be between %d and %d", ErrInvalidParams, MinAmount, MaxAmount)
	}
	plan.currency = utils.NormalizeCurrency(req.Currency)
	if !currencyPattern.MatchString(plan.currency) {
		return plan, fmt.Errorf("%w: invalid currency %q", ErrInvalidParams, req.Currency)
	}
	if req.Credits < 0 {
		return plan, fmt.Errorf("%w: credits must not be negative", ErrInvalidParams)
	}
	if req.ValidMonths < 0 {
		return plan, fmt.Errorf("%w: valid_months must not be negative", ErrInvalidParams)
	}

	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	switch interval {
	case order.IntervalMonth:
		if req.ValidMonths != 0 && req.ValidMonths != 1 {
			return plan, fmt.Errorf("%w: monthly plan must be valid for 1 month", ErrInvalidParams)
		}
		plan.validMonths = 1
		plan.interval = &interval
	case order.IntervalYear:
		if req.ValidMonths != 0 && req.ValidMonths != 12 {
			return plan, fmt.Errorf("%w: yearly plan must be valid for 12 months", ErrInvalidParams)
		}
		plan.validMonths = 12
		plan.interval = &interval
	case "", order.IntervalOneTime:
		plan.validMonths = req.ValidMonths
	default:
		return plan, fmt.Errorf("%w: unsupported interval %q", ErrInvalidParams, req.Interval)
	}

	return plan, nil
}

// IsClientError 是否为调用方可以修正的错误
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidParams) || errors.Is(err, ErrUnauthenticated)
}
