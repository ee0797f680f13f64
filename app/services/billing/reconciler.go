package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"companion/app/models/notification"
	"companion/app/models/order"
	"companion/app/repositories"
	"companion/pkg/logger"
	"companion/pkg/metrics"
	"companion/pkg/payment/types"
	"companion/pkg/payment/utils"
)

// notifyTimeout 支付成功通知的投递时限
const notifyTimeout = 3 * time.Second

// Notifier 支付成功后的通知（邮件等），失败只记录日志
type Notifier interface {
	NotifyPaid(ctx context.Context, o *order.Order) error
}

// Result 一次回调的处理结果
type Result struct {
	OrderNo string              `json:"order_no"`
	Outcome notification.Result `json:"outcome"`
	Status  order.Status        `json:"status"`
	Order   *order.Order        `json:"-"`
}

// Reconciler 把验签后的回调应用到订单和积分流水上
type Reconciler struct {
	tx            *repositories.Transactor
	orders        *repositories.OrderRepository
	credits       *repositories.CreditRepository
	notifications *repositories.NotificationRepository
	notifier      Notifier
	metrics       *metrics.PaymentMetrics

	now func() time.Time
}

// NewReconciler 创建对账引擎，notifier 可以为空
func NewReconciler(db *gorm.DB, notifier Notifier, m *metrics.PaymentMetrics) *Reconciler {
	return &Reconciler{
		tx:            repositories.NewTransactor(db),
		orders:        repositories.NewOrderRepository(db),
		credits:       repositories.NewCreditRepository(db),
		notifications: repositories.NewNotificationRepository(db),
		notifier:      notifier,
		metrics:       m,
		now:           time.Now,
	}
}

// Apply 处理一条回调。重复投递、乱序投递都是安全的：
// 订单只会有一次 paid 迁移，积分只会发放一次
func (r *Reconciler) Apply(ctx context.Context, n *types.Notification) (*Result, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: empty notification", types.ErrMalformedPayload)
	}

	res, err := r.apply(ctx, n)
	if res == nil {
		res = &Result{OrderNo: n.OrderNo}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			res.Outcome = notification.ResultNotFound
		case errors.Is(err, ErrAmountMismatch):
			res.Outcome = notification.ResultMismatch
		default:
			res.Outcome = notification.ResultError
		}
	}

	r.record(ctx, n, res, err)
	r.metrics.IncWebhook(string(n.Provider), string(res.Outcome))
	return res, err
}

func (r *Reconciler) apply(ctx context.Context, n *types.Notification) (*Result, error) {
	if n.Ignored {
		return &Result{OrderNo: n.OrderNo, Outcome: notification.ResultIgnored}, nil
	}
	if !n.Status.Valid() || n.Status == order.StatusCreated {
		return nil, fmt.Errorf("%w: unexpected status %q", types.ErrMalformedPayload, n.Status)
	}

	o, err := r.resolve(ctx, n)
	if err != nil {
		return nil, err
	}

	switch n.Status.Outcome() {
	case order.OutcomeSuccess:
		return r.applyPaid(ctx, o, n)
	case order.OutcomeFailure:
		return r.applyTransition(ctx, o, n, notification.ResultFailed)
	default:
		return r.applyTransition(ctx, o, n, notification.ResultIntermediate)
	}
}

// resolve 依次按订单号、渠道会话 ID、渠道交易 ID 查找订单
func (r *Reconciler) resolve(ctx context.Context, n *types.Notification) (*order.Order, error) {
	lookups := []struct {
		key string
		get func(context.Context, string) (*order.Order, error)
	}{
		{n.OrderNo, r.orders.GetByOrderNo},
		{n.ProviderSessionID, r.orders.GetByProviderSessionID},
		{n.ProviderTransactionID, r.orders.GetByProviderTransactionID},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		o, err := l.get(ctx, l.key)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("find order: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: order_no=%q session=%q transaction=%q",
		ErrOrderNotFound, n.OrderNo, n.ProviderSessionID, n.ProviderTransactionID)
}

// applyPaid 状态 CAS 与积分发放在同一个事务里：只有把订单翻到 paid 的那次投递会写流水
func (r *Reconciler) applyPaid(ctx context.Context, o *order.Order, n *types.Notification) (*Result, error) {
	res := &Result{OrderNo: o.OrderNo, Status: o.Status, Order: o}
	if o.IsPaid() {
		res.Outcome = notification.ResultAlreadyPaid
		return res, nil
	}
	if o.FailedByRefund() {
		logger.Error("Reconcile",
			zap.String("provider", string(n.Provider)),
			zap.String("order_no", o.OrderNo),
			zap.String("raw_status", n.RawStatus),
			zap.String("reason", "payment captured after refund"),
		)
		res.Outcome = notification.ResultNoop
		return res, nil
	}
	if err := checkAmount(o, n); err != nil {
		logger.Error("Reconcile",
			zap.String("provider", string(n.Provider)),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return res, err
	}

	paidAt := r.now()
	if n.PaidAt != nil {
		paidAt = *n.PaidAt
	}
	fields := r.referenceFields(o, n)
	fields["paid_at"] = paidAt
	fields["paid_detail"] = paidDetail(n)

	var flipped, granted bool
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// 只从读到的状态迁移，读取之后被退款改成 failed 的订单不会被翻到 paid
		applied, err := r.orders.WithTx(tx).TransitionStatus(ctx, o.OrderNo, []order.Status{o.Status}, order.StatusPaid, fields)
		if err != nil {
			return fmt.Errorf("transition order to paid: %w", err)
		}
		if !applied {
			return nil
		}
		flipped = true
		if o.Credits <= 0 {
			return nil
		}

		credits := r.credits.WithTx(tx)
		existing, err := credits.CountByOrderNo(ctx, o.OrderNo)
		if err != nil {
			return fmt.Errorf("%w: count ledger entries: %v", ErrReconciliationConflict, err)
		}
		if existing > 0 {
			logger.Warn("Reconcile", zap.String("order_no", o.OrderNo), zap.String("reason", "ledger entry already exists"))
			return nil
		}
		if _, err := credits.Grant(ctx, o.UserID, o.OrderNo, o.Credits, o.ExpiredAt); err != nil {
			return fmt.Errorf("%w: grant credits: %v", ErrReconciliationConflict, err)
		}
		granted = true
		return nil
	})
	if err != nil {
		logger.Error("Reconcile",
			zap.String("provider", string(n.Provider)),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return res, err
	}

	if !flipped {
		latest, err := r.orders.GetByOrderNo(ctx, o.OrderNo)
		if err == nil && !latest.IsPaid() && latest.Status != o.Status {
			// 状态被并发回调改变，按最新状态重新处理
			return r.applyPaid(ctx, latest, n)
		}
		// 并发投递已经完成了迁移
		return r.settled(ctx, o, notification.ResultAlreadyPaid)
	}

	if granted {
		r.metrics.IncGrant()
	}
	if o.Status == order.StatusFailed {
		logger.Warn("Reconcile",
			zap.String("order_no", o.OrderNo),
			zap.String("reason", "payment captured after order failed"),
		)
	}
	logger.Info("Reconcile",
		zap.String("provider", string(n.Provider)),
		zap.String("order_no", o.OrderNo),
		zap.String("from", string(o.Status)),
		zap.String("to", string(order.StatusPaid)),
		zap.Int64("credits", o.Credits),
	)

	res, err = r.settled(ctx, o, notification.ResultCredited)
	if err == nil && res.Order != nil {
		r.notifyPaid(res.Order)
	}
	return res, err
}

// applyTransition 失败或中间状态：条件更新，不满足来源状态时什么都不做（不会降级已支付订单）。
// 已经失败的订单再收到退款回调时补记退款状态
func (r *Reconciler) applyTransition(ctx context.Context, o *order.Order, n *types.Notification, outcome notification.Result) (*Result, error) {
	refundOfFailed := o.Status == order.StatusFailed && n.Status == order.StatusFailed &&
		order.IsRefundStatus(n.RawStatus) && !o.FailedByRefund()
	if !refundOfFailed && (o.Status == n.Status || !order.CanTransition(o.Status, n.Status)) {
		return &Result{OrderNo: o.OrderNo, Outcome: notification.ResultNoop, Status: o.Status, Order: o}, nil
	}

	sources := order.TransitionSources(n.Status)
	if refundOfFailed {
		sources = []order.Status{order.StatusFailed}
	}
	fields := r.referenceFields(o, n)
	if n.Status == order.StatusFailed {
		fields["paid_detail"] = failureDetail(n)
	}

	applied, err := r.orders.TransitionStatus(ctx, o.OrderNo, sources, n.Status, fields)
	if err != nil {
		return &Result{OrderNo: o.OrderNo, Status: o.Status, Order: o}, fmt.Errorf("transition order to %s: %w", n.Status, err)
	}
	if !applied {
		return r.settled(ctx, o, notification.ResultNoop)
	}

	logger.Info("Reconcile",
		zap.String("provider", string(n.Provider)),
		zap.String("order_no", o.OrderNo),
		zap.String("from", string(o.Status)),
		zap.String("to", string(n.Status)),
	)
	return r.settled(ctx, o, outcome)
}

// settled 重新读取订单，返回最新状态
func (r *Reconciler) settled(ctx context.Context, o *order.Order, outcome notification.Result) (*Result, error) {
	latest, err := r.orders.GetByOrderNo(ctx, o.OrderNo)
	if err != nil {
		return &Result{OrderNo: o.OrderNo, Outcome: outcome, Status: o.Status, Order: o}, nil
	}
	return &Result{OrderNo: latest.OrderNo, Outcome: outcome, Status: latest.Status, Order: latest}, nil
}

// referenceFields 补齐订单上缺失的渠道引用
func (r *Reconciler) referenceFields(o *order.Order, n *types.Notification) map[string]interface{} {
	fields := make(map[string]interface{})
	if n.ProviderTransactionID != "" {
		fields["provider_transaction_id"] = n.ProviderTransactionID
	}
	if n.ProviderSessionID != "" && o.ProviderSessionID == nil {
		fields["provider_session_id"] = n.ProviderSessionID
	}
	return fields
}

func (r *Reconciler) notifyPaid(o *order.Order) {
	if r.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyPaid(ctx, o); err != nil {
			logger.Warn("Reconcile", zap.String("order_no", o.OrderNo), zap.String("notify", "failed"), zap.Error(err))
		}
	}()
}

// record 写入回调审计记录，失败不影响处理结果
func (r *Reconciler) record(ctx context.Context, n *types.Notification, res *Result, applyErr error) {
	entry := &notification.Notification{
		Provider:              string(n.Provider),
		OrderNo:               utils.FirstNonEmpty(res.OrderNo, n.OrderNo),
		ProviderTransactionID: n.ProviderTransactionID,
		RawStatus:             n.RawStatus,
		Status:                n.Status,
		Result:                res.Outcome,
		Payload:               string(n.RawPayload),
	}
	if applyErr != nil {
		entry.Error = applyErr.Error()
	}
	if err := r.notifications.Create(ctx, entry); err != nil {
		logger.Warn("Reconcile", zap.String("order_no", entry.OrderNo), zap.String("record", "failed"), zap.Error(err))
	}
}

// checkAmount 回调携带金额或币种时必须与订单一致
func checkAmount(o *order.Order, n *types.Notification) error {
	if n.Amount != 0 && n.Amount != o.Amount {
		return fmt.Errorf("%w: order %s expects %d, notification carries %d", ErrAmountMismatch, o.OrderNo, o.Amount, n.Amount)
	}
	if n.Currency != "" && utils.NormalizeCurrency(n.Currency) != o.Currency {
		return fmt.Errorf("%w: order %s expects %s, notification carries %s", ErrAmountMismatch, o.OrderNo, o.Currency, n.Currency)
	}
	return nil
}

func failureDetail(n *types.Notification) order.JSON {
	detail := order.JSON{
		"provider":                  string(n.Provider),
		order.DetailFailedRawStatus: n.RawStatus,
	}
	if n.ProviderTransactionID != "" {
		detail["provider_transaction_id"] = n.ProviderTransactionID
	}
	return detail
}

func paidDetail(n *types.Notification) order.JSON {
	detail := order.JSON{
		"provider":   string(n.Provider),
		"raw_status": n.RawStatus,
	}
	if n.ProviderTransactionID != "" {
		detail["provider_transaction_id"] = n.ProviderTransactionID
	}
	if n.ProviderSessionID != "" {
		detail["provider_session_id"] = n.ProviderSessionID
	}
	if n.Amount != 0 {
		detail["amount"] = n.Amount
		detail["currency"] = n.Currency
	}
	return detail
}
