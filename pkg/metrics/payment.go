// Package metrics 支付相关的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PaymentMetrics 支付回调、下单与对账指标，nil 接收者上的调用直接忽略
type PaymentMetrics struct {
	webhooks    *prometheus.CounterVec
	checkouts   *prometheus.CounterVec
	grants      prometheus.Counter
	uncredited  prometheus.Gauge
	queueTasks  *prometheus.CounterVec
	queueLength prometheus.Gauge
}

// NewPaymentMetrics 在 reg 上注册指标，reg 为空时返回不记录任何数据的实例
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	m := &PaymentMetrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_total",
			Help: "Payment webhook deliveries by provider and result.",
		}, []string{"provider", "result"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_checkout_total",
			Help: "Checkout attempts by provider and result.",
		}, []string{"provider", "result"}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_credit_grants_total",
			Help: "Credit ledger grants written for paid orders.",
		}),
		uncredited: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payment_reconcile_uncredited",
			Help: "Paid orders without a ledger entry found by the last audit.",
		}),
		queueTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_notify_tasks_total",
			Help: "Post-payment notification tasks by operation and result.",
		}, []string{"op", "result"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payment_notify_queue_length",
			Help: "Pending post-payment notification tasks.",
		}),
	}
	reg.MustRegister(m.webhooks, m.checkouts, m.grants, m.uncredited, m.queueTasks, m.queueLength)
	return m
}

// Handler /metrics 处理器
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *PaymentMetrics) IncWebhook(provider, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncCheckout(provider, result string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncGrant() {
	if m == nil || m.grants == nil {
		return
	}
	m.grants.Inc()
}

// SetUncredited 记录最近一次对账发现的差异数
func (m *PaymentMetrics) SetUncredited(n int) {
	if m == nil || m.uncredited == nil {
		return
	}
	m.uncredited.Set(float64(n))
}

// IncQueueTask 记录通知任务的入队、处理结果
func (m *PaymentMetrics) IncQueueTask(op, result string) {
	if m == nil || m.queueTasks == nil {
		return
	}
	m.queueTasks.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) SetQueueLength(n int64) {
	if m == nil || m.queueLength == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
