package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"companion/pkg/metrics"
)

// MetricOperation 定义指标操作类型
type MetricOperation string

const (
	OpPush    MetricOperation = "push"
	OpPop     MetricOperation = "pop"
	OpProcess MetricOperation = "process"
	OpRetry   MetricOperation = "retry"
)

// LatencyStats 延迟统计
type LatencyStats struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// LatencySnapshot 延迟统计快照
type LatencySnapshot struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// QueueMetrics 队列指标收集器，进程内统计同时转发到 Prometheus。
// nil 接收者上的调用直接忽略
type QueueMetrics struct {
	successfulTasks atomic.Int64
	failedTasks     atomic.Int64
	retriedTasks    atomic.Int64

	pushLatency    LatencyStats
	popLatency     LatencyStats
	processLatency LatencyStats

	queueLength     atomic.Int64
	peakQueueLength atomic.Int64

	prom *metrics.PaymentMetrics
}

// Stats 队列指标快照
type Stats struct {
	Successful      int64           `json:"successful"`
	Failed          int64           `json:"failed"`
	Retried         int64           `json:"retried"`
	QueueLength     int64           `json:"queue_length"`
	PeakQueueLength int64           `json:"peak_queue_length"`
	Push            LatencySnapshot `json:"push"`
	Pop             LatencySnapshot `json:"pop"`
	Process         LatencySnapshot `json:"process"`
}

// NewQueueMetrics 创建新的指标收集器，prom 可以为空
func NewQueueMetrics(prom *metrics.PaymentMetrics) *QueueMetrics {
	return &QueueMetrics{prom: prom}
}

// RecordSuccess 记录成功操作
func (m *QueueMetrics) RecordSuccess(op MetricOperation) {
	if m == nil {
		return
	}
	if op == OpProcess {
		m.successfulTasks.Add(1)
	}
	m.prom.IncQueueTask(string(op), "success")
}

// RecordError 记录失败操作
func (m *QueueMetrics) RecordError(op MetricOperation) {
	if m == nil {
		return
	}
	if op == OpProcess {
		m.failedTasks.Add(1)
	}
	m.prom.IncQueueTask(string(op), "error")
}

// RecordRetry 记录重新入队
func (m *QueueMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retriedTasks.Add(1)
	m.prom.IncQueueTask(string(OpRetry), "success")
}

// SetQueueLength 更新队列长度及峰值
func (m *QueueMetrics) SetQueueLength(n int64) {
	if m == nil {
		return
	}
	m.queueLength.Store(n)
	for {
		peak := m.peakQueueLength.Load()
		if n <= peak || m.peakQueueLength.CompareAndSwap(peak, n) {
			break
		}
	}
	m.prom.SetQueueLength(n)
}

// RecordPushLatency 记录推送延迟
func (m *QueueMetrics) RecordPushLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.pushLatency.record(d)
}

// RecordPopLatency 记录获取延迟
func (m *QueueMetrics) RecordPopLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.popLatency.record(d)
}

// RecordProcessLatency 记录处理延迟
func (m *QueueMetrics) RecordProcessLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.processLatency.record(d)
}

// Snapshot 当前指标快照
func (m *QueueMetrics) Snapshot() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Successful:      m.successfulTasks.Load(),
		Failed:          m.failedTasks.Load(),
		Retried:         m.retriedTasks.Load(),
		QueueLength:     m.queueLength.Load(),
		PeakQueueLength: m.peakQueueLength.Load(),
		Push:            m.pushLatency.snapshot(),
		Pop:             m.popLatency.snapshot(),
		Process:         m.processLatency.snapshot(),
	}
}

// record 记录延迟数据
func (s *LatencyStats) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.total += d
	if s.min == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := LatencySnapshot{Count: s.count, Min: s.min, Max: s.max}
	if s.count > 0 {
		snap.Avg = s.total / time.Duration(s.count)
	}
	return snap
}
