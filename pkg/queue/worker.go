package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"companion/pkg/logger"
)

// TaskHandler 处理单个通知任务
type TaskHandler func(ctx context.Context, task *NotifyTask) error

// Worker 队列工作器组
type Worker struct {
	queue   TaskQueue
	handler TaskHandler
	metrics *QueueMetrics
	config  WorkerConfig

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// WorkerConfig 工作器配置
type WorkerConfig struct {
	WorkerCount     int           // 并发工作器数量
	MaxRetries      int           // 最大尝试次数
	RetryInterval   time.Duration // 重试间隔
	TaskTimeout     time.Duration // 单个任务处理时限
	ShutdownTimeout time.Duration // 关闭超时时间
	IdleDelay       time.Duration // 队列为空时的等待时间
}

// NewWorker 创建新的工作器组
func NewWorker(q TaskQueue, handler TaskHandler, m *QueueMetrics, config WorkerConfig) *Worker {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryInterval < 0 {
		config.RetryInterval = 0
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 20 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.IdleDelay <= 0 {
		config.IdleDelay = 100 * time.Millisecond
	}

	return &Worker{
		queue:   q,
		handler: handler,
		metrics: m,
		config:  config,
	}
}

// Start 启动工作器组，ctx 取消或调用 Stop 后退出
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.config.WorkerCount; i++ {
		w.wg.Add(1)
		go w.startWorker(ctx, i)
	}
	logger.InfoString("Worker", "Start", fmt.Sprintf("%d workers started", w.config.WorkerCount))
}

// startWorker 启动单个工作器
func (w *Worker) startWorker(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			logger.DebugString("Worker", "Stop", fmt.Sprintf("Worker %d stopping", id))
			return
		}
		if err := w.processNextTask(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorString("Worker", "Error", fmt.Sprintf("Worker %d error: %v", id, err))
			sleep(ctx, time.Second)
		}
	}
}

// processNextTask 获取并处理一个任务
func (w *Worker) processNextTask(ctx context.Context) error {
	task, err := w.queue.PopTask(ctx)
	if err != nil {
		return fmt.Errorf("pop task error: %w", err)
	}
	if task == nil {
		sleep(ctx, w.config.IdleDelay)
		return nil
	}

	if n, err := w.queue.Len(ctx); err == nil {
		w.metrics.SetQueueLength(n)
	}
	return w.handleTask(ctx, task)
}

// handleTask 处理单个任务，失败时按配置重新入队
func (w *Worker) handleTask(ctx context.Context, task *NotifyTask) error {
	start := time.Now()
	defer func() {
		w.metrics.RecordProcessLatency(time.Since(start))
	}()

	if err := w.queue.UpdateTaskStatus(ctx, task.ID, TaskRunning); err != nil {
		logger.WarnString("Worker", "UpdateStatus", err.Error())
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	err := w.handler(taskCtx, task)
	cancel()

	if err == nil {
		w.metrics.RecordSuccess(OpProcess)
		if err := w.queue.UpdateTaskStatus(ctx, task.ID, TaskCompleted); err != nil {
			logger.WarnString("Worker", "UpdateStatus", err.Error())
		}
		return nil
	}

	task.Attempts++
	if task.Attempts < w.config.MaxRetries && ctx.Err() == nil {
		logger.WarnString("Worker", "Retry", fmt.Sprintf("订单:%s 第%d次失败:%v", task.OrderNo, task.Attempts, err))
		sleep(ctx, w.config.RetryInterval)
		if pushErr := w.queue.PushTask(context.WithoutCancel(ctx), task); pushErr != nil {
			return fmt.Errorf("requeue task %s: %w", task.ID, pushErr)
		}
		w.metrics.RecordRetry()
		return nil
	}

	w.metrics.RecordError(OpProcess)
	if updateErr := w.queue.UpdateTaskStatus(context.WithoutCancel(ctx), task.ID, TaskFailed); updateErr != nil {
		logger.WarnString("Worker", "UpdateStatus", updateErr.Error())
	}
	return fmt.Errorf("process task %s for order %s: %w", task.ID, task.OrderNo, err)
}

// Stop 优雅关闭工作器组
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoString("Worker", "Stop", "All workers stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		logger.WarnString("Worker", "Stop", "Worker shutdown timed out")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
