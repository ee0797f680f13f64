package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"companion/app/models/order"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// NotifyTask 支付成功后的通知任务
type NotifyTask struct {
	ID        string     `json:"id"`
	OrderNo   string     `json:"order_no"`
	UserID    string     `json:"user_id"`
	UserEmail string     `json:"user_email"`
	Product   string     `json:"product"`
	Credits   int64      `json:"credits"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Provider  string     `json:"provider"`
	Attempts  int        `json:"attempts"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewNotifyTask 由已支付订单生成通知任务
func NewNotifyTask(o *order.Order) *NotifyTask {
	return &NotifyTask{
		ID:        uuid.NewString(),
		OrderNo:   o.OrderNo,
		UserID:    o.UserID,
		UserEmail: o.UserEmail,
		Product:   o.ProductName,
		Credits:   o.Credits,
		Amount:    o.Amount,
		Currency:  o.Currency,
		Provider:  o.Provider,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}
}

// TaskQueue 工作器依赖的队列操作
type TaskQueue interface {
	PushTask(ctx context.Context, task *NotifyTask) error
	PopTask(ctx context.Context) (*NotifyTask, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error
	Len(ctx context.Context) (int64, error)
}

// Config 队列配置
type Config struct {
	Prefix     string
	Timeout    time.Duration // 任务状态保留时长
	PopTimeout time.Duration // BRPOP 阻塞时长
	RateLimit  int
	RateBurst  int
}

// QueueService Redis 列表实现的任务队列
type QueueService struct {
	client      *goredis.Client
	prefix      string
	timeout     time.Duration
	popTimeout  time.Duration
	rateLimiter *rate.Limiter
	metrics     *QueueMetrics
}

// NewQueueService 创建新的队列服务实例
func NewQueueService(client *goredis.Client, cfg Config, m *QueueMetrics) *QueueService {
	if cfg.Prefix == "" {
		cfg.Prefix = "companion:queue"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 24 * time.Hour
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 2 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 50
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = cfg.RateLimit
	}

	return &QueueService{
		client:      client,
		prefix:      cfg.Prefix,
		timeout:     cfg.Timeout,
		popTimeout:  cfg.PopTimeout,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		metrics:     m,
	}
}

func (q *QueueService) tasksKey() string {
	return q.prefix + ":tasks"
}

func (q *QueueService) statusKey(taskID string) string {
	return fmt.Sprintf("%s:status:%s", q.prefix, taskID)
}

// NotifyPaid 订单支付成功后入队通知任务
func (q *QueueService) NotifyPaid(ctx context.Context, o *order.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	return q.PushTask(ctx, NewNotifyTask(o))
}

// PushTask 将任务推送到队列，受限流约束
func (q *QueueService) PushTask(ctx context.Context, task *NotifyTask) error {
	if err := q.rateLimiter.Wait(ctx); err != nil {
		q.metrics.RecordError(OpPush)
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	start := time.Now()
	defer func() {
		q.metrics.RecordPushLatency(time.Since(start))
	}()

	task.Status = TaskPending
	taskJSON, err := json.Marshal(task)
	if err != nil {
		q.metrics.RecordError(OpPush)
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.tasksKey(), taskJSON)
	pipe.Set(ctx, q.statusKey(task.ID), string(TaskPending), q.timeout)
	if _, err := pipe.Exec(ctx); err != nil {
		q.metrics.RecordError(OpPush)
		return fmt.Errorf("failed to push task: %w", err)
	}

	q.metrics.RecordSuccess(OpPush)
	return nil
}

// PopTask 从队列中获取任务，队列为空时阻塞至 popTimeout 后返回 nil
func (q *QueueService) PopTask(ctx context.Context) (*NotifyTask, error) {
	start := time.Now()
	result, err := q.client.BRPop(ctx, q.popTimeout, q.tasksKey()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.metrics.RecordError(OpPop)
		return nil, fmt.Errorf("failed to pop task from queue: %w", err)
	}
	q.metrics.RecordPopLatency(time.Since(start))

	if len(result) != 2 {
		return nil, errors.New("invalid result from queue")
	}

	var task NotifyTask
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		q.metrics.RecordError(OpPop)
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	q.metrics.RecordSuccess(OpPop)
	return &task, nil
}

// UpdateTaskStatus 更新任务状态
func (q *QueueService) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error {
	if err := q.client.Set(ctx, q.statusKey(taskID), string(status), q.timeout).Err(); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}


// Len 待处理任务数
func (q *QueueService) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.tasksKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}
