package bootstrap

import (
	"time"

	"companion/pkg/config"
	"companion/pkg/logger"
	"companion/pkg/mailer"
	"companion/pkg/queue"
	"companion/pkg/redis"
)

// SetupQueue 初始化支付成功通知队列，Redis 不可用时返回 nil
func SetupQueue(queueMetrics *queue.QueueMetrics) (*queue.QueueService, *queue.Worker) {
	client := redis.GetRedis(redis.QueueDB)
	if client == nil {
		logger.WarnString("Queue", "Setup", "Redis 未初始化，支付成功通知不会投递")
		return nil, nil
	}

	queueService := queue.NewQueueService(client.Client, queue.Config{
		Prefix:    config.GetString("redis.queue_prefix"),
		Timeout:   time.Duration(config.GetInt("redis.queue_timeout")) * time.Second,
		RateLimit: config.GetInt("queue.rate_limit"),
		RateBurst: config.GetInt("queue.rate_burst"),
	}, queueMetrics)

	sender := mailer.New(mailer.Config{
		APIURL:  config.GetString("mail.api_url"),
		APIKey:  config.GetString("mail.api_key"),
		From:    config.GetString("mail.from"),
		Timeout: time.Duration(config.GetInt("mail.timeout")) * time.Second,
	})
	if !sender.Enabled() {
		logger.WarnString("Queue", "Setup", "未配置邮件接口，收据只写入日志")
	}

	worker := queue.NewWorker(queueService, queue.NewReceiptHandler(sender), queueMetrics, queue.WorkerConfig{
		WorkerCount:     config.GetInt("queue.worker_count", 4),
		MaxRetries:      config.GetInt("queue.retry_times", 3),
		RetryInterval:   time.Duration(config.GetInt("queue.retry_delay", 2)) * time.Second,
		ShutdownTimeout: 30 * time.Second,
	})

	logger.InfoString("Queue", "Setup", "队列服务初始化成功")
	return queueService, worker
}
