// Package mailer 通过 HTTP 邮件接口发送通知邮件
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"companion/pkg/logger"
)

// Config 邮件接口配置
type Config struct {
	APIURL  string
	APIKey  string
	From    string
	Timeout time.Duration
}

// Message 一封纯文本邮件
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type payload struct {
	From string `json:"from"`
	Message
}

// Mailer 邮件发送器，未配置接口地址时只写日志
type Mailer struct {
	client *resty.Client
	apiURL string
	apiKey string
	from   string
}

// New 创建邮件发送器
func New(cfg Config) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailer{
		client: resty.New().SetTimeout(cfg.Timeout).SetRetryCount(2),
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		from:   cfg.From,
	}
}

// Enabled 是否配置了邮件接口
func (m *Mailer) Enabled() bool {
	return m.apiURL != ""
}

// Send 发送邮件
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("mail recipient is empty")
	}
	if !m.Enabled() {
		logger.InfoString("Mailer", "Skip", fmt.Sprintf("未配置邮件接口 收件人:%s 主题:%s", msg.To, msg.Subject))
		return nil
	}

	req := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload{From: m.from, Message: msg})
	if m.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := req.Post(m.apiURL)
	if err != nil {
		return fmt.Errorf("failed to call mail api: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail api returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.InfoString("Mailer", "Sent", fmt.Sprintf("收件人:%s 主题:%s", msg.To, msg.Subject))
	return nil
}
