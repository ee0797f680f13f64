package queue

import (
	"context"
	"fmt"
	"strings"

	"companion/pkg/logger"
	"companion/pkg/mailer"
	"companion/pkg/payment/utils"
)

// MailSender 发送邮件
type MailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// NewReceiptHandler 发送支付回执邮件，没有邮箱的订单直接跳过
func NewReceiptHandler(sender MailSender) TaskHandler {
	return func(ctx context.Context, task *NotifyTask) error {
		if task.UserEmail == "" {
			logger.DebugString("Receipt", "Skip", "订单没有邮箱:"+task.OrderNo)
			return nil
		}
		return sender.Send(ctx, ReceiptMessage(task))
	}
}

// ReceiptMessage 回执邮件内容
func ReceiptMessage(task *NotifyTask) mailer.Message {
	product := task.Product
	if product == "" {
		product = "Credits"
	}
	text := fmt.Sprintf(
		"Thank you for your purchase.\n\nOrder: %s\nProduct: %s\nAmount: %s %s\nCredits: %d\n",
		task.OrderNo, product, utils.MinorToMajor(task.Amount), strings.ToUpper(task.Currency), task.Credits,
	)
	return mailer.Message{
		To:      task.UserEmail,
		Subject: fmt.Sprintf("Payment received for order %s", task.OrderNo),
		Text:    text,
	}
}
