package requests

import (
	"github.com/gin-gonic/gin"
	"github.com/thedevsaddam/govalidator"
)

// CheckoutRequest 下单请求，金额为最小货币单位
type CheckoutRequest struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Credits     int64  `json:"credits"`
	Interval    string `json:"interval"`
	ValidMonths int    `json:"valid_months"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
}

// ValidateCheckout 基础格式校验，金额区间与周期一致性由下单服务检查
func ValidateCheckout(c *gin.Context) (*CheckoutRequest, error) {
	rules := govalidator.MapData{
		"product_id":   []string{"required", "max:64"},
		"product_name": []string{"max:255"},
		"amount":       []string{"required"},
		"currency":     []string{"required", "alpha", "len:3"},
		"interval":     []string{"in:month,year,one-time"},
		"return_url":   []string{"url"},
		"cancel_url":   []string{"url"},
	}
	messages := govalidator.MapData{
		"product_id": []string{
			"required:product_id is required",
			"max:product_id must be at most 64 characters",
		},
		"product_name": []string{"max:product_name must be at most 255 characters"},
		"amount":       []string{"required:amount is required"},
		"currency": []string{
			"required:currency is required",
			"alpha:currency must be a 3-letter ISO code",
			"len:currency must be a 3-letter ISO code",
		},
		"interval":   []string{"in:interval must be one of month, year, one-time"},
		"return_url": []string{"url:return_url must be a valid URL"},
		"cancel_url": []string{"url:cancel_url must be a valid URL"},
	}
	return ValidateRequest[CheckoutRequest](c, rules, messages)
}

// ConsumeRequest 消耗积分请求
type ConsumeRequest struct {
	Amount int64 `json:"amount"`
}

// ValidateConsume 校验积分消耗请求
func ValidateConsume(c *gin.Context) (*ConsumeRequest, error) {
	rules := govalidator.MapData{
		"amount": []string{"required"},
	}
	messages := govalidator.MapData{
		"amount": []string{"required:amount is required"},
	}
	req, err := ValidateRequest[ConsumeRequest](c, rules, messages)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ValidationError{Errors: map[string][]string{"amount": {"amount must be positive"}}}
	}
	return req, nil
}
