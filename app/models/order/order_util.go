package order

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Status 订单状态
type Status string

const (
	StatusCreated       Status = "created"        // 已创建，尚未拿到支付链接
	StatusPending       Status = "pending"        // 待支付
	StatusProcessing    Status = "processing"     // 支付确认中
	StatusPartiallyPaid Status = "partially_paid" // 部分支付（加密货币）
	StatusPaid          Status = "paid"           // 已支付
	StatusFailed        Status = "failed"         // 支付失败、取消、过期、退款
)

// Outcome 状态归类
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailure      Outcome = "failure"
	OutcomeIntermediate Outcome = "intermediate"
)

// PaymentMethod 支付方式
type PaymentMethod string

const (
	MethodCard   PaymentMethod = "card"
	MethodAlipay PaymentMethod = "alipay"
	MethodWechat PaymentMethod = "wechat"
	MethodCrypto PaymentMethod = "crypto"
)

// Interval 订阅周期
const (
	IntervalMonth   = "month"
	IntervalYear    = "year"
	IntervalOneTime = "one-time"
)

// transitionSources 目标状态 -> 允许的来源状态
// 已支付订单不会离开 paid；failed 之后到账仍允许转为 paid
var transitionSources = map[Status][]Status{
	StatusPending:       {StatusCreated},
	StatusProcessing:    {StatusCreated, StatusPending, StatusPartiallyPaid},
	StatusPartiallyPaid: {StatusCreated, StatusPending, StatusProcessing},
	StatusPaid:          {StatusCreated, StatusPending, StatusProcessing, StatusPartiallyPaid, StatusFailed},
	StatusFailed:        {StatusCreated, StatusPending, StatusProcessing, StatusPartiallyPaid},
}

// TransitionSources 返回可以迁移到 to 的状态列表
func TransitionSources(to Status) []Status {
	return transitionSources[to]
}

// CanTransition 检查 from -> to 是否合法
func CanTransition(from, to Status) bool {
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Valid 检查状态值
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusProcessing, StatusPartiallyPaid, StatusPaid, StatusFailed:
		return true
	}
	return false
}

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Outcome 状态归类：成功、失败、中间态
func (s Status) Outcome() Outcome {
	switch s {
	case StatusPaid:
		return OutcomeSuccess
	case StatusFailed:
		return OutcomeFailure
	default:
		return OutcomeIntermediate
	}
}

// Valid 检查支付方式
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodAlipay, MethodWechat, MethodCrypto:
		return true
	}
	return false
}

// IsRecurring 是否为订阅订单
func (o *Order) IsRecurring() bool {
	return o.SubInterval != nil && *o.SubInterval != ""
}

// IsPaid 检查订单是否已支付
func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}

// DetailFailedRawStatus 失败回调的渠道原始状态，存放在 paid_detail
const DetailFailedRawStatus = "failed_raw_status"

// IsRefundStatus 渠道原始状态是否表示退款
func IsRefundStatus(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "refund")
}

// FailedByRefund 订单因退款进入 failed，之后迟到的成功回调不再转为 paid
func (o *Order) FailedByRefund() bool {
	if o.Status != StatusFailed || o.PaidDetail == nil {
		return false
	}
	raw, _ := o.PaidDetail[DetailFailedRawStatus].(string)
	return IsRefundStatus(raw)
}

// Validate 验证订单记录
func (o *Order) Validate() error {
	if o.OrderNo == "" {
		return errors.New("order_no is required")
	}
	if o.UserID == "" {
		return errors.New("user_id is required")
	}
	if o.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if o.Credits < 0 {
		return errors.New("credits must not be negative")
	}
	if !o.Status.Valid() {
		return errors.New("invalid order status")
	}
	if o.PaymentMethod != "" && !o.PaymentMethod.Valid() {
		return errors.New("invalid payment method")
	}
	return nil
}

// BeforeCreate GORM 钩子
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	return o.Validate()
}

// JSON 自定义JSON类型
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSON)
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid scan source")
	}
	if len(bytes) == 0 {
		*j = make(JSON)
		return nil
	}
	return json.Unmarshal(bytes, j)
}
