package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeID   int64 = 1
)

// SetNodeID 设置订单号生成器节点编号，必须在第一次生成订单号之前调用
func SetNodeID(id int64) {
	nodeID = id
}

// GenerateOrderNo 生成订单号：按时间递增的雪花 ID，多实例之间不重复（节点编号不同）
func GenerateOrderNo() string {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			panic(fmt.Sprintf("init order no generator: %v", err))
		}
		node = n
	})
	return node.Generate().String()
}

// GenerateNonceStr 生成随机字符串
func GenerateNonceStr() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// MinorToMajor 把最小货币单位转换为两位小数字符串：19999 -> "199.99"
func MinorToMajor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// MajorToMinor 把主币单位字符串转换为最小货币单位："199.99" -> 19999。
// 超过两位小数时返回错误，避免静默截断
func MajorToMinor(major string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(major))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", major, err)
	}
	return DecimalToMinor(d)
}

// DecimalToMinor 主币单位 decimal 转换为最小货币单位
func DecimalToMinor(d decimal.Decimal) (int64, error) {
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than 2 decimal places", d.String())
	}
	return minor.IntPart(), nil
}

// NormalizeCurrency 币种统一为小写
func NormalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}

// FirstNonEmpty 返回第一个非空字符串
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
