// Package requests 处理请求数据和表单验证
package requests

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/thedevsaddam/govalidator"
)

// ValidationError 表单验证错误
type ValidationError struct {
	Errors url.Values
}

// Error 实现 error 接口，按字段名排序输出
func (v ValidationError) Error() string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, strings.Join(v.Errors[field], ", "))
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// ValidateStruct 通用的结构体验证函数，规则按 json 标签匹配字段
func ValidateStruct(data interface{}, rules govalidator.MapData, messages govalidator.MapData) error {
	opts := govalidator.Options{
		Data:     data,
		Rules:    rules,
		Messages: messages,
	}

	if errs := govalidator.New(opts).ValidateStruct(); len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ValidateRequest 解析 JSON 请求体并验证
func ValidateRequest[T any](c *gin.Context, rules govalidator.MapData, messages govalidator.MapData) (*T, error) {
	req := new(T)

	if err := c.ShouldBindJSON(req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := ValidateStruct(req, rules, messages); err != nil {
		return nil, err
	}
	return req, nil
}
