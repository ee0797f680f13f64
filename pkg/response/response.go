// Package response 提供统一的 HTTP 响应处理
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"companion/pkg/logger"
)

// 预定义响应状态
const (
	Success = "success" // 成功状态
	Error   = "error"   // 错误状态
)

// FailCode 失败响应中的业务码
const FailCode = -1

/* 标准响应结构
{
    "status": "success",
    "data": {},     // 成功时返回的数据
    "error": "",    // 错误时返回的信息
    "message": "",  // 提示信息
}

下单失败响应
{
    "code": -1,
    "error": "..."
}
*/

// Response 统一响应结构体
type Response struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// FailResponse 下单等操作的失败响应
type FailResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// ------------------ 🎯 成功响应系列 ------------------

// Data 响应 200 和数据
func Data(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Status: Success,
		Data:   data,
	})
}

// JSON 直接返回 JSON 数据
func JSON(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created 成功创建的响应
func Created(c *gin.Context, data interface{}, msg ...string) {
	c.JSON(http.StatusCreated, Response{
		Status:  Success,
		Message: getMsg("创建成功", msg...),
		Data:    data,
	})
}

// Raw 原样写出响应体，支付回调应答使用
func Raw(c *gin.Context, status int, contentType string, body []byte) {
	c.Data(status, contentType, body)
	c.Abort()
}

//  ------------------ 错误响应系列 ------------------

// Fail 以 {"code":-1,"error":"..."} 响应错误
func Fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, FailResponse{Code: FailCode, Error: msg})
}

// Abort403 响应 403 错误
func Abort403(c *gin.Context, msg ...string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Response{
		Status:  Error,
		Message: getMsg("权限不足", msg...),
	})
}

// Abort404 响应 404 错误
func Abort404(c *gin.Context, msg ...string) {
	c.AbortWithStatusJSON(http.StatusNotFound, Response{
		Status:  Error,
		Message: getMsg("资源不存在", msg...),
	})
}

// Abort429 响应 429 错误
func Abort429(c *gin.Context, msg ...string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
		Status:  Error,
		Message: getMsg("请求太频繁，请稍后再试", msg...),
		Error:   "Too Many Requests",
	})
}

// ServerError 响应 500，错误只写日志不返回给调用方
func ServerError(c *gin.Context, err error, msg ...string) {
	logger.LogIf(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
		Status:  Error,
		Message: getMsg("服务器内部错误", msg...),
	})
}

// getMsg 获取消息内容
func getMsg(defaultMsg string, msg ...string) string {
	if len(msg) > 0 {
		return msg[0]
	}
	return defaultMsg
}
