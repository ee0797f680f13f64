// Package signature 支付回调验签用到的 HMAC 工具
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// HMACSHA256Hex 计算 HMAC-SHA256，返回小写十六进制
func HMACSHA256Hex(secret, payload []byte) string {
	return hmacHex(sha256.New, secret, payload)
}

// HMACSHA512Hex 计算 HMAC-SHA512，返回小写十六进制
func HMACSHA512Hex(secret, payload []byte) string {
	return hmacHex(sha512.New, secret, payload)
}

func hmacHex(h func() hash.Hash, secret, payload []byte) string {
	mac := hmac.New(h, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// MD5Upper 计算 MD5，返回大写十六进制
func MD5Upper(payload string) string {
	sum := md5.Sum([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// EqualHex 常量时间比较两个十六进制签名，大小写不敏感；任一为空返回 false
func EqualHex(expected, actual string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	actual = strings.ToLower(strings.TrimSpace(actual))
	if expected == "" || actual == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(actual))
}
