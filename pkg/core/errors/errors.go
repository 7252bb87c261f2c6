// Package errors 定义框架的通用错误类型
package errors

import (
	"errors"
	"fmt"
)

// 通用错误
var (
	// ErrContextCanceled 上下文被取消
	ErrContextCanceled = errors.New("context canceled")
)

// 上下文树相关错误
var (
	// ErrNotFound 分类或条目不存在
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists 分类或条目已存在
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidItem 条目指向的资源不是常规文件
	ErrInvalidItem = errors.New("item is not a regular file")
	// ErrInvalidArgument 参数无效（如负的 token 数）
	ErrInvalidArgument = errors.New("invalid argument")
)

// 后端请求相关错误
var (
	// ErrTransport 网络或后端传输失败
	ErrTransport = errors.New("transport failure")
	// ErrParse 流式响应块解析失败
	ErrParse = errors.New("malformed stream chunk")
	// ErrConfiguration 后端或抓取客户端配置无效
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvalidAPIKey API 密钥无效
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrRateLimited 请求被限速
	ErrRateLimited = errors.New("rate limited")
	// ErrProviderUnavailable 提供商不可用
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// WrapError 包装错误并添加上下文信息
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable)
}
