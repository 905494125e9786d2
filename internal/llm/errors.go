package llm

import "fmt"

// ConfigurationError 表示端点地址或访问凭证缺失。
// 属于致命错误：构造客户端时立即返回，不参与重试。
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("llm configuration missing required field: %s", e.Field)
}

// RateLimitedError 表示远端返回了 429 限流响应（可重试）。
type RateLimitedError struct {
	StatusCode int
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("remote endpoint rate limited (status %d): %v", e.StatusCode, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RemoteAPIError 表示远端返回了限流之外的 4xx/5xx 响应（可重试）。
type RemoteAPIError struct {
	StatusCode int
	Err        error
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api error (status %d): %v", e.StatusCode, e.Err)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// UnknownError 包装了无法归类的传输层错误。
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown remote error: %v", e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }
