package llm

import (
	"context"

	"ticketmind/internal/models"
)

// RawResponse 是远端文本生成服务的一次原始响应。
// 响应体是 JSON 时 JSON 字段非 nil，否则只有 Text 可用。
type RawResponse struct {
	Text       string                 // 首个候选的原始文本内容
	JSON       map[string]interface{} // 文本解析为 JSON 时的结构化形式
	Model      string                 // 实际服务本次请求的模型
	DurationMs int64                  // 本次调用的墙钟耗时（毫秒）
}

// Client 是远端分析端点的瘦封装。每个方法只发起一次 HTTP 调用，
// 不做内部重试——重试由编排器负责。每次调用都必须在返回前把完整的
// 出站请求体、入站响应体和耗时记录到当前任务记录上，调用方依赖
// 这些数据做调试。
type Client interface {
	// Analyze 发送分析提示词并返回原始响应。
	Analyze(ctx context.Context, prompt string, rec *models.TaskRecord) (*RawResponse, error)
	// GenerateReply 发送回复建议提示词并返回原始响应。
	GenerateReply(ctx context.Context, prompt string, rec *models.TaskRecord) (*RawResponse, error)
}
