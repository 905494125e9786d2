package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ticketmind/internal/config"
	"ticketmind/internal/models"
	"ticketmind/pkg/circuitbreaker"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 是基于 OpenAI 兼容端点的远端分析客户端。
type OpenAI struct {
	client   *openai.Client
	endpoint string
	model    string
	breaker  circuitbreaker.CircuitBreaker // 可选，nil 时直连
}

// NewOpenAI 创建一个新的远端分析客户端。
// 端点地址或访问凭证缺失时立即返回 ConfigurationError。
func NewOpenAI(cfg config.OpenAIConfig, breaker circuitbreaker.CircuitBreaker) (*OpenAI, error) {
	if cfg.BaseURL == "" {
		return nil, &ConfigurationError{Field: "baseURL"}
	}
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Field: "apiKey"}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	client := openai.NewClientWithConfig(clientConfig)

	return &OpenAI{
		client:   client,
		endpoint: cfg.BaseURL,
		model:    cfg.Model,
		breaker:  breaker,
	}, nil
}

// Analyze 发送分析提示词。单次调用，无内部重试。
func (o *OpenAI) Analyze(ctx context.Context, prompt string, rec *models.TaskRecord) (*RawResponse, error) {
	return o.complete(ctx, "analysis", prompt, rec)
}

// GenerateReply 发送回复建议提示词。单次调用，无内部重试。
func (o *OpenAI) GenerateReply(ctx context.Context, prompt string, rec *models.TaskRecord) (*RawResponse, error) {
	return o.complete(ctx, "reply", prompt, rec)
}

// complete 执行一次聊天补全调用，并把请求体、响应体和耗时
// 记录到任务记录上（无论成功失败，返回前一定写入）。
func (o *OpenAI) complete(ctx context.Context, purpose, prompt string, rec *models.TaskRecord) (*RawResponse, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	if rec != nil {
		rec.Endpoint = o.endpoint
		rec.Model = o.model
		// 同一条任务记录可能承载多次调用（分析 + 回复建议），
		// 按用途分键保存，后一次调用不会覆盖前一次的请求体。
		if rec.RequestPayload == nil {
			rec.RequestPayload = map[string]interface{}{}
		}
		rec.RequestPayload[purpose] = map[string]interface{}{
			"model": o.model,
			"messages": []map[string]interface{}{
				{"role": openai.ChatMessageRoleUser, "content": prompt},
			},
		}
		rec.AppendLog("info", fmt.Sprintf("发送 %s 请求到 %s (model=%s)", purpose, o.endpoint, o.model))
	}

	start := time.Now()
	resp, err := o.doRequest(ctx, req)
	elapsed := time.Since(start).Milliseconds()

	if rec != nil {
		if cur := rec.RemoteDurationMs; cur != nil {
			total := *cur + elapsed
			rec.RemoteDurationMs = &total
		} else {
			rec.RemoteDurationMs = &elapsed
		}
	}

	if err != nil {
		classified := classify(err)
		if rec != nil {
			if rec.ResponsePayload == nil {
				rec.ResponsePayload = map[string]interface{}{}
			}
			rec.ResponsePayload[purpose] = map[string]interface{}{"error": classified.Error()}
			rec.AppendLog("error", fmt.Sprintf("%s 调用失败 (%dms): %v", purpose, elapsed, classified))
		}
		return nil, classified
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	// 响应内容是 JSON 时按结构化形式原样保存，否则保存原始文本。
	var parsed map[string]interface{}
	if json.Unmarshal([]byte(text), &parsed) != nil {
		parsed = nil
	}
	if rec != nil {
		if rec.ResponsePayload == nil {
			rec.ResponsePayload = map[string]interface{}{}
		}
		if parsed != nil {
			rec.ResponsePayload[purpose] = parsed
		} else {
			rec.ResponsePayload[purpose] = map[string]interface{}{"raw_text": text}
		}
		rec.AppendLog("info", fmt.Sprintf("%s 调用成功 (%dms, response_id=%s)", purpose, elapsed, resp.ID))
	}

	return &RawResponse{
		Text:       text,
		JSON:       parsed,
		Model:      resp.Model,
		DurationMs: elapsed,
	}, nil
}

func (o *OpenAI) doRequest(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if o.breaker == nil {
		return o.client.CreateChatCompletion(ctx, req)
	}

	res, err := o.breaker.Execute(func() (interface{}, error) {
		return o.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return res.(openai.ChatCompletionResponse), nil
}

// classify 将传输层错误归一到三类错误之一：
// 429 → RateLimitedError，其余 4xx/5xx → RemoteAPIError，其他 → UnknownError。
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &RateLimitedError{StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		if apiErr.HTTPStatusCode >= 400 {
			return &RemoteAPIError{StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		return &UnknownError{Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &RateLimitedError{StatusCode: reqErr.HTTPStatusCode, Err: err}
		}
		if reqErr.HTTPStatusCode >= 400 {
			return &RemoteAPIError{StatusCode: reqErr.HTTPStatusCode, Err: err}
		}
	}

	return &UnknownError{Err: err}
}
