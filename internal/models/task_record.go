package models

import (
	"time"
)

// TaskStatus 定义了分析任务的几种可能状态。
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"     // 已入队，等待 worker 领取
	TaskStatusProcessing TaskStatus = "processing" // 正在执行
	TaskStatusCompleted  TaskStatus = "completed"  // 成功完成
	TaskStatusFailed     TaskStatus = "failed"     // 重试耗尽后的终态
	TaskStatusRetrying   TaskStatus = "retrying"   // 失败后等待下一次重试
	TaskStatusDismissed  TaskStatus = "dismissed"  // 运维批量忽略，终态
)

// TaskKind 定义了任务的类型。
type TaskKind string

const (
	TaskKindAnalysis           TaskKind = "analysis"            // 单工单 AI 分析
	TaskKindResponseGeneration TaskKind = "response_generation" // 仅生成回复建议
	TaskKindBulkAnalysis       TaskKind = "bulk_analysis"       // 批量分析中的一个子任务
)

// StepStatus 定义了处理步骤的状态。
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// MaxConsoleLogs 是单条任务记录上保留的控制台日志条数上限，
// 超出后最旧的条目被淘汰，用于限制文档大小。
const MaxConsoleLogs = 100

// MaxStackFrames 是错误堆栈保留的最大帧数。
const MaxStackFrames = 20

// DefaultMaxRetries 是任务创建时的默认最大重试次数。
const DefaultMaxRetries = 3

// ProcessingStep 代表任务执行过程中的一个处理步骤。
// 同名步骤在最终完成前可以被原地更新（每个名字最多一条活动条目）。
type ProcessingStep struct {
	Name        string     `bson:"name" json:"name"`
	Description string     `bson:"description" json:"description"`
	Status      StepStatus `bson:"status" json:"status"`
	Timestamp   time.Time  `bson:"timestamp" json:"timestamp"`
	DurationMs  *int64     `bson:"duration_ms,omitempty" json:"duration_ms,omitempty"`
}

// ConsoleLog 代表任务执行过程中追加的一条调试日志。
type ConsoleLog struct {
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Level     string    `bson:"level" json:"level"`
	Message   string    `bson:"message" json:"message"`
}

// RetrievalItem 记录了构造提示词时使用的检索上下文的来源。
type RetrievalItem struct {
	Filename string  `bson:"filename" json:"filename"`
	Score    float64 `bson:"score" json:"score"`
}

// TaskRecord 代表一次异步 AI 分析的持久化记录，
// 包含完整生命周期：请求、响应、解析结果、错误与耗时。
type TaskRecord struct {
	ID            string   `bson:"_id" json:"id"`                                          // 任务唯一ID (UUID string)
	TicketID      string   `bson:"ticket_id" json:"ticket_id"`                             // 所属工单ID，工单生命周期独立于任务
	Kind          TaskKind `bson:"kind" json:"kind"`                                       // 任务类型
	Status        TaskStatus `bson:"status" json:"status"`                                 // 任务当前状态
	Endpoint      string   `bson:"endpoint,omitempty" json:"endpoint,omitempty"`           // 服务本次请求的远端地址
	Model         string   `bson:"model,omitempty" json:"model,omitempty"`                 // 服务本次请求的模型名称
	CorrelationID string   `bson:"correlation_id,omitempty" json:"correlation_id,omitempty"` // 外部调度器的作业ID，存在时唯一（稀疏唯一索引）

	RequestPayload  map[string]interface{} `bson:"request_payload,omitempty" json:"request_payload,omitempty"`   // 原样保存的出站请求体
	ResponsePayload map[string]interface{} `bson:"response_payload,omitempty" json:"response_payload,omitempty"` // 原样保存的入站响应体

	RetrievalItems  []RetrievalItem  `bson:"retrieval_items,omitempty" json:"retrieval_items,omitempty"`
	ProcessingSteps []ProcessingStep `bson:"processing_steps,omitempty" json:"processing_steps,omitempty"`
	ConsoleLogs     []ConsoleLog     `bson:"console_logs,omitempty" json:"console_logs,omitempty"`

	TotalDurationMs  *int64 `bson:"total_duration_ms,omitempty" json:"total_duration_ms,omitempty"`
	RemoteDurationMs *int64 `bson:"remote_duration_ms,omitempty" json:"remote_duration_ms,omitempty"`
	ParseDurationMs  *int64 `bson:"parse_duration_ms,omitempty" json:"parse_duration_ms,omitempty"`

	// Result 是规范化后的完整分析结果。
	Result *NormalizedResult `bson:"result,omitempty" json:"result,omitempty"`

	// 结果摘要字段（为列表页反规范化）
	ConfidenceScore   *float64 `bson:"confidence_score,omitempty" json:"confidence_score,omitempty"`
	SuggestedPriority string   `bson:"suggested_priority,omitempty" json:"suggested_priority,omitempty"`
	Sentiment         string   `bson:"sentiment,omitempty" json:"sentiment,omitempty"`
	Tags              []string `bson:"tags,omitempty" json:"tags,omitempty"`
	HasSuggestedReply bool     `bson:"has_suggested_reply" json:"has_suggested_reply"`

	// 错误字段
	ErrorMessage string   `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ErrorKind    string   `bson:"error_kind,omitempty" json:"error_kind,omitempty"`
	ErrorStack   []string `bson:"error_stack,omitempty" json:"error_stack,omitempty"`
	RetryCount   int      `bson:"retry_count" json:"retry_count"`
	MaxRetries   int      `bson:"max_retries" json:"max_retries"`

	// FailureNotified 标记终态失败的审计通知是否已经写入工单，
	// 保证重试耗尽的收尾处理是幂等的。
	FailureNotified bool `bson:"failure_notified" json:"failure_notified"`

	SubmittedAt time.Time  `bson:"submitted_at" json:"submitted_at"`
	StartedAt   *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// AppendStep 追加或原地更新一个处理步骤。
// 同名步骤已存在时更新其内容（最新写入生效），否则追加到末尾。
func (t *TaskRecord) AppendStep(name, description string, status StepStatus, durationMs *int64) {
	for i := range t.ProcessingSteps {
		if t.ProcessingSteps[i].Name == name {
			t.ProcessingSteps[i].Description = description
			t.ProcessingSteps[i].Status = status
			t.ProcessingSteps[i].Timestamp = time.Now()
			t.ProcessingSteps[i].DurationMs = durationMs
			return
		}
	}
	t.ProcessingSteps = append(t.ProcessingSteps, ProcessingStep{
		Name:        name,
		Description: description,
		Status:      status,
		Timestamp:   time.Now(),
		DurationMs:  durationMs,
	})
}

// AppendLog 追加一条控制台日志，只保留最近 MaxConsoleLogs 条（最旧先淘汰）。
func (t *TaskRecord) AppendLog(level, message string) {
	t.ConsoleLogs = append(t.ConsoleLogs, ConsoleLog{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	if n := len(t.ConsoleLogs); n > MaxConsoleLogs {
		t.ConsoleLogs = t.ConsoleLogs[n-MaxConsoleLogs:]
	}
}

// MarkCompleted 将任务置为完成态并合并结果摘要字段。
// 不做状态机合法性校验：任何当前状态下调用都会被如实记录。
func (t *TaskRecord) MarkCompleted(result *NormalizedResult) {
	t.Status = TaskStatusCompleted
	now := time.Now()
	t.CompletedAt = &now
	if result == nil {
		return
	}
	t.Result = result
	if result.ConfidenceScore != nil {
		score := clamp01(*result.ConfidenceScore)
		t.ConfidenceScore = &score
	}
	t.SuggestedPriority = result.PrioritySuggestion
	t.Sentiment = result.Sentiment
	t.Tags = result.Tags
	t.HasSuggestedReply = result.SuggestedResponse != ""
}

// MarkFailed 记录一次失败。retry_count 自增后仍小于 maxRetries 时
// 状态转为 retrying，否则转为 failed（终态）。maxRetries 由调用方
// 按错误类别给出，并回写到 max_retries 字段上。
func (t *TaskRecord) MarkFailed(message, kind string, stack []string, maxRetries int) {
	t.RetryCount++
	t.ErrorMessage = message
	t.ErrorKind = kind
	if len(stack) > MaxStackFrames {
		stack = stack[:MaxStackFrames]
	}
	t.ErrorStack = stack
	if maxRetries > 0 {
		t.MaxRetries = maxRetries
	}
	if t.RetryCount >= t.MaxRetries {
		t.Status = TaskStatusFailed
		now := time.Now()
		t.CompletedAt = &now
	} else {
		t.Status = TaskStatusRetrying
	}
}

// IsActive 判断任务是否处于未完结状态（用于同工单的并发去重检查）。
func (t *TaskRecord) IsActive() bool {
	switch t.Status {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusRetrying:
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
