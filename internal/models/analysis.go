package models

// NormalizedResult 是从远端文本生成服务的原始输出中提取出的固定结构。
// 字段缺失时保持零值；confidence_score 按原样透传，不做范围校验。
type NormalizedResult struct {
	Tags               []string `bson:"tags" json:"tags"`
	Summary            string   `bson:"summary,omitempty" json:"summary,omitempty"`
	Sentiment          string   `bson:"sentiment,omitempty" json:"sentiment,omitempty"`
	PrioritySuggestion string   `bson:"priority_suggestion,omitempty" json:"priority_suggestion,omitempty"`
	SuggestedResponse  string   `bson:"suggested_response,omitempty" json:"suggested_response,omitempty"`
	ConfidenceScore    *float64 `bson:"confidence_score,omitempty" json:"confidence_score,omitempty"`
	SuggestedActions   []string `bson:"suggested_actions" json:"suggested_actions"`
	SourceFiles        []string `bson:"source_files,omitempty" json:"source_files,omitempty"`

	// Degraded 为 true 表示结构化解析完全失败，
	// 结果退化为原始文本前 500 字符的摘要加固定 0.5 置信度。
	Degraded bool `bson:"degraded" json:"degraded"`
}

// TaskEnvelope 是通过 Kafka 在入队方和 worker 之间传递的任务信封。
// 记录本体以 MongoDB 为准，信封只携带定位执行所需的最小信息。
type TaskEnvelope struct {
	TaskID        string   `json:"task_id"`
	TicketID      string   `json:"ticket_id"`
	Kind          TaskKind `json:"kind"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Actor         string   `json:"actor,omitempty"` // 发起本次提交的操作者，用于审计归属
	Attempt       int      `json:"attempt"`         // 第几次投递，0 表示首次
}
