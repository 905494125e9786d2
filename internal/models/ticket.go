package models

import "time"

// AnalysisProjection 是工单上缓存的最近一次分析结果的只读投影，
// 由编排器在任务到达终态后单独更新，供列表页快速展示。
type AnalysisProjection struct {
	TaskID            string    `bson:"task_id" json:"task_id"`
	ConfidenceScore   *float64  `bson:"confidence_score,omitempty" json:"confidence_score,omitempty"`
	SuggestedPriority string    `bson:"suggested_priority,omitempty" json:"suggested_priority,omitempty"`
	Sentiment         string    `bson:"sentiment,omitempty" json:"sentiment,omitempty"`
	Tags              []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	HasSuggestedReply bool      `bson:"has_suggested_reply" json:"has_suggested_reply"`
	AnalyzedAt        time.Time `bson:"analyzed_at" json:"analyzed_at"`
}

// TicketActivity 是工单上的一条审计记录。
type TicketActivity struct {
	Actor       string    `bson:"actor" json:"actor"`
	Action      string    `bson:"action" json:"action"`
	Description string    `bson:"description" json:"description"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
}

// Ticket 代表一张客服工单。本服务只读取工单内容用于构造提示词，
// 并通过 TicketStore 写入分析投影和审计记录；工单的 CRUD 属于外部系统。
type Ticket struct {
	ID             string              `bson:"_id" json:"id"`
	Subject        string              `bson:"subject" json:"subject"`
	Description    string              `bson:"description" json:"description"`
	Requester      string              `bson:"requester,omitempty" json:"requester,omitempty"`
	Priority       string              `bson:"priority,omitempty" json:"priority,omitempty"`
	LatestAnalysis *AnalysisProjection `bson:"latest_analysis,omitempty" json:"latest_analysis,omitempty"`
	Activities     []TicketActivity    `bson:"activities,omitempty" json:"activities,omitempty"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `bson:"updated_at" json:"updated_at"`
}
