package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	MongoDB MongoConfig `yaml:"mongodb"` // MongoDB 数据库配置
	Kafka   KafkaConfig `yaml:"kafka"`   // Kafka 消息队列配置
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// OpenAIConfig 包含了 OpenAI 兼容端点的配置。
// BaseURL 和 APIKey 缺失时客户端构造会立即失败（配置错误不重试）。
type OpenAIConfig struct {
	BaseURL string `yaml:"baseURL"` // 聊天补全端点地址
	APIKey  string `yaml:"apiKey"`  // 访问凭证
	Model   string `yaml:"model"`   // 模型名称
}

// LLMConfig 包含了不同LLM提供商的配置。
type LLMConfig struct {
	Provider string       `yaml:"provider"` // LLM提供商 (例如: "openai")
	OpenAI   OpenAIConfig `yaml:"openai"`   // OpenAI 兼容端点配置
}

// AnalysisConfig 定义了分析服务自身的配置。
type AnalysisConfig struct {
	ServerAddress    string  `yaml:"serverAddress"`    // HTTP 服务监听地址
	TaskCollection   string  `yaml:"taskCollection"`   // 任务记录集合名称
	TicketCollection string  `yaml:"ticketCollection"` // 工单集合名称
	KafkaTasksTopic  string  `yaml:"kafkaTasksTopic"`  // 任务信封主题
	KafkaGroupID     string  `yaml:"kafkaGroupID"`     // worker 消费组ID
	ReplyThreshold   float64 `yaml:"replyThreshold"`   // 触发回复建议二次调用的置信度阈值 (默认 0.7)
	BackoffBase      string  `yaml:"backoffBase"`      // 重试退避基准时长 (例如: "2s")
	BackoffFactor    float64 `yaml:"backoffFactor"`    // 重试退避倍率 (例如: 2.0)
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了 API 限流器的配置。
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"`     // 每秒放行速率
	Capacity int     `yaml:"capacity"` // 令牌桶容量
}

// CircuitBreakerConfig 定义了远端调用熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	LLM        LLMConfig        `yaml:"llm"`        // LLM 配置部分
	Databases  DatabaseConfigs  `yaml:"databases"`  // 数据库配置
	Analysis   AnalysisConfig   `yaml:"analysis"`   // 分析服务配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 中间件配置
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取或解析失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	// 将 YAML 内容解析到 cfg 结构体中。
	err = yaml.Unmarshal(yamlFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	return &cfg, nil
}
