// =============================================================================
// 📦 CareFlow 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/careflow/types"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Storage:   DefaultStorageConfig(),
		LLM:       DefaultLLMConfig(),
		Patient:   DefaultPatientConfig(),
		GroupChat: DefaultGroupChatConfig(),
		Blob:      BlobConfig{URLTTL: 15 * time.Minute},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Agents:    DefaultAgents(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		LockTTL:      5 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "careflow",
		Name:            "careflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "careflow",
		Collection: "chat_contexts",
		Timeout:    10 * time.Second,
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Type:       "file",
		BaseDir:    "./data/chat-sessions",
		KeyPrefix:  "careflow:",
		Table:      "careflow_blobs",
		MaxRetries: 3,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:     "openai",
		APIVersion:   "2024-10-21",
		DefaultModel: "gpt-4o",
		Timeout:      60 * time.Second,
		MaxRetries:   2,
	}
}

// DefaultPatientConfig 返回默认患者上下文配置
func DefaultPatientConfig() PatientConfig {
	return PatientConfig{
		PatientIDPattern:     `^patient_[0-9]+$`,
		ShortMessageMaxLen:   15,
		ShortMessageKeywords: []string{"patient", "clear", "switch"},
		AnalyzerModel:        "gpt-4o",
		AnalyzerTemperature:  0.1,
		AnalyzerMaxTokens:    200,
		AnalyzerTimeout:      15 * time.Second,
	}
}

// DefaultGroupChatConfig 返回默认群聊配置
func DefaultGroupChatConfig() GroupChatConfig {
	return GroupChatConfig{
		MaximumIterations: 30,
		PlanGate:          true,
		StrategyModel:     "gpt-4o",
		StrategyMaxTokens: 300,
		StrategyTimeout:   30 * time.Second,
		MaxResponseTokens: 1024,
		ProbeTimeout:      5 * time.Second,
		PersistTimeout:    10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "careflow",
		SampleRate:   0.1,
	}
}

// DefaultAgents 返回内置的最小花名册
func DefaultAgents() []types.AgentConfig {
	return []types.AgentConfig{
		{
			Name:        "Orchestrator",
			Facilitator: true,
			Description: "Moderates the conversation and plans which specialist acts next.",
			Instructions: "You are the facilitator of a clinical team. The available agents are:\n\t\t" +
				"{{aiAgents}}\n" +
				"Propose a numbered plan and ask the user to confirm it before any agent acts. " +
				"Address agents by name when handing over.",
		},
		{
			Name:         "PatientHistory",
			Description:  "Builds the clinical timeline for the active patient.",
			Instructions: "Summarize the active patient's history as a dated timeline. Say so when no data is available.",
		},
	}
}
