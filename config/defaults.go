// =============================================================================
// 📦 llmgate 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/llm/processor"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Coalescer:  coalescer.DefaultConfig(),
		Downstream: processor.DefaultConfig(),
		Tokenizer:  DefaultTokenizerConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultTokenizerConfig 返回默认 Token 计数配置
func DefaultTokenizerConfig() TokenizerConfig {
	return TokenizerConfig{
		Tiktoken:      true,
		CharsPerToken: 4,
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
		ServiceName:  "llmgate",
		SampleRate:   0.1,
	}
}
