package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/llm/processor"
	"github.com/BaSui01/llmgate/types"
)

// Config 是 llmgate 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Coalescer 请求合并层配置
	Coalescer coalescer.Config `yaml:"coalescer" env:"COALESCER"`

	// Downstream 下游生成端点配置
	Downstream processor.Config `yaml:"downstream" env:"DOWNSTREAM"`

	// Warm 定时缓存预热，Interval 为 0 时不启用
	Warm WarmConfig `yaml:"warm" env:"WARM"`

	// Tokenizer Token 计数配置
	Tokenizer TokenizerConfig `yaml:"tokenizer" env:"TOKENIZER"`

	// JWT 认证配置，Secret 与 PublicKey 都为空时不启用
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不启动独立的 metrics 服务
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 请求体大小上限
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// API Keys，为空时不启用 API Key 认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 query 参数传递 API Key
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// 每个客户端 IP 的限流速率，0 表示不限流
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TLS 证书
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// WarmConfig 定时缓存预热配置
type WarmConfig struct {
	// 预热周期，0 表示不启用
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 预热使用的模型，为空时使用合并层默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 需要预热的提示词，通常是最常见的查询
	Prompts []string `yaml:"prompts" env:"PROMPTS"`
}

// Enabled 是否启用定时预热
func (w WarmConfig) Enabled() bool {
	return w.Interval > 0 && len(w.Prompts) > 0
}

// Requests 把提示词转换为预热请求
func (w WarmConfig) Requests() []*types.Request {
	reqs := make([]*types.Request, len(w.Prompts))
	for i, p := range w.Prompts {
		reqs[i] = &types.Request{Model: w.Model, Prompt: p}
	}
	return reqs
}

// TokenizerConfig Token 计数配置
type TokenizerConfig struct {
	// 是否注册 tiktoken 编码器，关闭时全部使用字符估算
	Tiktoken bool `yaml:"tiktoken" env:"TIKTOKEN"`
	// 估算器的每 Token 字符数
	CharsPerToken float64 `yaml:"chars_per_token" env:"CHARS_PER_TOKEN"`
}

// JWTConfig JWT 认证配置，支持 HS256 与 RS256
type JWTConfig struct {
	// HMAC 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RSA 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的签发方
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的受众
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了任一验证密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC 连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate 汇总所有非法项，返回 CONFIGURATION 错误
func (c *Config) Validate() error {
	var problems []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	s := c.Server
	check(!validPort(s.HTTPPort), "invalid HTTP port %d", s.HTTPPort)
	check(s.MetricsPort != 0 && !validPort(s.MetricsPort), "invalid metrics port %d", s.MetricsPort)
	check(s.MetricsPort != 0 && s.MetricsPort == s.HTTPPort, "metrics port must differ from HTTP port")
	check((s.TLSCertFile == "") != (s.TLSKeyFile == ""), "tls_cert_file and tls_key_file must be set together")
	check(s.MaxBodyBytes <= 0, "max_body_bytes must be positive")
	check(s.RateLimitRPS < 0, "rate_limit_rps must not be negative")

	if err := c.Coalescer.Validate(); err != nil {
		problems = append(problems, err)
	}

	d := c.Downstream
	check(d.BaseURL == "", "downstream base_url is required")
	check(d.RateLimit < 0, "downstream rate_limit must not be negative")

	check(c.Warm.Interval < 0, "warm interval must not be negative")
	check(c.Warm.Interval > 0 && len(c.Warm.Prompts) == 0, "warm prompts are required when warm interval is set")

	check(c.Tokenizer.CharsPerToken < 0, "tokenizer chars_per_token must not be negative")
	check(c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1,
		"telemetry sample_rate must be between 0 and 1")

	if len(problems) == 0 {
		return nil
	}
	return types.NewConfigurationError("invalid config").WithCause(errors.Join(problems...))
}

func validPort(p int) bool { return p > 0 && p <= 65535 }
