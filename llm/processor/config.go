package processor

import "time"

// Config 下游生成端点配置
type Config struct {
	// BaseURL 下游服务地址，例如 http://generator:8000
	BaseURL string `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	// Path 批量生成接口路径
	Path string `yaml:"path" json:"path" env:"PATH"`
	// APIKey 以 Bearer 形式发送，留空则不发送
	APIKey string `yaml:"api_key" json:"-" env:"API_KEY"`
	// Timeout 单次 HTTP 调用超时
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// RateLimit 每秒允许的下游调用数，0 表示不限速
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
	// RateBurst 令牌桶容量
	RateBurst int `yaml:"rate_burst" json:"rate_burst" env:"RATE_BURST"`
	// Breaker 熔断配置
	Breaker BreakerConfig `yaml:"breaker" json:"breaker" env:"BREAKER"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold uint32 `yaml:"failure_threshold" json:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// OpenTimeout 熔断恢复等待时间（Open -> HalfOpen）
	OpenTimeout time.Duration `yaml:"open_timeout" json:"open_timeout" env:"OPEN_TIMEOUT"`
	// HalfOpenMaxCalls 半开状态下允许的最大请求数
	HalfOpenMaxCalls uint32 `yaml:"half_open_max_calls" json:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
	// Interval 关闭状态下清零计数的周期，0 表示不清零
	Interval time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8000",
		Path:      "/v1/generate/batch",
		Timeout:   30 * time.Second,
		RateLimit: 10,
		RateBurst: 5,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      60 * time.Second,
			HalfOpenMaxCalls: 3,
		},
	}
}
