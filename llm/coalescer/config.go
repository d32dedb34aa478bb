package coalescer

import (
	"time"

	"github.com/BaSui01/llmgate/llm/fingerprint"
	"github.com/BaSui01/llmgate/types"
)

// Config 合并层配置，构造时确定，运行期不变。
type Config struct {
	// BatchSize 单批最大请求数
	BatchSize int `yaml:"batch_size" json:"batch_size" env:"BATCH_SIZE"`
	// MaxWaitTime 批次自第一个请求入队起的最长等待时间
	MaxWaitTime time.Duration `yaml:"max_wait_time" json:"max_wait_time" env:"MAX_WAIT_TIME"`
	// ConcurrencyLimit 同时执行的下游调用上限
	ConcurrencyLimit int `yaml:"concurrency_limit" json:"concurrency_limit" env:"CONCURRENCY_LIMIT"`
	// CacheTTL 缓存条目存活时间
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"CACHE_TTL"`
	// CacheMaxSize 缓存条目上限
	CacheMaxSize int `yaml:"cache_max_size" json:"cache_max_size" env:"CACHE_MAX_SIZE"`
	// DedupeEnabled 是否合并并发的相同请求
	DedupeEnabled bool `yaml:"dedupe_enabled" json:"dedupe_enabled" env:"DEDUPE_ENABLED"`
	// CleanupInterval 过期缓存清理周期，0 表示只依赖读取时的惰性检查
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// Defaults 计算指纹前补齐的请求默认值
	Defaults fingerprint.Defaults `yaml:"defaults" json:"defaults" env:"DEFAULTS"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BatchSize:        10,
		MaxWaitTime:      100 * time.Millisecond,
		ConcurrencyLimit: 5,
		CacheTTL:         time.Hour,
		CacheMaxSize:     1000,
		DedupeEnabled:    true,
		Defaults:         fingerprint.DefaultDefaults(),
	}
}

// Validate 校验配置，非法配置返回 CONFIGURATION 错误
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return types.NewConfigurationError("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxWaitTime <= 0 {
		return types.NewConfigurationError("max_wait_time must be positive, got %s", c.MaxWaitTime)
	}
	if c.ConcurrencyLimit <= 0 {
		return types.NewConfigurationError("concurrency_limit must be positive, got %d", c.ConcurrencyLimit)
	}
	if c.CacheTTL <= 0 {
		return types.NewConfigurationError("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.CacheMaxSize <= 0 {
		return types.NewConfigurationError("cache_max_size must be positive, got %d", c.CacheMaxSize)
	}
	if c.CleanupInterval < 0 {
		return types.NewConfigurationError("cleanup_interval must not be negative, got %s", c.CleanupInterval)
	}
	return nil
}
