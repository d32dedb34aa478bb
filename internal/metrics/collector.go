// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 coalescer.Recorder
type Collector struct {
	namespace string

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 合并层指标
	cacheLookups       *prometheus.CounterVec
	dedupRequests      *prometheus.CounterVec
	batchFlushes       *prometheus.CounterVec
	batchSize          prometheus.Histogram
	batchDuration      *prometheus.HistogramVec
	cacheWriteFailures prometheus.Counter
	tokensSaved        prometheus.Counter

	// 下游指标
	downstreamRequests *prometheus.CounterVec
	downstreamDuration prometheus.Histogram

	logger *zap.Logger
}

var _ coalescer.Recorder = (*Collector)(nil)

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 合并层指标
	c.cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coalescer",
			Name:      "cache_lookups_total",
			Help:      "Total number of response cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	c.dedupRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coalescer",
			Name:      "dedup_requests_total",
			Help:      "Requests that reached the in-flight deduplicator",
		},
		[]string{"role"}, // leader, joined
	)

	c.batchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coalescer",
			Name:      "batch_flushes_total",
			Help:      "Total number of batch flushes",
		},
		[]string{"trigger", "status"},
	)

	c.batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coalescer",
			Name:      "batch_size",
			Help:      "Number of requests per flushed batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	c.batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coalescer",
			Name:      "batch_duration_seconds",
			Help:      "Processor duration per flushed batch",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"trigger"},
	)

	c.cacheWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coalescer",
			Name:      "cache_write_failures_total",
			Help:      "Results that could not be stored in the cache",
		},
	)

	c.tokensSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coalescer",
			Name:      "tokens_saved_total",
			Help:      "Estimated tokens served from cache instead of downstream",
		},
	)

	// 下游指标
	c.downstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downstream",
			Name:      "requests_total",
			Help:      "Total number of downstream batch calls",
		},
		[]string{"code"},
	)

	c.downstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "downstream",
			Name:      "request_duration_seconds",
			Help:      "Downstream batch call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔀 合并层指标记录
// =============================================================================

// RecordCacheLookup 记录缓存查询
func (c *Collector) RecordCacheLookup(hit bool) {
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordDedup 记录去重结果，shared 表示加入了已在执行的调用
func (c *Collector) RecordDedup(shared bool) {
	if shared {
		c.dedupRequests.WithLabelValues("joined").Inc()
		return
	}
	c.dedupRequests.WithLabelValues("leader").Inc()
}

// RecordBatchFlush 记录一次批次刷新
func (c *Collector) RecordBatchFlush(trigger string, size int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.batchFlushes.WithLabelValues(trigger, status).Inc()
	c.batchSize.Observe(float64(size))
	c.batchDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordCacheWriteFailure 记录缓存写入失败
func (c *Collector) RecordCacheWriteFailure() {
	c.cacheWriteFailures.Inc()
}

// RecordTokensSaved 记录缓存命中节省的 Token
func (c *Collector) RecordTokensSaved(tokens int) {
	if tokens > 0 {
		c.tokensSaved.Add(float64(tokens))
	}
}

// =============================================================================
// 🌐 下游指标记录
// =============================================================================

// RecordDownstreamCall 记录一次下游批量调用
func (c *Collector) RecordDownstreamCall(duration time.Duration, err error) {
	code := "OK"
	if err != nil {
		code = string(types.GetErrorCode(err))
		if code == "" {
			code = "UNKNOWN"
		}
	}
	c.downstreamRequests.WithLabelValues(code).Inc()
	c.downstreamDuration.Observe(duration.Seconds())
}

// RegisterStatsGauges 以 GaugeFunc 暴露合并层的即时状态
func (c *Collector) RegisterStatsGauges(stats func() coalescer.Stats) {
	gauge := func(name, help string, value func(coalescer.Stats) float64) {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "coalescer",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}

	gauge("cache_entries", "Entries currently held in the response cache",
		func(s coalescer.Stats) float64 { return float64(s.Cache.Size) })
	gauge("cache_hit_rate", "Response cache hit rate since the last clear",
		func(s coalescer.Stats) float64 { return s.Cache.HitRate })
	gauge("inflight_keys", "Fingerprints with a shared call in flight",
		func(s coalescer.Stats) float64 { return float64(s.Dedup.InFlight) })
	gauge("pending_items", "Requests waiting in unflushed batches",
		func(s coalescer.Stats) float64 { return float64(s.Batch.PendingItems) })
	gauge("active_batches", "Batches currently executing downstream",
		func(s coalescer.Stats) float64 { return float64(s.Executor.Active) })
	gauge("warm_runs", "Completed cache warm runs since the last clear",
		func(s coalescer.Stats) float64 { return float64(s.Warm.Runs) })
	gauge("warm_failures", "Requests that failed during cache warming since the last clear",
		func(s coalescer.Stats) float64 { return float64(s.Warm.Failed) })
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
