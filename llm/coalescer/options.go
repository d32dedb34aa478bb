package coalescer

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/clock"
	"github.com/BaSui01/llmgate/llm/tokenizer"
	"github.com/BaSui01/llmgate/types"
)

// Recorder 接收合并层的观测事件，由指标采集器实现
type Recorder interface {
	RecordCacheLookup(hit bool)
	RecordDedup(shared bool)
	RecordBatchFlush(trigger string, size int, duration time.Duration, err error)
	RecordCacheWriteFailure()
	RecordTokensSaved(tokens int)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheLookup(bool)                             {}
func (nopRecorder) RecordDedup(bool)                                   {}
func (nopRecorder) RecordBatchFlush(string, int, time.Duration, error) {}
func (nopRecorder) RecordCacheWriteFailure()                           {}
func (nopRecorder) RecordTokensSaved(int)                              {}

// GroupKeyFunc 返回请求所属的批处理分组
type GroupKeyFunc func(req *types.Request) string

// Fingerprinter 将请求映射为缓存与去重键
type Fingerprinter interface {
	Fingerprint(req *types.Request) (string, error)
}

type options struct {
	logger          *zap.Logger
	clock           clock.Clock
	recorder        Recorder
	fingerprinter   Fingerprinter
	groupKey        GroupKeyFunc
	counter         *tokenizer.Counter
	tracer          trace.Tracer
	cleanupInterval *time.Duration
	warmInterval    time.Duration
	warmSource      WarmSource
}

// Option 配置 Coalescer 的可选依赖
type Option func(*options)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock 设置缓存 TTL 与批次截止定时器使用的时钟
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRecorder 设置观测事件接收方
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithFingerprinter 替换默认的 SHA-256 指纹生成器
func WithFingerprinter(f Fingerprinter) Option {
	return func(o *options) { o.fingerprinter = f }
}

// WithGroupKeyFunc 替换默认的 模型@端点 分组规则
func WithGroupKeyFunc(fn GroupKeyFunc) Option {
	return func(o *options) { o.groupKey = fn }
}

// WithTokenCounter 设置用于统计节省 token 的计数器
func WithTokenCounter(c *tokenizer.Counter) Option {
	return func(o *options) { o.counter = c }
}

// WithTracer 设置 tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithCleanupInterval 覆盖配置中的过期缓存清理周期
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = &d }
}

// WithWarmSchedule 启动后立即预热一次，之后每隔 interval 用 source 提供的请求预热缓存
func WithWarmSchedule(interval time.Duration, source WarmSource) Option {
	return func(o *options) {
		o.warmInterval = interval
		o.warmSource = source
	}
}
