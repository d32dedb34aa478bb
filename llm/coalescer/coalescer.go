package coalescer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/clock"
	"github.com/BaSui01/llmgate/internal/pool"
	"github.com/BaSui01/llmgate/llm/batch"
	"github.com/BaSui01/llmgate/llm/cache"
	"github.com/BaSui01/llmgate/llm/dedup"
	"github.com/BaSui01/llmgate/llm/fingerprint"
	"github.com/BaSui01/llmgate/llm/tokenizer"
	"github.com/BaSui01/llmgate/types"
)

const instrumentationName = "github.com/BaSui01/llmgate/llm/coalescer"

var (
	// ErrClosed 在 Close 之后调用 Execute 时返回
	ErrClosed = types.NewError(types.ErrClosed, "coalescer closed")
	// ErrNoResult 处理器在请求对应的位置返回了 nil
	ErrNoResult = types.NewError(types.ErrUpstreamError, "processor returned no result for request")
)

// Processor 对一批原始请求执行下游调用。
// 返回与 reqs 等长的结果时逐项对应；只返回一个结果时广播给整批。
type Processor func(ctx context.Context, reqs []*types.Request) ([]*types.Response, error)

// cachedResult 是缓存中保存的一次成功结果
type cachedResult struct {
	resp   *types.Response
	tokens int
	size   int
}

// Coalescer 位于慢速、限流的下游生成端点之前，
// 通过缓存、并发去重与批处理减少下游调用次数。
type Coalescer struct {
	cfg       Config
	processor Processor

	fingerprinter Fingerprinter
	groupKey      GroupKeyFunc
	cache         *cache.LRU[cachedResult]
	inflight      *dedup.Group[*types.Response]
	batcher       *batch.Accumulator[*types.Request, *types.Response]
	executor      *pool.Executor
	counter       *tokenizer.Counter

	clock    clock.Clock
	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger

	tokensSaved        atomic.Int64
	cacheWriteFailures atomic.Int64
	closed             atomic.Bool
	// generation 在每次 Clear 时递增，Clear 之前发起的执行不再回填缓存
	generation atomic.Uint64
	warm       warmer

	stopCleanup chan struct{}
	cleanupDone sync.WaitGroup
	closeOnce   sync.Once
}

// New 创建 Coalescer。配置非法时返回 CONFIGURATION 错误。
func New(cfg Config, processor Processor, opts ...Option) (*Coalescer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if processor == nil {
		return nil, types.NewConfigurationError("processor is required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.counter == nil {
		o.counter = tokenizer.NewCounter(nil, o.logger)
	}
	if o.fingerprinter == nil || o.groupKey == nil {
		fp := fingerprint.New(cfg.Defaults)
		if o.fingerprinter == nil {
			o.fingerprinter = fp
		}
		if o.groupKey == nil {
			o.groupKey = fp.GroupKey
		}
	}
	if o.cleanupInterval != nil {
		cfg.CleanupInterval = *o.cleanupInterval
	}

	clk := clock.OrReal(o.clock)
	logger := o.logger.With(zap.String("component", "coalescer"))
	executor := pool.NewExecutor(pool.ExecutorConfig{
		Limit: cfg.ConcurrencyLimit,
		PanicHandler: func(r any) {
			logger.Error("flush task panicked", zap.Any("panic", r))
		},
	})

	c := &Coalescer{
		cfg:           cfg,
		processor:     processor,
		fingerprinter: o.fingerprinter,
		groupKey:      o.groupKey,
		cache:         cache.NewLRU[cachedResult](cache.Config{MaxSize: cfg.CacheMaxSize, TTL: cfg.CacheTTL}, clk),
		inflight:      dedup.NewGroup[*types.Response](o.logger),
		executor:      executor,
		counter:       o.counter,
		clock:         clk,
		recorder:      o.recorder,
		tracer:        o.tracer,
		logger:        logger,
		stopCleanup:   make(chan struct{}),
	}

	c.batcher = batch.NewAccumulator(
		batch.Config{
			MaxBatchSize:   cfg.BatchSize,
			MaxWaitTime:    cfg.MaxWaitTime,
			MaxConcurrency: cfg.ConcurrencyLimit,
		},
		batch.Handler[*types.Request, *types.Response](processor),
		batch.WithLogger(o.logger),
		batch.WithClock(clk),
		batch.WithExecutor(executor),
		batch.WithTracer(o.tracer),
		batch.WithFlushObserver(func(fi batch.FlushInfo) {
			c.recorder.RecordBatchFlush(string(fi.Trigger), fi.Size, fi.Duration, fi.Err)
		}),
	)

	if cfg.CleanupInterval > 0 {
		c.cleanupDone.Add(1)
		go c.cleanupLoop(cfg.CleanupInterval)
	}
	if o.warmSource != nil && o.warmInterval > 0 {
		c.cleanupDone.Add(1)
		go c.warmLoop(o.warmInterval, o.warmSource)
	}

	logger.Info("coalescer initialized",
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("max_wait_time", cfg.MaxWaitTime),
		zap.Int("concurrency_limit", cfg.ConcurrencyLimit),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("cache_max_size", cfg.CacheMaxSize),
		zap.Bool("dedupe_enabled", cfg.DedupeEnabled),
	)

	return c, nil
}

// Config 返回生效的配置
func (c *Coalescer) Config() Config {
	return c.cfg
}

// Execute 走完整流程：指纹 → 缓存 → 去重 → 批处理 → 回填缓存。
//
// 调用方看到的错误只有下游处理器原样返回的错误、CLEARED、CLOSED、请求本身非法的错误，
// 以及处理器在该请求位置返回 nil 时的 ErrNoResult；
// 缓存写入失败只记录日志。并发合并的调用方共享同一个 *types.Response，不应修改它。
func (c *Coalescer) Execute(ctx context.Context, req *types.Request) (*types.Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	key, err := c.fingerprinter.Fingerprint(req)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "coalescer.execute",
		trace.WithAttributes(attribute.String("coalescer.fingerprint", key)),
	)
	defer span.End()

	if hit, ok := c.cache.Get(key); ok {
		c.recorder.RecordCacheLookup(true)
		c.tokensSaved.Add(int64(hit.tokens))
		c.recorder.RecordTokensSaved(hit.tokens)
		span.SetAttributes(attribute.Bool("coalescer.cache_hit", true))

		resp := hit.resp.Clone()
		resp.Cached = true
		return resp, nil
	}
	c.recorder.RecordCacheLookup(false)
	span.SetAttributes(attribute.Bool("coalescer.cache_hit", false))

	group := c.groupKey(req)
	produce := func(ctx context.Context) (*types.Response, error) {
		gen := c.generation.Load()
		resp, err := c.batcher.SubmitWait(ctx, group, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, ErrNoResult
		}
		if c.generation.Load() == gen {
			c.storeResult(key, req, resp)
		}
		return resp, nil
	}

	var resp *types.Response
	if c.cfg.DedupeEnabled {
		var shared bool
		resp, shared, err = c.inflight.DoShared(ctx, key, produce)
		c.recorder.RecordDedup(shared)
		span.SetAttributes(attribute.Bool("coalescer.shared", shared))
	} else {
		resp, err = produce(ctx)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

// storeResult 写入缓存。序列化、计数或写入中的任何失败都只记录日志，不影响调用方。
func (c *Coalescer) storeResult(key string, req *types.Request, resp *types.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.cacheWriteFailures.Add(1)
			c.recorder.RecordCacheWriteFailure()
			c.logger.Warn("cache write panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()

	if resp == nil {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		c.cacheWriteFailures.Add(1)
		c.recorder.RecordCacheWriteFailure()
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}

	entry := cachedResult{
		resp:   resp.Clone(),
		tokens: c.counter.CountResponse(req, resp),
		size:   len(data),
	}
	c.cache.Set(key, entry)

	c.logger.Debug("result cached",
		zap.String("key", key),
		zap.Int("bytes", entry.size),
		zap.Int("tokens", entry.tokens),
	)
}

// ProcessParallel 绕过缓存与批处理，以有界并发逐个调用处理器，结果顺序与输入一致。
// proc 为 nil 时使用构造时的处理器；limit <= 0 时使用 ConcurrencyLimit。
// 单个请求失败只体现在对应位置，不取消其他请求。
func (c *Coalescer) ProcessParallel(ctx context.Context, reqs []*types.Request, proc Processor, limit int) []pool.Result[*types.Response] {
	if proc == nil {
		proc = c.processor
	}
	if limit <= 0 {
		limit = c.cfg.ConcurrencyLimit
	}

	ctx, span := c.tracer.Start(ctx, "coalescer.process_parallel",
		trace.WithAttributes(
			attribute.Int("coalescer.requests", len(reqs)),
			attribute.Int("coalescer.limit", limit),
		),
	)
	defer span.End()

	ops := make([]pool.Operation[*types.Response], len(reqs))
	for i, req := range reqs {
		ops[i] = func(ctx context.Context) (*types.Response, error) {
			if c.closed.Load() {
				return nil, ErrClosed
			}
			results, err := proc(ctx, []*types.Request{req})
			if err != nil {
				return nil, err
			}
			if len(results) != 1 {
				return nil, batch.ErrResultMismatch
			}
			if results[0] == nil {
				return nil, ErrNoResult
			}
			return results[0], nil
		}
	}

	start := c.clock.Now()
	results := pool.RunAll(ctx, ops, limit)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	c.logger.Debug("parallel processing completed",
		zap.Int("requests", len(reqs)),
		zap.Int("failed", failed),
		zap.Int("limit", limit),
		zap.Duration("duration", c.clock.Since(start)),
	)
	return results
}

// Stats 返回各组件的统计快照
func (c *Coalescer) Stats() Stats {
	return Stats{
		Cache:              c.cache.Stats(),
		Dedup:              c.inflight.Stats(),
		Batch:              c.batcher.Stats(),
		Executor:           c.executor.Stats(),
		TokensSaved:        c.tokensSaved.Load(),
		CacheWriteFailures: c.cacheWriteFailures.Load(),
		Warm:               c.warm.stats(),
	}
}

// Clear 清空缓存、在途请求与待处理批次；仍在等待的调用方收到 CLEARED 错误。
// 缓存统计、节省 token 计数与预热统计一并归零。
func (c *Coalescer) Clear() {
	c.generation.Add(1)
	c.cache.Clear()
	c.inflight.Clear()
	c.batcher.Clear()
	c.tokensSaved.Store(0)
	c.cacheWriteFailures.Store(0)
	c.warm.reset()

	c.logger.Info("coalescer cleared")
}

// Close 停止接收请求，提交剩余批次并等待其完成。
func (c *Coalescer) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCleanup)
		c.cleanupDone.Wait()
		c.batcher.Close()
		c.executor.Close()
		c.logger.Info("coalescer closed")
	})
}

// HealthCheck 在 Close 之后返回 CLOSED
func (c *Coalescer) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// PurgeExpired 立即清理过期缓存条目
func (c *Coalescer) PurgeExpired() int {
	return c.cache.PurgeExpired()
}

func (c *Coalescer) cleanupLoop(interval time.Duration) {
	defer c.cleanupDone.Done()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-c.clock.After(interval):
			if n := c.cache.PurgeExpired(); n > 0 {
				c.logger.Debug("expired cache entries purged", zap.Int("count", n))
			}
		}
	}
}

// String 实现 fmt.Stringer，便于日志输出
func (c *Coalescer) String() string {
	s := c.cache.Stats()
	return fmt.Sprintf("coalescer{cache=%d/%d hit_rate=%.2f}", s.Size, s.MaxSize, s.HitRate)
}
