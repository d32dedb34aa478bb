package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/clock"
	"github.com/BaSui01/llmgate/internal/pool"
	"github.com/BaSui01/llmgate/types"
)

const instrumentationName = "github.com/BaSui01/llmgate/llm/batch"

var (
	ErrClosed         = types.NewError(types.ErrClosed, "batch accumulator closed")
	ErrCleared        = types.NewError(types.ErrCleared, "pending batch cleared")
	ErrResultMismatch = types.NewError(types.ErrResultMismatch, "processor returned a result count that matches neither the batch size nor broadcast")
)

// Handler 处理一批请求。
// 返回与 reqs 等长的结果时逐项分发；只返回一个结果时广播给整批；其他长度视为错误。
type Handler[Req, Res any] func(ctx context.Context, reqs []Req) ([]Res, error)

// Trigger 标识批次被提交的原因
type Trigger string

const (
	TriggerSize    Trigger = "size"
	TriggerTimeout Trigger = "timeout"
	TriggerManual  Trigger = "manual"
	TriggerClose   Trigger = "close"
)

// Config 配置累加器。
type Config struct {
	MaxBatchSize int           `json:"max_batch_size"`
	MaxWaitTime  time.Duration `json:"max_wait_time"`
	// MaxConcurrency 同时执行的批次上限
	MaxConcurrency int `json:"max_concurrency"`
}

// DefaultConfig 返回合理的默认值。
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   10,
		MaxWaitTime:    100 * time.Millisecond,
		MaxConcurrency: 5,
	}
}

// Result 是单个请求的处理结果
type Result[Res any] struct {
	Value Res
	Err   error
}

// FlushInfo 描述一次已完成的批次提交
type FlushInfo struct {
	BatchID  string
	GroupKey string
	Size     int
	Trigger  Trigger
	Duration time.Duration
	Err      error
}

type options struct {
	logger   *zap.Logger
	clock    clock.Clock
	executor *pool.Executor
	tracer   trace.Tracer
	observer func(FlushInfo)
}

// Option 配置累加器的可选依赖
type Option func(*options)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock 设置截止定时器使用的时钟
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithExecutor 共享一个有界执行器，替代按 MaxConcurrency 新建的执行器
func WithExecutor(e *pool.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithTracer 设置 tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithFlushObserver 每个批次结束后回调一次，供指标采集使用
func WithFlushObserver(fn func(FlushInfo)) Option {
	return func(o *options) { o.observer = fn }
}

// Accumulator 按分组键聚合请求，在达到批大小或等待超时时提交给 Handler。
//
// 每个分组同一时刻只有一个积累中的批次。批次一旦被摘下进入提交流程，
// 新到的请求立即进入新批次，不会被进行中的提交阻塞。
type Accumulator[Req, Res any] struct {
	config  Config
	handler Handler[Req, Res]
	exec    *pool.Executor
	clock   clock.Clock
	tracer  trace.Tracer
	logger  *zap.Logger
	observe func(FlushInfo)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	groups   map[string]*pendingBatch[Req, Res]
	flushing map[*pendingBatch[Req, Res]]struct{}
	closed   bool

	// 计量
	submitted      atomic.Int64
	batches        atomic.Int64
	sizeFlushes    atomic.Int64
	timeoutFlushes atomic.Int64
	manualFlushes  atomic.Int64
	flushedItems   atomic.Int64
	completed      atomic.Int64
	failed         atomic.Int64
	cleared        atomic.Int64
}

type pendingBatch[Req, Res any] struct {
	id        string
	groupKey  string
	items     []*queueItem[Req, Res]
	createdAt time.Time
	timer     clock.Timer
}

type queueItem[Req, Res any] struct {
	req        Req
	enqueuedAt time.Time
	result     chan Result[Res]
	settled    atomic.Bool
}

// settle 投递结果，每个条目只生效一次
func (it *queueItem[Req, Res]) settle(r Result[Res]) bool {
	if !it.settled.CompareAndSwap(false, true) {
		return false
	}
	it.result <- r
	close(it.result)
	return true
}

// NewAccumulator 创建累加器。非正的配置项回落到默认值。
func NewAccumulator[Req, Res any](config Config, handler Handler[Req, Res], opts ...Option) *Accumulator[Req, Res] {
	defaults := DefaultConfig()
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaults.MaxBatchSize
	}
	if config.MaxWaitTime <= 0 {
		config.MaxWaitTime = defaults.MaxWaitTime
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.executor == nil {
		o.executor = pool.NewExecutor(pool.ExecutorConfig{Limit: config.MaxConcurrency})
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Accumulator[Req, Res]{
		config:   config,
		handler:  handler,
		exec:     o.executor,
		clock:    clock.OrReal(o.clock),
		tracer:   o.tracer,
		logger:   o.logger.With(zap.String("component", "batch_accumulator")),
		observe:  o.observer,
		ctx:      ctx,
		cancel:   cancel,
		groups:   make(map[string]*pendingBatch[Req, Res]),
		flushing: make(map[*pendingBatch[Req, Res]]struct{}),
	}
}

// Submit 将请求加入 groupKey 的当前批次，返回只接收一次结果的通道。
func (a *Accumulator[Req, Res]) Submit(groupKey string, req Req) <-chan Result[Res] {
	it := &queueItem[Req, Res]{
		req:    req,
		result: make(chan Result[Res], 1),
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		it.settle(Result[Res]{Err: ErrClosed})
		return it.result
	}

	a.submitted.Add(1)
	it.enqueuedAt = a.clock.Now()

	b, ok := a.groups[groupKey]
	if !ok {
		b = &pendingBatch[Req, Res]{
			id:        uuid.NewString(),
			groupKey:  groupKey,
			items:     make([]*queueItem[Req, Res], 0, a.config.MaxBatchSize),
			createdAt: it.enqueuedAt,
		}
		// 回调在时钟内部执行，只派生 goroutine，不回调时钟
		b.timer = a.clock.AfterFunc(a.config.MaxWaitTime, func() { go a.onDeadline(b) })
		a.groups[groupKey] = b
	}
	b.items = append(b.items, it)

	full := len(b.items) >= a.config.MaxBatchSize && a.detachLocked(b)
	a.mu.Unlock()

	if full {
		a.sizeFlushes.Add(1)
		a.dispatch(b, TriggerSize)
	}
	return it.result
}

// SubmitWait 提交请求并等待结果。ctx 结束时返回 ctx.Err()，条目本身仍随批次处理。
func (a *Accumulator[Req, Res]) SubmitWait(ctx context.Context, groupKey string, req Req) (Res, error) {
	ch := a.Submit(groupKey, req)

	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero Res
		return zero, ctx.Err()
	}
}

// Flush 立即提交 groupKey 的当前批次，没有积累中的批次时返回 false
func (a *Accumulator[Req, Res]) Flush(groupKey string) bool {
	a.mu.Lock()
	b, ok := a.groups[groupKey]
	ok = ok && a.detachLocked(b)
	a.mu.Unlock()

	if ok {
		a.manualFlushes.Add(1)
		a.dispatch(b, TriggerManual)
	}
	return ok
}

// FlushAll 立即提交所有分组的当前批次，返回提交的批次数
func (a *Accumulator[Req, Res]) FlushAll() int {
	batches := a.detachAll()
	for _, b := range batches {
		a.manualFlushes.Add(1)
		a.dispatch(b, TriggerManual)
	}
	return len(batches)
}

// Clear 以 ErrCleared 拒绝所有积累中与提交中批次的条目。
// 已发出的下游调用不会被中断，其结果被丢弃。
func (a *Accumulator[Req, Res]) Clear() {
	a.mu.Lock()
	var items []*queueItem[Req, Res]
	for key, b := range a.groups {
		b.timer.Stop()
		items = append(items, b.items...)
		delete(a.groups, key)
	}
	for b := range a.flushing {
		items = append(items, b.items...)
	}
	a.mu.Unlock()

	n := 0
	for _, it := range items {
		if it.settle(Result[Res]{Err: ErrCleared}) {
			n++
		}
	}
	a.cleared.Add(int64(n))

	if n > 0 {
		a.logger.Info("cleared pending requests", zap.Int("count", n))
	}
}

// Close 停止接收新请求，提交剩余批次并等待所有提交完成。
func (a *Accumulator[Req, Res]) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	for _, b := range a.detachAll() {
		a.dispatch(b, TriggerClose)
	}
	a.wg.Wait()
	a.cancel()
}

func (a *Accumulator[Req, Res]) detachAll() []*pendingBatch[Req, Res] {
	a.mu.Lock()
	defer a.mu.Unlock()

	batches := make([]*pendingBatch[Req, Res], 0, len(a.groups))
	for _, b := range a.groups {
		if a.detachLocked(b) {
			batches = append(batches, b)
		}
	}
	return batches
}

// detachLocked 仅当 b 仍是其分组的当前批次时摘下它，保证同一批次只提交一次
func (a *Accumulator[Req, Res]) detachLocked(b *pendingBatch[Req, Res]) bool {
	if a.groups[b.groupKey] != b {
		return false
	}
	delete(a.groups, b.groupKey)
	b.timer.Stop()
	a.flushing[b] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *Accumulator[Req, Res]) onDeadline(b *pendingBatch[Req, Res]) {
	a.mu.Lock()
	ok := a.detachLocked(b)
	a.mu.Unlock()

	if ok {
		a.timeoutFlushes.Add(1)
		a.dispatch(b, TriggerTimeout)
	}
}

// dispatch 通过有界执行器异步执行批次
func (a *Accumulator[Req, Res]) dispatch(b *pendingBatch[Req, Res], trigger Trigger) {
	a.batches.Add(1)
	a.flushedItems.Add(int64(len(b.items)))

	go func() {
		defer a.wg.Done()
		defer a.release(b)

		err := a.exec.Run(a.ctx, func(ctx context.Context) error {
			a.process(ctx, b, trigger)
			return nil
		})
		if err != nil {
			// 未能取得执行槽位
			a.distribute(b, nil, err)
			a.logger.Warn("batch not executed",
				zap.String("batch_id", b.id),
				zap.String("group", b.groupKey),
				zap.Error(err),
			)
		}
	}()
}

func (a *Accumulator[Req, Res]) release(b *pendingBatch[Req, Res]) {
	a.mu.Lock()
	delete(a.flushing, b)
	a.mu.Unlock()
}

func (a *Accumulator[Req, Res]) process(ctx context.Context, b *pendingBatch[Req, Res], trigger Trigger) {
	size := len(b.items)
	ctx, span := a.tracer.Start(ctx, "batch.flush",
		trace.WithAttributes(
			attribute.String("batch.id", b.id),
			attribute.String("batch.group", b.groupKey),
			attribute.Int("batch.size", size),
			attribute.String("batch.trigger", string(trigger)),
		),
	)
	defer span.End()

	reqs := make([]Req, size)
	for i, it := range b.items {
		reqs[i] = it.req
	}

	start := a.clock.Now()
	results, err := a.invoke(ctx, reqs)
	duration := a.clock.Since(start)

	err = a.distribute(b, results, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("batch failed",
			zap.String("batch_id", b.id),
			zap.String("group", b.groupKey),
			zap.Int("size", size),
			zap.String("trigger", string(trigger)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		a.logger.Debug("batch completed",
			zap.String("batch_id", b.id),
			zap.String("group", b.groupKey),
			zap.Int("size", size),
			zap.String("trigger", string(trigger)),
			zap.Duration("waited", start.Sub(b.createdAt)),
			zap.Duration("duration", duration),
		)
	}

	if a.observe != nil {
		a.observe(FlushInfo{
			BatchID:  b.id,
			GroupKey: b.groupKey,
			Size:     size,
			Trigger:  trigger,
			Duration: duration,
			Err:      err,
		})
	}
}

func (a *Accumulator[Req, Res]) invoke(ctx context.Context, reqs []Req) (results []Res, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.ErrInternalError, fmt.Sprintf("batch handler panicked: %v", r))
		}
	}()
	return a.handler(ctx, reqs)
}

// distribute 按结果形态把结果分发给批内每个条目，返回整批的错误（如有）
func (a *Accumulator[Req, Res]) distribute(b *pendingBatch[Req, Res], results []Res, err error) error {
	if err == nil && len(results) != len(b.items) && len(results) != 1 {
		err = ErrResultMismatch
	}

	for i, it := range b.items {
		var r Result[Res]
		switch {
		case err != nil:
			r.Err = err
		case len(results) == len(b.items):
			r.Value = results[i]
		default:
			r.Value = results[0]
		}

		if !it.settle(r) {
			continue
		}
		if r.Err != nil {
			a.failed.Add(1)
		} else {
			a.completed.Add(1)
		}
	}
	return err
}

// Stats 返回累加器统计
func (a *Accumulator[Req, Res]) Stats() Stats {
	a.mu.Lock()
	groups := len(a.groups)
	items := 0
	for _, b := range a.groups {
		items += len(b.items)
	}
	inFlight := len(a.flushing)
	a.mu.Unlock()

	s := Stats{
		Submitted:       a.submitted.Load(),
		Batches:         a.batches.Load(),
		SizeFlushes:     a.sizeFlushes.Load(),
		TimeoutFlushes:  a.timeoutFlushes.Load(),
		ManualFlushes:   a.manualFlushes.Load(),
		Completed:       a.completed.Load(),
		Failed:          a.failed.Load(),
		Cleared:         a.cleared.Load(),
		PendingGroups:   groups,
		PendingItems:    items,
		InFlightBatches: inFlight,
	}
	if s.Batches > 0 {
		s.AverageBatchSize = float64(a.flushedItems.Load()) / float64(s.Batches)
	}
	return s
}

// Stats 包含累加器统计
type Stats struct {
	Submitted        int64   `json:"submitted"`
	Batches          int64   `json:"batches"`
	SizeFlushes      int64   `json:"size_flushes"`
	TimeoutFlushes   int64   `json:"timeout_flushes"`
	ManualFlushes    int64   `json:"manual_flushes"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Cleared          int64   `json:"cleared"`
	PendingGroups    int     `json:"pending_groups"`
	PendingItems     int     `json:"pending_items"`
	InFlightBatches  int     `json:"in_flight_batches"`
	AverageBatchSize float64 `json:"average_batch_size"`
}
