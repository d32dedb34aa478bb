package coalescer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/pool"
	"github.com/BaSui01/llmgate/types"
)

// warmHistorySize 保留的最近预热记录数
const warmHistorySize = 10

// ErrWarmInProgress 已有预热在执行时返回
var ErrWarmInProgress = types.NewError(types.ErrWarmInProgress, "cache warm already in progress")

// WarmSource 为定时预热提供请求，例如最常见的 N 个请求
type WarmSource func(ctx context.Context) []*types.Request

// WarmResult 是一次预热的结果
type WarmResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Requested int           `json:"requested"`
	// AlreadyCached 在预热前就已命中缓存的请求数，计入 Succeeded
	AlreadyCached int `json:"already_cached"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
}

// WarmStats 汇总预热情况
type WarmStats struct {
	Runs       int64        `json:"runs"`
	Rejected   int64        `json:"rejected"`
	Succeeded  int64        `json:"succeeded"`
	Failed     int64        `json:"failed"`
	InProgress bool         `json:"in_progress"`
	History    []WarmResult `json:"history,omitempty"`
}

type warmer struct {
	running   atomic.Bool
	runs      atomic.Int64
	rejected  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	history []WarmResult
}

func (w *warmer) record(r WarmResult) {
	w.runs.Add(1)
	w.succeeded.Add(int64(r.Succeeded))
	w.failed.Add(int64(r.Failed))

	w.mu.Lock()
	w.history = append(w.history, r)
	if over := len(w.history) - warmHistorySize; over > 0 {
		w.history = append(w.history[:0:0], w.history[over:]...)
	}
	w.mu.Unlock()
}

func (w *warmer) stats() WarmStats {
	w.mu.Lock()
	history := append([]WarmResult(nil), w.history...)
	w.mu.Unlock()
	return WarmStats{
		Runs:       w.runs.Load(),
		Rejected:   w.rejected.Load(),
		Succeeded:  w.succeeded.Load(),
		Failed:     w.failed.Load(),
		InProgress: w.running.Load(),
		History:    history,
	}
}

func (w *warmer) reset() {
	w.runs.Store(0)
	w.rejected.Store(0)
	w.succeeded.Store(0)
	w.failed.Store(0)
	w.mu.Lock()
	w.history = nil
	w.mu.Unlock()
}

// Warm 通过 Execute 预先执行 reqs 以填充缓存，limit <= 0 时使用 ConcurrencyLimit。
// 同一时刻只允许一次预热，重叠调用返回 ErrWarmInProgress。
// 单个请求失败只计入 Failed，不中断其余请求。
func (c *Coalescer) Warm(ctx context.Context, reqs []*types.Request, limit int) (WarmResult, error) {
	if c.closed.Load() {
		return WarmResult{}, ErrClosed
	}
	if !c.warm.running.CompareAndSwap(false, true) {
		c.warm.rejected.Add(1)
		return WarmResult{}, ErrWarmInProgress
	}
	defer c.warm.running.Store(false)

	if limit <= 0 {
		limit = c.cfg.ConcurrencyLimit
	}
	ctx, span := c.tracer.Start(ctx, "coalescer.warm",
		trace.WithAttributes(
			attribute.Int("coalescer.requests", len(reqs)),
			attribute.Int("coalescer.limit", limit),
		),
	)
	defer span.End()

	ops := make([]pool.Operation[*types.Response], len(reqs))
	for i, req := range reqs {
		ops[i] = func(ctx context.Context) (*types.Response, error) {
			return c.Execute(ctx, req)
		}
	}

	res := WarmResult{StartedAt: c.clock.Now(), Requested: len(reqs)}
	for i, r := range pool.RunAll(ctx, ops, limit) {
		switch {
		case r.Err != nil:
			res.Failed++
			c.logger.Debug("warm request failed", zap.Int("index", i), zap.Error(r.Err))
		case r.Value.Cached:
			res.AlreadyCached++
			res.Succeeded++
		default:
			res.Succeeded++
		}
	}
	res.Duration = c.clock.Since(res.StartedAt)
	c.warm.record(res)

	span.SetAttributes(
		attribute.Int("coalescer.warm.succeeded", res.Succeeded),
		attribute.Int("coalescer.warm.failed", res.Failed),
	)
	c.logger.Info("cache warm completed",
		zap.Int("requested", res.Requested),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("already_cached", res.AlreadyCached),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// warmLoop 启动时预热一次，之后每隔 interval 预热一次
func (c *Coalescer) warmLoop(interval time.Duration, source WarmSource) {
	defer c.cleanupDone.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCleanup
		cancel()
	}()

	for {
		if _, err := c.Warm(ctx, source(ctx), 0); err != nil {
			c.logger.Warn("scheduled cache warm skipped", zap.Error(err))
		}
		select {
		case <-c.stopCleanup:
			return
		case <-c.clock.After(interval):
		}
	}
}
