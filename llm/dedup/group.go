package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/llmgate/types"
)

// ErrCleared 在 Clear 时返回给所有仍在等待的调用方
var ErrCleared = types.NewError(types.ErrCleared, "in-flight request cleared")

// ErrPanicked 表示共享调用发生 panic
var ErrPanicked = errors.New("dedup: shared call panicked")

// Stats 去重统计
type Stats struct {
	InFlight   int   `json:"in_flight"`  // 当前执行中的键数
	Waiters    int   `json:"waiters"`    // 当前挂在执行中键上的调用方数
	Executions int64 `json:"executions"` // fn 实际执行次数
	Shared     int64 `json:"shared"`     // 复用已有执行的调用次数
}

// Group 保证同一键同一时刻最多一个 fn 在执行，
// 并发调用方共享同一结果（同一值或同一错误）。
type Group[V any] struct {
	mu      sync.Mutex
	sf      singleflight.Group
	entries map[string]*entry
	cleared chan struct{}

	executions atomic.Int64
	shared     atomic.Int64

	logger *zap.Logger
}

type entry struct {
	waiters int
}

// NewGroup 创建去重组
func NewGroup[V any](logger *zap.Logger) *Group[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group[V]{
		entries: make(map[string]*entry),
		cleared: make(chan struct{}),
		logger:  logger.With(zap.String("component", "dedup")),
	}
}

// Do 执行或加入 key 对应的调用。
// 共享调用运行在脱离首个调用方取消信号的 context 上；每个调用方仍各自响应自己的 ctx。
// 结果送达等待方之前，该键的记录已被移除，之后的同键调用会触发新的执行。
func (g *Group[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	v, _, err := g.DoShared(ctx, key, fn)
	return v, err
}

// DoShared 同 Do，额外返回本次调用是否加入了已有的执行
func (g *Group[V]) DoShared(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, bool, error) {
	var zero V

	shared := context.WithoutCancel(ctx)

	// 登记与 DoChan 在同一把锁内完成，记录与 singleflight 的状态始终一致
	g.mu.Lock()
	e, ok := g.entries[key]
	if ok {
		g.shared.Add(1)
	} else {
		e = &entry{}
		g.entries[key] = e
	}
	e.waiters++
	cleared := g.cleared
	ch := g.sf.DoChan(key, func() (any, error) {
		g.executions.Add(1)
		defer g.settle(key, e)
		return g.call(shared, fn)
	})
	g.mu.Unlock()

	if ok {
		g.logger.Debug("joined in-flight call", zap.String("key", key))
	}

	select {
	case r := <-ch:
		if r.Err != nil {
			return zero, ok, r.Err
		}
		v, _ := r.Val.(V)
		return v, ok, nil
	case <-ctx.Done():
		g.leave(key, e)
		return zero, ok, ctx.Err()
	case <-cleared:
		return zero, ok, ErrCleared
	}
}

func (g *Group[V]) call(ctx context.Context, fn func(ctx context.Context) (V, error)) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("shared call panicked", zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return fn(ctx)
}

// settle 在 fn 返回后、结果分发前移除记录
func (g *Group[V]) settle(key string, e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Clear 之后同键可能已有新的执行，只清理属于自己的记录
	if g.entries[key] == e {
		delete(g.entries, key)
		g.sf.Forget(key)
	}
}

func (g *Group[V]) leave(key string, e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entries[key] == e && e.waiters > 0 {
		e.waiters--
	}
}

// Clear 让所有等待中的调用方立即以 ErrCleared 返回并清空记录。
// 已开始的 fn 会继续执行完毕，但其结果不再送达被清除的调用方。
func (g *Group[V]) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key := range g.entries {
		g.sf.Forget(key)
	}
	n := len(g.entries)
	g.entries = make(map[string]*entry)
	close(g.cleared)
	g.cleared = make(chan struct{})

	if n > 0 {
		g.logger.Info("cleared in-flight calls", zap.Int("count", n))
	}
}

// Stats 返回统计快照
func (g *Group[V]) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{
		InFlight:   len(g.entries),
		Executions: g.executions.Load(),
		Shared:     g.shared.Load(),
	}
	for _, e := range g.entries {
		s.Waiters += e.waiters
	}
	return s
}
