// MockProcessor 的下游处理器测试模拟实现。
//
// 支持逐项回显、广播、错误注入与阻塞场景。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/llmgate/types"
)

// MockProcessor 是下游批处理器的模拟实现
type MockProcessor struct {
	mu sync.Mutex

	// 响应配置
	err       error
	broadcast *types.Response
	fn        func(ctx context.Context, reqs []*types.Request) ([]*types.Response, error)

	// 行为控制
	delay   time.Duration
	gate    chan struct{}
	started chan int

	// 调用记录
	calls [][]*types.Request
}

// NewMockProcessor 创建新的 MockProcessor，默认逐项回显请求文本
func NewMockProcessor() *MockProcessor {
	return &MockProcessor{}
}

// WithError 设置返回错误
func (m *MockProcessor) WithError(err error) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithBroadcast 设置返回单个结果（广播给整批）
func (m *MockProcessor) WithBroadcast(resp *types.Response) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = resp
	return m
}

// WithFunc 设置自定义处理函数
func (m *MockProcessor) WithFunc(fn func(ctx context.Context, reqs []*types.Request) ([]*types.Response, error)) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// WithDelay 设置响应延迟
func (m *MockProcessor) WithDelay(d time.Duration) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithGate 让每次调用阻塞直到 Release 被调用；
// 返回的通道在每次调用开始时收到该批大小。
func (m *MockProcessor) WithGate() (*MockProcessor, <-chan int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.started = make(chan int, 64)
	return m, m.started
}

// Release 放行所有被阻塞的调用
func (m *MockProcessor) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Process 实现处理器签名
func (m *MockProcessor) Process(ctx context.Context, reqs []*types.Request) ([]*types.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, reqs)
	err, broadcast, fn, delay, gate, started := m.err, m.broadcast, m.fn, m.delay, m.gate, m.started
	m.mu.Unlock()

	if started != nil {
		started <- len(reqs)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fn != nil {
		return fn(ctx, reqs)
	}
	if err != nil {
		return nil, err
	}
	if broadcast != nil {
		return []*types.Response{broadcast}, nil
	}
	return Echo(reqs), nil
}

// Calls 返回每次调用收到的请求批
func (m *MockProcessor) Calls() [][]*types.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*types.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockProcessor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Echo 为每个请求生成 "echo:<text>" 响应
func Echo(reqs []*types.Request) []*types.Response {
	out := make([]*types.Response, len(reqs))
	for i, r := range reqs {
		text := r.Text()
		out[i] = &types.Response{
			ID:           fmt.Sprintf("resp-%d", i),
			Model:        r.Model,
			Content:      "echo:" + text,
			FinishReason: "stop",
			Usage: types.Usage{
				PromptTokens:     len(text),
				CompletionTokens: len(text) + 5,
				TotalTokens:      2*len(text) + 5,
			},
		}
	}
	return out
}
