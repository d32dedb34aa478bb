package tokenizer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/types"
)

// Counter 统计请求与响应的 token 数，用于"节省 token"统计。
// 分词器出错时回落到估算器，每个模型只记录一次警告。
type Counter struct {
	registry *Registry
	logger   *zap.Logger

	mu     sync.Mutex
	warned map[string]bool
}

// NewCounter 创建计数器；registry 为 nil 时全部使用估算器。
func NewCounter(registry *Registry, logger *zap.Logger) *Counter {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		registry: registry,
		logger:   logger.With(zap.String("component", "token_counter")),
		warned:   make(map[string]bool),
	}
}

// CountRequest 返回请求的输入 token 数
func (c *Counter) CountRequest(req *types.Request) int {
	if req == nil {
		return 0
	}

	t := c.registry.LookupOrEstimator(req.Model)
	var (
		n   int
		err error
	)
	if len(req.Messages) > 0 {
		n, err = t.CountMessages(req.Messages)
	} else {
		n, err = t.CountTokens(req.Prompt)
	}
	if err != nil {
		c.warnOnce(req.Model, t, err)
		est := NewEstimatorTokenizer(req.Model, 0)
		if len(req.Messages) > 0 {
			n, _ = est.CountMessages(req.Messages)
		} else {
			n, _ = est.CountTokens(req.Prompt)
		}
	}
	return n
}

// CountResponse 返回响应的 token 总数；优先使用下游上报的用量
func (c *Counter) CountResponse(req *types.Request, resp *types.Response) int {
	if resp == nil {
		return 0
	}
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}

	model := resp.Model
	if model == "" && req != nil {
		model = req.Model
	}
	t := c.registry.LookupOrEstimator(model)
	out, err := t.CountTokens(resp.Content)
	if err != nil {
		c.warnOnce(model, t, err)
		out, _ = NewEstimatorTokenizer(model, 0).CountTokens(resp.Content)
	}
	return c.CountRequest(req) + out
}

func (c *Counter) warnOnce(model string, t Tokenizer, err error) {
	c.mu.Lock()
	seen := c.warned[model]
	c.warned[model] = true
	c.mu.Unlock()

	if !seen {
		c.logger.Warn("tokenizer failed, falling back to estimator",
			zap.String("model", model),
			zap.String("tokenizer", t.Name()),
			zap.Error(err),
		)
	}
}
