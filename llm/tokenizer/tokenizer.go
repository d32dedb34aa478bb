package tokenizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/llmgate/types"
)

// Tokenizer 是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []types.Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Registry 按模型名称查找分词器，支持前缀匹配（如 "gpt-4o" 匹配 "gpt-4o-mini"）。
type Registry struct {
	mu       sync.RWMutex
	byModel  map[string]Tokenizer
	prefixes []string // 按长度降序，最长前缀优先
}

// NewRegistry 创建空注册表.
func NewRegistry() *Registry {
	return &Registry{byModel: make(map[string]Tokenizer)}
}

// Register 为给定的模型名称注册分词器.
func (r *Registry) Register(model string, t Tokenizer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byModel[model]; !ok {
		r.prefixes = append(r.prefixes, model)
		sort.SliceStable(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		})
	}
	r.byModel[model] = t
}

// Lookup 返回为给定模型注册的分词器.
func (r *Registry) Lookup(model string) (Tokenizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.byModel[model]; ok {
		return t, nil
	}
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(model, prefix) {
			return r.byModel[prefix], nil
		}
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// LookupOrEstimator 返回该模型的注册分词器,
// 如果没有登记,则回到通用估算器。
func (r *Registry) LookupOrEstimator(model string) Tokenizer {
	t, err := r.Lookup(model)
	if err != nil {
		return NewEstimatorTokenizer(model, 0)
	}
	return t
}

// Len 返回已注册的模型数.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byModel)
}
