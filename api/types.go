package api

import (
	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/types"
)

// =============================================================================
// 生成请求类型
// =============================================================================

// GenerateRequest 是 POST /api/v1/generate 的请求体，与下游请求结构一致。
// @Description 单个生成请求
type GenerateRequest = types.Request

// GenerateResponse 是单个生成结果。
// @Description 单个生成结果，cached 表示来自本地缓存
type GenerateResponse = types.Response

// ParallelRequest 是 POST /api/v1/generate/parallel 的请求体。
// 请求逐个发往下游，不经过缓存与批处理。
// @Description 并行生成请求
type ParallelRequest struct {
	// 待处理请求，结果顺序与之一致
	Requests []*types.Request `json:"requests"`
	// 并发上限，<= 0 时使用服务端配置
	ConcurrencyLimit int `json:"concurrency_limit,omitempty" example:"5"`
}

// ParallelResult 是并行请求中单个位置的结果，Response 与 Error 二选一。
// @Description 并行生成的单项结果
type ParallelResult struct {
	Index    int             `json:"index"`
	Response *types.Response `json:"response,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

// ParallelResponse 是并行请求的响应体
// @Description 并行生成结果
type ParallelResponse struct {
	Results   []ParallelResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// ErrorBody 是结构化错误
// @Description 错误信息
type ErrorBody struct {
	Code      string `json:"code" example:"UPSTREAM_ERROR"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 预热类型
// =============================================================================

// WarmRequest 是 POST /api/v1/warm 的请求体。
// 请求走完整的合并流程，成功的结果写入缓存。
// @Description 缓存预热请求
type WarmRequest struct {
	Requests []*types.Request `json:"requests"`
	// 并发上限，<= 0 时使用服务端配置
	ConcurrencyLimit int `json:"concurrency_limit,omitempty" example:"5"`
}

// WarmResponse 是一次预热的结果
// @Description 缓存预热结果
type WarmResponse = coalescer.WarmResult

// =============================================================================
// 统计类型
// =============================================================================

// StatsResponse 是 GET /api/v1/stats 的响应体
// @Description 合并层统计
type StatsResponse struct {
	coalescer.Stats
	// 被合并掉的下游调用估算
	CallsSaved int64 `json:"calls_saved"`
	// 熔断器状态：closed、half-open、open
	BreakerState string `json:"breaker_state,omitempty"`
}
