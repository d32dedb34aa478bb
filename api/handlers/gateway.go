package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/api"
	"github.com/BaSui01/llmgate/internal/ctxkeys"
	"github.com/BaSui01/llmgate/internal/pool"
	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/types"
)

// maxParallelRequests 单次并行请求的条目上限
const maxParallelRequests = 256

// Coalescer 是网关处理器依赖的合并层能力
type Coalescer interface {
	Execute(ctx context.Context, req *types.Request) (*types.Response, error)
	ProcessParallel(ctx context.Context, reqs []*types.Request, proc coalescer.Processor, limit int) []pool.Result[*types.Response]
	Warm(ctx context.Context, reqs []*types.Request, limit int) (coalescer.WarmResult, error)
	Stats() coalescer.Stats
	Clear()
}

// GatewayHandler 处理生成、统计与清理请求
type GatewayHandler struct {
	coalescer    Coalescer
	breakerState func() string
	maxBodyBytes int64
	logger       *zap.Logger
}

// GatewayOption 配置 GatewayHandler
type GatewayOption func(*GatewayHandler)

// WithBreakerState 在统计中附带下游熔断器状态
func WithBreakerState(fn func() string) GatewayOption {
	return func(h *GatewayHandler) { h.breakerState = fn }
}

// WithMaxBodyBytes 设置请求体大小上限
func WithMaxBodyBytes(n int64) GatewayOption {
	return func(h *GatewayHandler) { h.maxBodyBytes = n }
}

// NewGatewayHandler 创建网关处理器
func NewGatewayHandler(c Coalescer, logger *zap.Logger, opts ...GatewayOption) *GatewayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GatewayHandler{
		coalescer: c,
		logger:    logger.With(zap.String("component", "gateway_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册网关路由
func (h *GatewayHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/generate", h.HandleGenerate)
	mux.HandleFunc("/api/v1/generate/parallel", h.HandleParallel)
	mux.HandleFunc("/api/v1/stats", h.HandleStats)
	mux.HandleFunc("/api/v1/clear", h.HandleClear)
	mux.HandleFunc("/api/v1/warm", h.HandleWarm)
}

// HandleGenerate 处理 POST /api/v1/generate
// @Summary 生成
// @Description 经过缓存、在途去重与批处理的单个生成请求
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.GenerateRequest true "生成请求"
// @Success 200 {object} Response{data=api.GenerateResponse}
// @Failure 400 {object} Response
// @Failure 502 {object} Response
// @Router /api/v1/generate [post]
func (h *GatewayHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) || !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.GenerateRequest
	if err := DecodeJSONBody(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}
	if err := h.prepare(r.Context(), &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	resp, err := h.coalescer.Execute(r.Context(), &req)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, resp)
}

// HandleParallel 处理 POST /api/v1/generate/parallel
// @Summary 并行生成
// @Description 逐个调用下游，不经过缓存与批处理；单项失败不影响其他项
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.ParallelRequest true "并行请求"
// @Success 200 {object} Response{data=api.ParallelResponse}
// @Failure 400 {object} Response
// @Router /api/v1/generate/parallel [post]
func (h *GatewayHandler) HandleParallel(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) || !ValidateContentType(w, r, h.logger) {
		return
	}

	var body api.ParallelRequest
	if err := DecodeJSONBody(w, r, &body, h.maxBodyBytes, h.logger); err != nil {
		return
	}
	if len(body.Requests) == 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "requests must not be empty", h.logger)
		return
	}
	if len(body.Requests) > maxParallelRequests {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "too many requests in one call", h.logger)
		return
	}
	for _, req := range body.Requests {
		if err := h.prepare(r.Context(), req); err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
	}

	results := h.coalescer.ProcessParallel(r.Context(), body.Requests, nil, body.ConcurrencyLimit)

	out := api.ParallelResponse{Results: make([]api.ParallelResult, len(results))}
	for i, res := range results {
		out.Results[i] = api.ParallelResult{Index: i}
		if res.Err != nil {
			e := ToError(res.Err)
			out.Results[i].Error = &api.ErrorBody{Code: string(e.Code), Message: e.Message, Retryable: e.Retryable}
			out.Failed++
			continue
		}
		out.Results[i].Response = res.Value
		out.Succeeded++
	}
	WriteSuccess(w, r, out)
}

// HandleStats 处理 GET /api/v1/stats
// @Summary 统计
// @Tags 运维
// @Produce json
// @Success 200 {object} Response{data=api.StatsResponse}
// @Router /api/v1/stats [get]
func (h *GatewayHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	stats := h.coalescer.Stats()
	out := api.StatsResponse{Stats: stats, CallsSaved: stats.CallsSaved()}
	if h.breakerState != nil {
		out.BreakerState = h.breakerState()
	}
	WriteSuccess(w, r, out)
}

// HandleClear 处理 POST /api/v1/clear
// @Summary 清空
// @Description 清空缓存并拒绝所有等待中的请求
// @Tags 运维
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/clear [post]
func (h *GatewayHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	subject, _ := ctxkeys.Subject(r.Context())
	h.coalescer.Clear()
	h.logger.Info("coalescer cleared via API",
		zap.String("subject", subject),
		zap.String("request_id", requestID(r)),
	)
	WriteSuccess(w, r, map[string]bool{"cleared": true})
}

// HandleWarm 处理 POST /api/v1/warm
// @Summary 缓存预热
// @Description 预先执行一组请求以填充缓存；已有预热在执行时返回 409
// @Tags 运维
// @Accept json
// @Produce json
// @Param request body api.WarmRequest true "预热请求"
// @Success 200 {object} Response{data=api.WarmResponse}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /api/v1/warm [post]
func (h *GatewayHandler) HandleWarm(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) || !ValidateContentType(w, r, h.logger) {
		return
	}

	var body api.WarmRequest
	if err := DecodeJSONBody(w, r, &body, h.maxBodyBytes, h.logger); err != nil {
		return
	}
	if len(body.Requests) == 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "requests must not be empty", h.logger)
		return
	}
	if len(body.Requests) > maxParallelRequests {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "too many requests in one call", h.logger)
		return
	}
	for _, req := range body.Requests {
		if err := h.prepare(r.Context(), req); err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
	}

	res, err := h.coalescer.Warm(r.Context(), body.Requests, body.ConcurrencyLimit)
	if err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// prepare 校验请求并应用上下文中的模型覆盖
func (h *GatewayHandler) prepare(ctx context.Context, req *types.Request) *types.Error {
	if req == nil {
		return types.NewError(types.ErrInvalidRequest, "request must not be null").WithHTTPStatus(http.StatusBadRequest)
	}
	if req.Model == "" {
		if model, ok := ctxkeys.Model(ctx); ok {
			req.Model = model
		}
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "prompt or messages is required").WithHTTPStatus(http.StatusBadRequest)
	}
	if req.MaxTokens < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_tokens must not be negative").WithHTTPStatus(http.StatusBadRequest)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2").WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}
