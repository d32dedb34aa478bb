package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/llmgate/internal/ctxkeys"
	"github.com/BaSui01/llmgate/internal/pool"
	"github.com/BaSui01/llmgate/internal/tlsutil"
	"github.com/BaSui01/llmgate/types"
)

// maxErrorBody 读取错误响应体的上限
const maxErrorBody = 64 << 10

// batchRequest 是发往下游的请求体
type batchRequest struct {
	Requests []*types.Request `json:"requests"`
}

// batchResponse 是下游响应体。results 逐项对应；result 广播给整批。
type batchResponse struct {
	Results []*types.Response `json:"results,omitempty"`
	Result  *types.Response   `json:"result,omitempty"`
}

// HTTPProcessor 通过 HTTP 调用下游批量生成接口。
// 调用先经令牌桶限速，再在熔断器内执行；本层不做重试。
type HTTPProcessor struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	buffers *pool.BufferPool
	logger  *zap.Logger
}

// Option 配置 HTTPProcessor
type Option func(*HTTPProcessor)

// WithHTTPClient 替换默认的 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProcessor) { p.client = c }
}

// NewHTTPProcessor 创建 HTTP 处理器
func NewHTTPProcessor(cfg Config, logger *zap.Logger, opts ...Option) *HTTPProcessor {
	defaults := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "downstream_processor"))

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	p := &HTTPProcessor{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(limit, burst),
		breaker: newBreaker("downstream", cfg.Breaker, logger),
		buffers: pool.NewBufferPool(4096),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process 发送一批请求
func (p *HTTPProcessor) Process(ctx context.Context, reqs []*types.Request) ([]*types.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrRateLimited, "waiting for downstream rate limit").
			WithCause(err).
			WithHTTPStatus(http.StatusTooManyRequests).
			WithRetryable(true)
	}

	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.do(ctx, reqs)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.([]*types.Response), nil
}

// State 返回熔断器状态
func (p *HTTPProcessor) State() string {
	return p.breaker.State().String()
}

// HealthCheck 确认熔断器未打开
func (p *HTTPProcessor) HealthCheck(ctx context.Context) error {
	if p.breaker.State() == gobreaker.StateOpen {
		return breakerError(gobreaker.ErrOpenState)
	}
	return ctx.Err()
}

func (p *HTTPProcessor) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/" + strings.TrimLeft(p.cfg.Path, "/")
}

func (p *HTTPProcessor) do(ctx context.Context, reqs []*types.Request) ([]*types.Response, error) {
	buf := p.buffers.Get()
	defer p.buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(batchRequest{Requests: reqs}); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode downstream request").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), buf)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build downstream request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	if id, ok := ctxkeys.RequestID(ctx); ok {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(io.LimitReader(resp.Body, maxErrorBody), resp.StatusCode)
		p.logger.Warn("downstream returned error",
			zap.Int("status", resp.StatusCode),
			zap.Int("batch_size", len(reqs)),
			zap.String("message", msg),
		)
		return nil, mapHTTPError(resp.StatusCode, msg)
	}

	var body batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode downstream response").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway)
	}

	switch {
	case len(body.Results) > 0:
		for i, r := range body.Results {
			if r == nil {
				return nil, types.NewError(types.ErrUpstreamError, fmt.Sprintf("downstream result %d is null", i)).
					WithHTTPStatus(http.StatusBadGateway)
			}
		}
		return body.Results, nil
	case body.Result != nil:
		return []*types.Response{body.Result}, nil
	default:
		return nil, types.NewError(types.ErrUpstreamError, "downstream response has no results").
			WithHTTPStatus(http.StatusBadGateway)
	}
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "downstream request timed out").
			WithCause(err).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return types.NewError(types.ErrUpstreamError, "downstream request failed").
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}

// mapHTTPError 将下游 HTTP 状态映射为错误码
func mapHTTPError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(status)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status)
	case http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(status).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(status >= 500)
	}
}

// readErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func readErrorMessage(body io.Reader, status int) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Code != nil {
			return fmt.Sprintf("%s (code: %v)", errResp.Error.Message, errResp.Error.Code)
		}
		return errResp.Error.Message
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return http.StatusText(status)
	}
	return text
}
