package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/pool"
)

// 健康状态取值
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// defaultCheckTimeout 单个就绪检查的超时
const defaultCheckTimeout = 2 * time.Second

// HealthCheck 就绪检查项
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// criticalCheck 失败时是否使服务不可用；未实现该接口的检查视为关键检查
type criticalCheck interface {
	Critical() bool
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Critical bool   `json:"critical"`
}

// HealthHandler 提供存活与就绪探针。就绪检查并发执行，每项有独立超时。
type HealthHandler struct {
	mu           sync.RWMutex
	checks       []HealthCheck
	checkTimeout time.Duration
	startedAt    time.Time
	logger       *zap.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		checkTimeout: defaultCheckTimeout,
		startedAt:    time.Now(),
		logger:       logger.With(zap.String("component", "health")),
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// SetCheckTimeout 设置单个检查的超时，<= 0 时忽略
func (h *HealthHandler) SetCheckTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	h.mu.Lock()
	h.checkTimeout = d
	h.mu.Unlock()
}

// HandleHealth 处理 /health 请求（存活检查，不执行就绪检查）
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 存活探针）
// @Summary Kubernetes 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 处理 /ready 与 /readyz 请求。
// 关键检查失败返回 503；仅非关键检查失败时返回 200 与 degraded。
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已就绪或降级"
// @Failure 503 {object} HealthStatus "服务未就绪"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	timeout := h.checkTimeout
	h.mu.RUnlock()

	status := h.evaluate(r.Context(), checks, timeout)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) evaluate(ctx context.Context, checks []HealthCheck, timeout time.Duration) HealthStatus {
	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	if len(checks) == 0 {
		return status
	}

	ops := make([]pool.Operation[time.Duration], len(checks))
	for i, check := range checks {
		ops[i] = func(ctx context.Context) (time.Duration, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := check.Check(ctx)
			return time.Since(start), err
		}
	}
	results := pool.RunAll(ctx, ops, len(ops))

	for i, res := range results {
		check := checks[i]
		result := CheckResult{
			Status:   "pass",
			Latency:  res.Value.String(),
			Critical: isCritical(check),
		}
		if res.Err != nil {
			result.Message = res.Err.Error()
			if result.Critical {
				result.Status = "fail"
				status.Status = StatusUnhealthy
			} else {
				result.Status = "warn"
				if status.Status == StatusHealthy {
					status.Status = StatusDegraded
				}
			}
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Bool("critical", result.Critical),
				zap.Error(res.Err),
			)
		}
		status.Checks[check.Name()] = result
	}
	return status
}

func isCritical(check HealthCheck) bool {
	if c, ok := check.(criticalCheck); ok {
		return c.Critical()
	}
	return true
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} Response{data=map[string]string} "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// CheckFunc 将函数适配为 HealthCheck
type CheckFunc struct {
	name     string
	check    func(ctx context.Context) error
	critical bool
}

// NewCheck 创建关键检查，失败时服务不可用
func NewCheck(name string, check func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, check: check, critical: true}
}

// NewDegradedCheck 创建非关键检查，失败时服务降级但仍接收流量
func NewDegradedCheck(name string, check func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, check: check}
}

func (c *CheckFunc) Name() string                    { return c.name }
func (c *CheckFunc) Check(ctx context.Context) error { return c.check(ctx) }
func (c *CheckFunc) Critical() bool                  { return c.critical }
