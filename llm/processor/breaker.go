package processor

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/types"
)

// newBreaker 创建熔断器。只有下游 5xx、超时与传输错误计入失败，
// 请求本身非法、被限流或调用方取消都不会触发熔断。
func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().Breaker.FailureThreshold
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = DefaultConfig().Breaker.HalfOpenMaxCalls
	}
	threshold := cfg.FailureThreshold

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var e *types.Error
	if errors.As(err, &e) {
		return e.HTTPStatus > 0 && e.HTTPStatus < http.StatusInternalServerError
	}
	return false
}

// breakerError 将熔断器拒绝转换为 SERVICE_UNAVAILABLE
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewError(types.ErrServiceUnavailable, "downstream circuit breaker is open").
			WithCause(err).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}
	return err
}
