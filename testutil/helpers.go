package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmgate/types"
)

const (
	defaultTestTimeout = 30 * time.Second
	pollInterval       = 5 * time.Millisecond
)

// TestContext 返回 30 秒超时的上下文，测试结束时取消
func TestContext(t testing.TB) context.Context {
	return TestContextWithTimeout(t, defaultTestTimeout)
}

// TestContextWithTimeout 同 TestContext，超时自定
func TestContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertErrorCode 断言 err 是携带 code 的 *types.Error
func AssertErrorCode(t testing.TB, err error, code types.ErrorCode) bool {
	t.Helper()
	if !assert.Error(t, err, "expected error with code %s", code) {
		return false
	}
	return assert.Equal(t, code, types.GetErrorCode(err), "error: %v", err)
}

// AssertEventuallyTrue 轮询 condition 直到为真，超时则终止测试
func AssertEventuallyTrue(t testing.TB, condition func() bool, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, condition, timeout, pollInterval)
}

// MustReceive 在 timeout 内从 ch 取一个值
func MustReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("nothing received within %v", timeout)
	}
	panic("unreachable")
}

// AssertNotReceived 断言 wait 期间 ch 没有值
func AssertNotReceived[T any](t testing.TB, ch <-chan T, wait time.Duration) {
	t.Helper()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value received: %v", v)
	case <-timer.C:
	}
}
