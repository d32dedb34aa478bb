package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/api"
	"github.com/BaSui01/llmgate/internal/ctxkeys"
	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/testutil/mocks"
	"github.com/BaSui01/llmgate/types"
)

func newGateway(t *testing.T, proc *mocks.MockProcessor, opts ...GatewayOption) (*http.ServeMux, *coalescer.Coalescer) {
	t.Helper()
	cfg := coalescer.DefaultConfig()
	cfg.MaxWaitTime = 5 * time.Millisecond
	c, err := coalescer.New(cfg, proc.Process, coalescer.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	mux := http.NewServeMux()
	NewGatewayHandler(c, zap.NewNop(), opts...).Register(mux)
	return mux, c
}

func postJSON(t *testing.T, mux http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

// envelope 解码统一响应中的 data 字段
func envelope[T any](t *testing.T, w *httptest.ResponseRecorder) (T, *ErrorInfo) {
	t.Helper()
	var resp struct {
		Success bool       `json:"success"`
		Data    T          `json:"data"`
		Error   *ErrorInfo `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Data, resp.Error
}

func TestGateway_Generate(t *testing.T) {
	proc := mocks.NewMockProcessor()
	mux, _ := newGateway(t, proc)

	w := postJSON(t, mux, "/api/v1/generate", `{"model":"m","prompt":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp, _ := envelope[api.GenerateResponse](t, w)
	assert.Equal(t, "echo:hello", resp.Content)
	assert.False(t, resp.Cached)

	w = postJSON(t, mux, "/api/v1/generate", `{"prompt":"hello","model":"m"}`)
	resp, _ = envelope[api.GenerateResponse](t, w)
	assert.True(t, resp.Cached, "identical request is served from cache")
	assert.Equal(t, 1, proc.CallCount())
}

func TestGateway_Generate_ModelOverrideFromContext(t *testing.T) {
	proc := mocks.NewMockProcessor()
	mux, _ := newGateway(t, proc)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(`{"prompt":"hi"}`))
	r.Header.Set("Content-Type", "application/json")
	r = r.WithContext(ctxkeys.WithModel(r.Context(), "gpt-4o"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	calls := proc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4o", calls[0][0].Model)
}

func TestGateway_Generate_Validation(t *testing.T) {
	mux, _ := newGateway(t, mocks.NewMockProcessor())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"no prompt", `{"model":"m"}`, http.StatusBadRequest},
		{"blank prompt", `{"prompt":"   "}`, http.StatusBadRequest},
		{"bad temperature", `{"prompt":"x","temperature":3}`, http.StatusBadRequest},
		{"negative max tokens", `{"prompt":"x","max_tokens":-1}`, http.StatusBadRequest},
		{"unknown field", `{"prompt":"x","stream":true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, mux, "/api/v1/generate", tt.body)
			assert.Equal(t, tt.want, w.Code)
			_, errInfo := envelope[any](t, w)
			require.NotNil(t, errInfo)
			assert.Equal(t, string(types.ErrInvalidRequest), errInfo.Code)
		})
	}
}

func TestGateway_Generate_WrongMethod(t *testing.T) {
	mux, _ := newGateway(t, mocks.NewMockProcessor())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/generate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGateway_Generate_ProcessorError(t *testing.T) {
	proc := mocks.NewMockProcessor().WithError(
		types.NewError(types.ErrRateLimited, "downstream busy").WithHTTPStatus(http.StatusTooManyRequests).WithRetryable(true),
	)
	mux, _ := newGateway(t, proc)

	w := postJSON(t, mux, "/api/v1/generate", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	_, errInfo := envelope[any](t, w)
	require.NotNil(t, errInfo)
	assert.Equal(t, "RATE_LIMITED", errInfo.Code)
	assert.True(t, errInfo.Retryable)
}

func TestGateway_Parallel(t *testing.T) {
	proc := mocks.NewMockProcessor().WithFunc(func(ctx context.Context, reqs []*types.Request) ([]*types.Response, error) {
		if reqs[0].Prompt == "bad" {
			return nil, types.NewError(types.ErrUpstreamError, "boom")
		}
		return mocks.Echo(reqs), nil
	})
	mux, _ := newGateway(t, proc)

	w := postJSON(t, mux, "/api/v1/generate/parallel",
		`{"requests":[{"prompt":"a"},{"prompt":"bad"},{"prompt":"c"}],"concurrency_limit":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out, _ := envelope[api.ParallelResponse](t, w)
	require.Len(t, out.Results, 3)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, "echo:a", out.Results[0].Response.Content)
	require.NotNil(t, out.Results[1].Error)
	assert.Equal(t, "UPSTREAM_ERROR", out.Results[1].Error.Code)
	assert.Equal(t, "echo:c", out.Results[2].Response.Content)
	assert.Equal(t, 3, proc.CallCount(), "parallel path calls downstream once per request")
}

func TestGateway_Parallel_Validation(t *testing.T) {
	mux, _ := newGateway(t, mocks.NewMockProcessor())

	assert.Equal(t, http.StatusBadRequest, postJSON(t, mux, "/api/v1/generate/parallel", `{"requests":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, mux, "/api/v1/generate/parallel", `{"requests":[null]}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, mux, "/api/v1/generate/parallel", `{"requests":[{"prompt":""}]}`).Code)

	many := strings.Repeat(`{"prompt":"x"},`, maxParallelRequests) + `{"prompt":"x"}`
	assert.Equal(t, http.StatusBadRequest, postJSON(t, mux, "/api/v1/generate/parallel", `{"requests":[`+many+`]}`).Code)
}

func TestGateway_StatsAndClear(t *testing.T) {
	proc := mocks.NewMockProcessor()
	mux, c := newGateway(t, proc, WithBreakerState(func() string { return "closed" }))

	postJSON(t, mux, "/api/v1/generate", `{"prompt":"a"}`)
	postJSON(t, mux, "/api/v1/generate", `{"prompt":"a"}`)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats, _ := envelope[api.StatsResponse](t, w)
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, 1, stats.Cache.Size)
	assert.GreaterOrEqual(t, stats.CallsSaved, int64(1))
	assert.Equal(t, "closed", stats.BreakerState)

	w = postJSON(t, mux, "/api/v1/clear", ``)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, c.Stats().Cache.Size)
	assert.Zero(t, c.Stats().Cache.Hits)
}

func TestGateway_Warm(t *testing.T) {
	proc := mocks.NewMockProcessor()
	mux, c := newGateway(t, proc)

	w := postJSON(t, mux, "/api/v1/warm", `{"requests":[{"prompt":"a"},{"prompt":"b"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res, _ := envelope[api.WarmResponse](t, w)
	assert.Equal(t, 2, res.Requested)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)
	calls := proc.CallCount()

	w = postJSON(t, mux, "/api/v1/generate", `{"prompt":"a"}`)
	resp, _ := envelope[api.GenerateResponse](t, w)
	assert.True(t, resp.Cached, "warmed request is served from cache")
	assert.Equal(t, calls, proc.CallCount())
	assert.Equal(t, int64(1), c.Stats().Warm.Runs)
}

func TestGateway_Warm_Validation(t *testing.T) {
	mux, _ := newGateway(t, mocks.NewMockProcessor())

	assert.Equal(t, http.StatusBadRequest, postJSON(t, mux, "/api/v1/warm", `{"requests":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, mux, "/api/v1/warm", `{"requests":[{"prompt":" "}]}`).Code)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/warm", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGateway_Warm_InProgress(t *testing.T) {
	proc, started := mocks.NewMockProcessor().WithGate()
	mux, c := newGateway(t, proc)

	done := make(chan error, 1)
	go func() {
		_, err := c.Warm(context.Background(), []*types.Request{{Prompt: "slow"}}, 1)
		done <- err
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("warm never reached the processor")
	}

	w := postJSON(t, mux, "/api/v1/warm", `{"requests":[{"prompt":"x"}]}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	_, errInfo := envelope[api.WarmResponse](t, w)
	require.NotNil(t, errInfo)
	assert.Equal(t, string(types.ErrWarmInProgress), errInfo.Code)

	proc.Release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("warm did not finish")
	}
}
