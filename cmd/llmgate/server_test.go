package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/config"
	"github.com/BaSui01/llmgate/internal/metrics"
	"github.com/BaSui01/llmgate/types"
)

var serverTestSeq atomic.Int64

// newDownstream 模拟下游批量接口，按序回显 prompt
func newDownstream(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Requests []*types.Request `json:"requests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		results := make([]*types.Response, len(body.Requests))
		for i, req := range body.Requests {
			results[i] = &types.Response{Model: req.Model, Content: "gen:" + req.Prompt}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTestServer 组装 Server 的处理链，不监听端口
func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, http.Handler, *atomic.Int64) {
	t.Helper()
	calls := &atomic.Int64{}
	downstream := newDownstream(t, calls)

	cfg := config.DefaultConfig()
	cfg.Tokenizer.Tiktoken = false
	cfg.Downstream.BaseURL = downstream.URL
	cfg.Downstream.RateLimit = 0
	cfg.Coalescer.MaxWaitTime = 10 * time.Millisecond
	cfg.Server.RateLimitRPS = 0
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	s := NewServer(cfg, zap.NewNop(), nil)
	s.collector = metrics.NewCollector(fmt.Sprintf("llmgate_server_test_%d", serverTestSeq.Add(1)), zap.NewNop())
	require.NoError(t, s.initCoalescer())
	t.Cleanup(s.coalescer.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return s, s.buildHandler(ctx), calls
}

func doJSON(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServer_GenerateEndToEnd(t *testing.T) {
	_, h, calls := newTestServer(t, nil)

	w := doJSON(h, http.MethodPost, "/api/v1/generate", `{"prompt":"hello"}`, map[string]string{ModelHeader: "m1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		Data types.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gen:hello", resp.Data.Content)
	assert.Equal(t, "m1", resp.Data.Model)

	// 相同请求命中缓存，不再调用下游
	w = doJSON(h, http.MethodPost, "/api/v1/generate", `{"prompt":"hello","model":"m1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Cached)
	assert.Equal(t, int64(1), calls.Load())
}

func TestServer_StatsReportsBreaker(t *testing.T) {
	_, h, _ := newTestServer(t, nil)

	w := doJSON(h, http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			BreakerState string `json:"breaker_state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "closed", resp.Data.BreakerState)
}

func TestServer_HealthSkipsAuth(t *testing.T) {
	_, h, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.APIKeys = []string{"secret"}
	})

	assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(h, http.MethodGet, "/api/v1/stats", "", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/api/v1/stats", "", map[string]string{"X-API-Key": "secret"}).Code)
}

func TestServer_NotReadyAfterCoalescerClosed(t *testing.T) {
	s, h, _ := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/ready", "", nil).Code)
	s.coalescer.Close()
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(h, http.MethodGet, "/ready", "", nil).Code)

	w := doJSON(h, http.MethodPost, "/api/v1/generate", `{"prompt":"late"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRun_Commands(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 0, run([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "llmgate "+Version)

	stdout.Reset()
	assert.Equal(t, 0, run([]string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Usage:")

	assert.Equal(t, 1, run(nil, &stdout, &stderr))
	assert.Equal(t, 1, run([]string{"bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown command: bogus")
}

func TestRunHealthCheck(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
	}))
	t.Cleanup(ok.Close)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runHealthCheck([]string{"--addr", ok.URL}, &stdout, &stderr))
	assert.Equal(t, "OK\n", stdout.String())
	assert.Equal(t, 1, runHealthCheck([]string{"--addr", down.URL}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "status 503")
}

func TestInitLogger(t *testing.T) {
	assert.NotNil(t, initLogger(config.LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, initLogger(config.LogConfig{Level: "nonsense"}))
}
