package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthHandler_Liveness(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	handler.RegisterCheck(NewCheck("downstream", func(context.Context) error { return errors.New("down") }))

	for _, h := range []http.HandlerFunc{handler.HandleHealth, handler.HandleHealthz} {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code, "liveness ignores readiness checks")
		var status HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status)
		assert.False(t, status.Timestamp.IsZero())
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantState  string
	}{
		{"no checks", nil, http.StatusOK, "healthy"},
		{
			"all pass",
			[]HealthCheck{
				NewCheck("coalescer", func(context.Context) error { return nil }),
				NewCheck("downstream", func(context.Context) error { return nil }),
			},
			http.StatusOK, "healthy",
		},
		{
			"optional check fails",
			[]HealthCheck{
				NewCheck("coalescer", func(context.Context) error { return nil }),
				NewDegradedCheck("downstream", func(context.Context) error { return errors.New("circuit open") }),
			},
			http.StatusOK, "degraded",
		},
		{
			"one fails",
			[]HealthCheck{
				NewCheck("coalescer", func(context.Context) error { return nil }),
				NewCheck("downstream", func(context.Context) error { return errors.New("circuit open") }),
			},
			http.StatusServiceUnavailable, "unhealthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(nil)
			for _, c := range tt.checks {
				handler.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantState, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			if tt.wantState == StatusDegraded {
				assert.Equal(t, "warn", status.Checks["downstream"].Status)
				assert.False(t, status.Checks["downstream"].Critical)
			}
			if tt.wantState == "unhealthy" {
				assert.Equal(t, "fail", status.Checks["downstream"].Status)
				assert.Equal(t, "circuit open", status.Checks["downstream"].Message)
				assert.Equal(t, "pass", status.Checks["coalescer"].Status)
			}
		})
	}
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	handler := NewHealthHandler(nil)
	handler.SetCheckTimeout(20 * time.Millisecond)
	handler.RegisterCheck(NewCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	w := httptest.NewRecorder()
	handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVersion("1.2.3", "2024-01-01", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "1.2.3", resp.Data["version"])
	assert.Equal(t, "abc123", resp.Data["git_commit"])
}

func TestHealthHandler_ConcurrentRegisterAndReady(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			handler.RegisterCheck(NewCheck("ok", func(context.Context) error { return nil }))
		}()
		go func() {
			defer wg.Done()
			handler.HandleReady(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ready", nil))
		}()
	}
	wg.Wait()
}
