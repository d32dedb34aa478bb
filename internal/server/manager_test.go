package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return NewManager(handler, cfg, zap.NewNop())
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.TLSCertFile)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_BadTLSCertificate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.TLSCertFile = "/nonexistent/cert.pem"
	cfg.TLSKeyFile = "/nonexistent/key.pem"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS")
}

func TestManager_ShutdownHooksRunInOrder(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())

	var order []string
	m.OnShutdown("coalescer", func(ctx context.Context) error {
		order = append(order, "coalescer")
		return nil
	})
	m.OnShutdown("telemetry", func(ctx context.Context) error {
		order = append(order, "telemetry")
		return errors.New("exporter unreachable")
	})

	require.NoError(t, m.Start())
	err := m.Shutdown(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry")
	assert.Equal(t, []string{"coalescer", "telemetry"}, order)
}

func TestManager_WaitForShutdown_Context(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Start())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, m.WaitForShutdown(ctx))
	assert.False(t, m.IsRunning())
}

func TestManager_Errors(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())

	select {
	case <-m.Errors():
		t.Fatal("should not have received an error")
	default:
	}
}

func TestManager_Addr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	assert.Equal(t, ":9999", m.Addr())
}
