package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/tlsutil"
)

// Config 单个 HTTP 监听的配置
type Config struct {
	Addr        string        `yaml:"addr" json:"addr" env:"ADDR"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout 需覆盖批次等待时间与下游耗时
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"MAX_HEADER_BYTES"`
	// ShutdownTimeout 同时约束 http.Server.Shutdown 与全部关闭钩子
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 证书与私钥都设置时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateStopped
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager 管理一个 http.Server 的启动与优雅关闭。
// 关闭顺序：停止接收新连接并等待在途请求，再按注册顺序执行钩子。
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger
	errCh  chan error

	mu    sync.RWMutex
	state state
	ln    net.Listener
	hooks []hook
}

func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http_server"))
	return &Manager{
		cfg:    cfg,
		logger: logger,
		errCh:  make(chan error, 1),
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
			ErrorLog:       zap.NewStdLog(logger),
		},
	}
}

// OnShutdown 注册关闭钩子，例如排空合并层或刷新遥测
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
	m.mu.Unlock()
}

// Start 监听并在后台提供服务，不阻塞
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateServing:
		return errors.New("server already started")
	case stateStopped:
		return errors.New("server is closed")
	}

	tlsCfg, err := tlsutil.ServerTLSConfig(m.cfg.TLSCertFile, m.cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln
	m.state = stateServing

	serve := func() error { return m.srv.Serve(ln) }
	scheme := "http"
	if tlsCfg != nil {
		m.srv.TLSConfig = tlsCfg
		serve = func() error { return m.srv.ServeTLS(ln, "", "") }
		scheme = "https"
	}
	m.logger.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("scheme", scheme),
	)

	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("server stopped unexpectedly", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown 优雅关闭，重复调用返回 nil
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = stateStopped
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	var errs []error
	if err := m.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			m.logger.Warn("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	m.logger.Info("server stopped",
		zap.Duration("took", time.Since(start)),
		zap.Int("hook_errors", len(errs)),
	)
	return errors.Join(errs...)
}

// WaitForShutdown 等待 SIGINT/SIGTERM、服务异常或 ctx 结束，然后调用 Shutdown。
// 关闭过程不受 ctx 取消影响，只受 ShutdownTimeout 约束。
func (m *Manager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		if ctx.Err() == nil {
			m.logger.Info("shutdown signal received")
		}
	case err := <-m.errCh:
		m.logger.Error("shutting down after server error", zap.Error(err))
	}
	return m.Shutdown(context.WithoutCancel(ctx))
}

// Errors 返回 Serve 的异步错误，最多缓存一个
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 已监听时返回实际地址（端口 0 时有用），否则返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ln != nil && m.state == stateServing {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 是否尚未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != stateStopped
}
