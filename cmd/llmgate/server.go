package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/api/handlers"
	"github.com/BaSui01/llmgate/config"
	"github.com/BaSui01/llmgate/internal/metrics"
	"github.com/BaSui01/llmgate/internal/server"
	"github.com/BaSui01/llmgate/internal/telemetry"
	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/llm/processor"
	"github.com/BaSui01/llmgate/llm/tokenizer"
	"github.com/BaSui01/llmgate/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 llmgate 的主服务器：合并层、下游处理器与 HTTP/Metrics 双端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	processor *processor.HTTPProcessor
	coalescer *coalescer.Coalescer

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 停止限流器的清理协程
	stopBackground context.CancelFunc
}

// NewServer 创建服务器实例，telemetry 可以为 nil
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: providers,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 构建组件并启动所有服务（非阻塞）
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("llmgate", s.logger)

	if err := s.initCoalescer(); err != nil {
		return fmt.Errorf("failed to init coalescer: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		s.coalescer.Close()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			_ = s.httpManager.Shutdown(context.Background())
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("downstream", s.cfg.Downstream.BaseURL),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initCoalescer 构建 分词计数 → 下游处理器 → 合并层
func (s *Server) initCoalescer() error {
	registry := tokenizer.NewRegistry()
	if s.cfg.Tokenizer.Tiktoken {
		tokenizer.RegisterOpenAI(registry)
	}
	// 空前缀匹配所有模型，作为带自定义字符比的兜底估算器
	if s.cfg.Tokenizer.CharsPerToken > 0 {
		registry.Register("", tokenizer.NewEstimatorTokenizer("", 0).WithCharsPerToken(s.cfg.Tokenizer.CharsPerToken))
	}
	counter := tokenizer.NewCounter(registry, s.logger)

	s.processor = processor.NewHTTPProcessor(s.cfg.Downstream, s.logger)

	opts := []coalescer.Option{
		coalescer.WithLogger(s.logger),
		coalescer.WithRecorder(s.collector),
		coalescer.WithTokenCounter(counter),
		coalescer.WithTracer(otel.Tracer("llmgate/coalescer")),
	}
	if warm := s.cfg.Warm; warm.Enabled() {
		opts = append(opts, coalescer.WithWarmSchedule(warm.Interval, func(context.Context) []*types.Request {
			return warm.Requests()
		}))
		s.logger.Info("Scheduled cache warming enabled",
			zap.Duration("interval", warm.Interval),
			zap.Int("prompts", len(warm.Prompts)),
		)
	}

	c, err := coalescer.New(s.cfg.Coalescer, instrumented(s.processor.Process, s.collector), opts...)
	if err != nil {
		return err
	}
	s.coalescer = c
	s.collector.RegisterStatsGauges(c.Stats)

	s.logger.Info("Coalescer initialized", zap.Stringer("coalescer", c))
	return nil
}

// instrumented 为下游调用记录耗时与结果
func instrumented(proc coalescer.Processor, collector *metrics.Collector) coalescer.Processor {
	return func(ctx context.Context, reqs []*types.Request) ([]*types.Response, error) {
		start := time.Now()
		resps, err := proc(ctx, reqs)
		collector.RecordDownstreamCall(time.Since(start), err)
		return resps, err
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// skipAuthPaths 不需要认证的探活路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// buildHandler 注册路由并构建中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewCheck("coalescer", s.coalescer.HealthCheck))
	health.RegisterCheck(handlers.NewDegradedCheck("downstream", s.processor.HealthCheck))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewGatewayHandler(s.coalescer, s.logger,
		handlers.WithBreakerState(s.processor.State),
		handlers.WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes),
	).Register(mux)

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.cfg.JWT.Enabled() {
		chain = append(chain, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	} else {
		chain = append(chain, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}
	chain = append(chain,
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		ModelOverride(),
	)
	return Chain(mux, chain...)
}

// startHTTPServer 启动 API 服务器，并注册合并层与遥测的关闭钩子
func (s *Server) startHTTPServer() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.stopBackground = cancel

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}
	s.httpManager = server.NewManager(s.buildHandler(bgCtx), serverConfig, s.logger)

	// HTTP 停止接收请求后再排空合并层，最后刷新遥测
	s.httpManager.OnShutdown("coalescer", func(context.Context) error {
		s.coalescer.Close()
		return nil
	})
	s.httpManager.OnShutdown("background", func(context.Context) error {
		cancel()
		return nil
	})
	if s.telemetry != nil {
		s.httpManager.OnShutdown("telemetry", s.telemetry.Shutdown)
	}

	if err := s.httpManager.Start(); err != nil {
		cancel()
		return err
	}
	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到收到信号或 ctx 结束，然后关闭所有服务
func (s *Server) WaitForShutdown(ctx context.Context) error {
	err := s.httpManager.WaitForShutdown(ctx)
	return errors.Join(err, s.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown 优雅关闭：API 服务（含钩子）→ Metrics 服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown")

	var errs []error
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if s.stopBackground != nil {
		s.stopBackground()
	}

	s.logger.Info("Graceful shutdown completed")
	return errors.Join(errs...)
}
