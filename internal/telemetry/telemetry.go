package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/config"
)

// shutdownFunc 关闭一个已安装的 SDK 组件
type shutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// Providers 记录 Init 安装的 SDK 组件。遥测关闭时为空，Shutdown 不做任何事。
type Providers struct {
	instanceID string
	shutdowns  []shutdownFunc
}

// Init 安装 W3C 传播器；cfg.Enabled 为真时再通过 OTLP gRPC 导出 trace 与 metric。
// 任一导出器创建失败时，已创建的部分会被关闭。
func Init(ctx context.Context, cfg config.TelemetryConfig, version string, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := &Providers{}
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return p, nil
	}

	if version == "" {
		version = buildVersion()
	}
	p.instanceID = uuid.NewString()

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
		semconv.ServiceInstanceID(p.instanceID),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	p.add("tracer provider", tp.Shutdown)

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.add("meter provider", mp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.Info("telemetry enabled",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.String("version", version),
		zap.String("instance_id", p.instanceID),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	// 子 span 跟随父 span 的采样结果，一次合并调用的链路要么完整要么不采
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	), nil
}

func newMeterProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func (p *Providers) add(name string, fn func(context.Context) error) {
	p.shutdowns = append(p.shutdowns, shutdownFunc{name: name, fn: fn})
}

// Enabled 是否安装了真实的 SDK provider
func (p *Providers) Enabled() bool {
	return p != nil && len(p.shutdowns) > 0
}

// InstanceID 返回本进程上报的 service.instance.id，未启用时为空
func (p *Providers) InstanceID() string {
	if p == nil {
		return ""
	}
	return p.instanceID
}

// Shutdown 按安装的逆序刷新并关闭各组件，可重复调用
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for i := len(p.shutdowns) - 1; i >= 0; i-- {
		s := p.shutdowns[i]
		if err := s.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", s.name, err))
		}
	}
	p.shutdowns = nil
	return errors.Join(errs...)
}

// buildVersion 读取主模块版本，测试与本地构建时为 "dev"
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}
