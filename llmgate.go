// Package llmgate provides a top-level convenience entry point for putting a
// request coalescer in front of a text-generation backend.
//
// Usage:
//
//	import "github.com/BaSui01/llmgate"
//
//	g, err := llmgate.New(myProcessor)
//	g, err := llmgate.New(myProcessor, llmgate.WithBatchSize(16), llmgate.WithCacheTTL(time.Minute))
//	g, err := llmgate.NewHTTP("http://generator:8000", llmgate.WithConcurrencyLimit(8))
//	defer g.Close()
//
//	resp, err := g.Execute(ctx, &llmgate.Request{Model: "gpt-4o-mini", Prompt: "hi"})
//
// This is a thin wrapper around [coalescer.New]; use the coalescer package
// directly for clocks, recorders, tracers or custom fingerprinters.
package llmgate

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm/coalescer"
	"github.com/BaSui01/llmgate/llm/processor"
	"github.com/BaSui01/llmgate/types"
)

// Re-exported types so callers never need to import the inner packages.
type (
	Request   = types.Request
	Response  = types.Response
	Message   = types.Message
	Processor = coalescer.Processor
	Stats     = coalescer.Stats
	Gateway   = coalescer.Coalescer
)

// Option configures the coalescer created by [New].
type Option func(*settings)

type settings struct {
	cfg    coalescer.Config
	logger *zap.Logger
}

// WithBatchSize sets the number of requests that triggers an immediate flush.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.cfg.BatchSize = n }
}

// WithMaxWaitTime sets how long a partial batch may wait before it is flushed.
func WithMaxWaitTime(d time.Duration) Option {
	return func(s *settings) { s.cfg.MaxWaitTime = d }
}

// WithConcurrencyLimit bounds the number of downstream calls in flight.
func WithConcurrencyLimit(n int) Option {
	return func(s *settings) { s.cfg.ConcurrencyLimit = n }
}

// WithCacheTTL sets the result cache entry lifetime.
func WithCacheTTL(d time.Duration) Option {
	return func(s *settings) { s.cfg.CacheTTL = d }
}

// WithCacheMaxSize sets the result cache capacity.
func WithCacheMaxSize(n int) Option {
	return func(s *settings) { s.cfg.CacheMaxSize = n }
}

// WithDedup enables or disables in-flight de-duplication.
func WithDedup(enabled bool) Option {
	return func(s *settings) { s.cfg.DedupeEnabled = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// New creates a [Gateway] in front of proc with the default configuration
// adjusted by opts.
func New(proc Processor, opts ...Option) (*Gateway, error) {
	s := &settings{cfg: coalescer.DefaultConfig(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return coalescer.New(s.cfg, proc, coalescer.WithLogger(s.logger))
}

// NewHTTP creates a [Gateway] whose processor posts batches to the
// generation service at baseURL.
func NewHTTP(baseURL string, opts ...Option) (*Gateway, error) {
	s := &settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	cfg := processor.DefaultConfig()
	cfg.BaseURL = baseURL
	return New(processor.NewHTTPProcessor(cfg, s.logger).Process, opts...)
}
