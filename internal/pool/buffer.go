package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxRetainedBuffer 超过该容量的缓冲区不放回池中
const maxRetainedBuffer = 1 << 20

// BufferPool provides pooled byte buffers for request encoding.
type BufferPool struct {
	pool sync.Pool

	// Metrics
	gets    atomic.Int64
	puts    atomic.Int64
	news    atomic.Int64
	dropped atomic.Int64
}

// NewBufferPool creates a buffer pool whose fresh buffers start with initSize capacity.
func NewBufferPool(initSize int) *BufferPool {
	p := &BufferPool{}
	p.pool.New = func() any {
		p.news.Add(1)
		return bytes.NewBuffer(make([]byte, 0, initSize))
	}
	return p
}

// Get retrieves an empty buffer from the pool.
func (p *BufferPool) Get() *bytes.Buffer {
	p.gets.Add(1)
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets buf and returns it to the pool. Oversized buffers are dropped.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxRetainedBuffer {
		p.dropped.Add(1)
		return
	}
	p.puts.Add(1)
	buf.Reset()
	p.pool.Put(buf)
}

// Stats returns pool statistics.
func (p *BufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		Gets:    p.gets.Load(),
		Puts:    p.puts.Load(),
		News:    p.news.Load(),
		Dropped: p.dropped.Load(),
	}
}

// BufferPoolStats contains pool statistics.
type BufferPoolStats struct {
	Gets    int64 `json:"gets"`
	Puts    int64 `json:"puts"`
	News    int64 `json:"news"`
	Dropped int64 `json:"dropped"`
}

// HitRate returns the fraction of Get calls served without allocating.
func (s BufferPoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}
