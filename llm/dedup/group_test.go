package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/testutil"
	"github.com/BaSui01/llmgate/types"
)

type result struct {
	v   *string
	err error
}

// startCallers 启动 n 个并发调用方，返回结果通道
func startCallers(ctx context.Context, g *Group[*string], n int, key string, fn func(context.Context) (*string, error)) <-chan result {
	out := make(chan result, n)
	for i := 0; i < n; i++ {
		go func() {
			v, err := g.Do(ctx, key, fn)
			out <- result{v: v, err: err}
		}()
	}
	return out
}

func TestGroup_CollapsesConcurrentCallers(t *testing.T) {
	g := NewGroup[*string](zap.NewNop())

	var calls atomic.Int32
	release := make(chan struct{})
	value := "shared"
	fn := func(ctx context.Context) (*string, error) {
		calls.Add(1)
		<-release
		return &value, nil
	}

	const n = 5
	out := startCallers(context.Background(), g, n, "k", fn)
	testutil.AssertEventuallyTrue(t, func() bool { return g.Stats().Waiters == n }, time.Second)
	close(release)

	for i := 0; i < n; i++ {
		r := <-out
		require.NoError(t, r.err)
		assert.Same(t, &value, r.v, "every waiter receives the identical value")
	}
	assert.Equal(t, int32(1), calls.Load())

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.Executions)
	assert.Equal(t, int64(n-1), stats.Shared)
	assert.Equal(t, 0, stats.InFlight)
}

func TestGroup_SharesIdenticalError(t *testing.T) {
	g := NewGroup[*string](nil)

	boom := errors.New("downstream failed")
	release := make(chan struct{})
	fn := func(ctx context.Context) (*string, error) {
		<-release
		return nil, boom
	}

	out := startCallers(context.Background(), g, 3, "k", fn)
	testutil.AssertEventuallyTrue(t, func() bool { return g.Stats().Waiters == 3 }, time.Second)
	close(release)

	for i := 0; i < 3; i++ {
		r := <-out
		assert.Same(t, boom, r.err)
	}
}

func TestGroup_FreshCallAfterSettle(t *testing.T) {
	g := NewGroup[int](nil)

	var calls atomic.Int32
	fn := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	v1, err := g.Do(context.Background(), "k", fn)
	require.NoError(t, err)
	v2, err := g.Do(context.Background(), "k", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2, "settled entries are not cached")
	assert.Equal(t, int64(2), g.Stats().Executions)
}

func TestGroup_DistinctKeysRunIndependently(t *testing.T) {
	g := NewGroup[string](nil)

	var wg sync.WaitGroup
	var calls atomic.Int32
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := g.Do(context.Background(), key, func(ctx context.Context) (string, error) {
				calls.Add(1)
				return key, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, key, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestGroup_Clear(t *testing.T) {
	g := NewGroup[int](nil)

	release := make(chan struct{})
	defer close(release)
	fn := func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := g.Do(context.Background(), "k", fn)
			errs <- err
		}()
	}
	testutil.AssertEventuallyTrue(t, func() bool { return g.Stats().Waiters == 2 }, time.Second)

	g.Clear()
	for i := 0; i < 2; i++ {
		err := <-errs
		assert.ErrorIs(t, err, ErrCleared)
		assert.True(t, types.IsCleared(err))
	}
	assert.Equal(t, 0, g.Stats().InFlight)

	// Clear 之后同键立即开始新的执行
	v, err := g.Do(context.Background(), "k", func(ctx context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestGroup_WaiterContextCancel(t *testing.T) {
	g := NewGroup[int](nil)

	release := make(chan struct{})
	var sawCancel atomic.Bool
	fn := func(ctx context.Context) (int, error) {
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return 7, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, "k", fn)
		first <- err
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return g.Stats().Waiters == 1 }, time.Second)

	second := make(chan int, 1)
	go func() {
		v, _ := g.Do(context.Background(), "k", fn)
		second <- v
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return g.Stats().Waiters == 2 }, time.Second)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	assert.Equal(t, 7, <-second, "remaining waiters still get the shared result")
	assert.False(t, sawCancel.Load(), "shared call is detached from the first caller")
}

func TestGroup_PanicBecomesError(t *testing.T) {
	g := NewGroup[int](nil)

	_, err := g.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
		panic("bad")
	})
	assert.ErrorIs(t, err, ErrPanicked)
	assert.Equal(t, 0, g.Stats().InFlight)
}

func TestGroup_DoSharedReportsJoin(t *testing.T) {
	g := NewGroup[int](nil)

	release := make(chan struct{})
	first := make(chan bool, 1)
	go func() {
		_, shared, _ := g.DoShared(context.Background(), "k", func(ctx context.Context) (int, error) {
			<-release
			return 1, nil
		})
		first <- shared
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return g.Stats().InFlight == 1 }, time.Second)

	second := make(chan bool, 1)
	go func() {
		_, shared, _ := g.DoShared(context.Background(), "k", func(ctx context.Context) (int, error) { return 2, nil })
		second <- shared
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return g.Stats().Waiters == 2 }, time.Second)
	close(release)

	assert.False(t, <-first)
	assert.True(t, <-second)
}
