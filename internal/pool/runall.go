package pool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Operation is one independent unit of work submitted to RunAll.
type Operation[T any] func(ctx context.Context) (T, error)

// Result holds the outcome of one operation. Exactly one of Value and Err is meaningful.
type Result[T any] struct {
	Value T
	Err   error
}

// RunAll runs every operation with at most limit of them in flight and
// returns one Result per operation in input order. A failing operation does
// not cancel its siblings; its error is recorded in its own slot.
func RunAll[T any](ctx context.Context, ops []Operation[T], limit int) []Result[T] {
	results := make([]Result[T], len(ops))
	if len(ops) == 0 {
		return results
	}
	if limit <= 0 || limit > len(ops) {
		limit = len(ops)
	}

	// errgroup.Group 而非 WithContext：单个失败不取消兄弟任务
	var g errgroup.Group
	g.SetLimit(limit)

	for i, op := range ops {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i] = runOne(ctx, op)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runOne[T any](ctx context.Context, op Operation[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: fmt.Errorf("%w: %v", ErrTaskPanicked, r)}
		}
	}()

	v, err := op(ctx)
	if err != nil {
		return Result[T]{Err: err}
	}
	return Result[T]{Value: v}
}

// Values splits results into values and errors, both indexed like the input.
func Values[T any](results []Result[T]) ([]T, []error) {
	values := make([]T, len(results))
	errs := make([]error, len(results))
	for i, r := range results {
		values[i] = r.Value
		errs[i] = r.Err
	}
	return values, errs
}
