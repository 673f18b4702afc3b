package async

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// ForEach runs fn for every item with at most limit calls in flight and
// returns the per-item errors, index-aligned with items.
//
// Behavior:
//   - A failing or panicking call never affects the others
//   - Panics are recovered, logged with their stack and returned as errors
//   - Once ctx is done no new call starts; items that never started get a
//     canceled error
func ForEach[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) []error {
	if limit < 1 {
		limit = 1
	}

	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs[i] = goerr.Wrap(err, "not started", goerr.T(types.ErrTagCanceled))
			continue
		}

		g.Go(func() error {
			errs[i] = safeCall(ctx, item, fn)
			return nil
		})
	}
	_ = g.Wait() // errors are captured per item

	return errs
}

// Detach returns a context that keeps the values of ctx (logger included) but
// is not canceled with it. Work that must reach a safe point, such as a file
// write or a push, runs on a detached context.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func safeCall[T any](ctx context.Context, item T, fn func(ctx context.Context, item T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger := ctxlog.From(ctx)
			logger.Error("panic in async handler",
				"recover", r,
				"stack", string(stack))
			err = goerr.New("panic in async handler", goerr.V("recover", fmt.Sprint(r)))
		}
	}()

	return fn(ctx, item)
}
