package resolver

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SourceFunc is one candidate way to obtain a value of T, e.g. "ask Ribbit"
// or "ask TACT HTTP".
type SourceFunc[T any] func(context.Context) (T, error)

// FirstSuccess runs every source concurrently (bounded by concurrency; <=0
// means unbounded) and returns the first one that succeeds. If all fail,
// every error is returned together as a SourceErrors. Used for spec.md
// §4.11a's "Ribbit first, then TACT HTTP" version-source fallback:
// adapted from the teacher's CAR-mirror racing helper, here racing two
// protocols instead of N mirrors.
func FirstSuccess[T any](ctx context.Context, concurrency int, sources ...SourceFunc[T]) (T, error) {
	type result struct {
		val T
		err error
	}
	results := make(chan result, len(sources))

	var wg errgroup.Group
	if concurrency > 0 {
		wg.SetLimit(concurrency)
	}
	for _, src := range sources {
		src := src
		wg.Go(func() error {
			if ctx.Err() != nil {
				var zero T
				results <- result{zero, ctx.Err()}
				return nil
			}
			val, err := src(ctx)
			select {
			case results <- result{val, err}:
			case <-ctx.Done():
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var errs SourceErrors
	for res := range results {
		if res.err == nil {
			return res.val, nil
		}
		errs = append(errs, res.err)
		if len(errs) == len(sources) {
			break
		}
	}
	var zero T
	return zero, errs
}

// SourceErrors collects one error per failed source, for callers that want
// to report why every fallback was exhausted.
type SourceErrors []error

func (e SourceErrors) Error() string {
	if len(e) == 0 {
		return "SourceErrors{}"
	}
	var b strings.Builder
	b.WriteString("SourceErrors{")
	for i, err := range e {
		if i > 0 {
			b.WriteString(", ")
		}
		if err == nil {
			b.WriteString("nil")
			continue
		}
		b.WriteString(strconv.Quote(err.Error()))
	}
	b.WriteString("}")
	return b.String()
}
