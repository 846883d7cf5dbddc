package bake

import (
	"context"
	"fmt"
	"time"
)

var ErrPollBound = fmt.Errorf("exceeded retry bound while polling")

// poll invokes 'fn' at a fixed 'interval' until it reports done, returns an
// error, or 'attempts' invocations have been made.
//
// 'fn' returning a non-nil error is fatal and aborts the poll immediately;
// transient failures are signaled by returning (false, nil). If 'attempts'
// is <= 0 the poll is bounded only by the context.
//
// The first invocation happens immediately, subsequent invocations are
// spaced 'interval' apart. No backoff: fixed-interval polling.
func poll(ctx context.Context, interval time.Duration, attempts int, fn func(ctx context.Context) (bool, error)) error {
	for made := 0; attempts <= 0 || made < attempts; made++ {
		if made > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrPollBound
}
