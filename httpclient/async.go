package httpclient

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Scheduler runs asynchronous dispatches.
//
// Go must eventually call task exactly once and must not block the caller
// for the duration of the task.
type Scheduler interface {
	Go(ctx context.Context, task func(ctx context.Context))
}

// goroutineScheduler runs every task on its own goroutine, optionally bounded
// by a weighted semaphore.
type goroutineScheduler struct {
	sem    *semaphore.Weighted
	logger zerolog.Logger
}

func newGoroutineScheduler(limit int64, logger zerolog.Logger) *goroutineScheduler {
	s := &goroutineScheduler{logger: logger}
	if limit > 0 {
		s.sem = semaphore.NewWeighted(limit)
	}
	return s
}

// Go implements Scheduler. When the slot cannot be acquired because ctx is
// done, the task still runs and observes the done context.
func (s *goroutineScheduler) Go(ctx context.Context, task func(ctx context.Context)) {
	go func() {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err == nil {
				defer s.sem.Release(1)
			}
		}

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("async task panicked")
			}
		}()

		task(ctx)
	}()
}

// DispatchAsync performs req in the background and returns a channel that
// receives exactly one Result and is then closed.
//
// Example:
//
//	res := <-d.DispatchAsync(ctx, httpclient.Request{URL: "https://api.example.com/ping", Method: "GET"})
//	if res.Err != nil {
//	    log.Error().Err(res.Err).Msg("ping failed")
//	}
func (d *Dispatcher) DispatchAsync(ctx context.Context, req Request) <-chan Result {
	ch := make(chan Result, 1)

	attrs := d.cfg.baseAttributes()
	d.cfg.Metrics.recordAsyncStart(ctx, attrs)

	d.cfg.scheduler.Go(ctx, func(ctx context.Context) {
		defer close(ch)
		defer d.cfg.Metrics.recordAsyncEnd(ctx, attrs)
		ch <- d.dispatchRecover(ctx, req)
	})

	return ch
}

// DispatchAsyncFunc performs req in the background and calls exactly one of
// onSuccess(body) or onFailure(message). Nil callbacks are skipped.
func (d *Dispatcher) DispatchAsyncFunc(
	ctx context.Context,
	req Request,
	onSuccess func(body string),
	onFailure func(message string),
) {
	attrs := d.cfg.baseAttributes()
	d.cfg.Metrics.recordAsyncStart(ctx, attrs)

	d.cfg.scheduler.Go(ctx, func(ctx context.Context) {
		res := d.dispatchRecover(ctx, req)
		d.cfg.Metrics.recordAsyncEnd(ctx, attrs)

		if res.Err != nil {
			if onFailure != nil {
				onFailure(res.Err.Error())
			}
			return
		}
		if onSuccess != nil {
			onSuccess(res.Body)
		}
	})
}

// dispatchRecover runs Dispatch and turns a panic into a failed Result.
func (d *Dispatcher) dispatchRecover(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.cfg.Logger.Error().
				Interface("panic", r).
				Str("url", req.URL).
				Msg("async dispatch panicked")
			res = Result{Err: fmt.Errorf("httpclient: dispatch panicked: %v", r)}
		}
	}()

	body, err := d.Dispatch(ctx, req)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Body: body}
}
