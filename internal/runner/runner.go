// Package runner executes independent work items across a bounded pool of
// workers, skipping items that are already complete and retrying failed items
// with exponential backoff.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	ReasonPreconditionNotMet = "precondition not met"
	ReasonCancelled          = "run cancelled"
)

// Item is a unit of work. Keys must be unique within a single Run.
type Item interface {
	Key() string
}

// ProcessFunc performs one attempt for one item. It must be safe to call again
// for the same item after a failed attempt.
type ProcessFunc[T Item] func(ctx context.Context, item T) error

type Config[T Item] struct {
	// MaxWorkers bounds the number of attempts in flight at any time.
	MaxWorkers int

	// MaxRetries is the maximum number of attempts per item, including the first.
	MaxRetries int

	// BaseDelay is the wait before the first retry. Retry k waits BaseDelay*2^(k-1).
	BaseDelay time.Duration

	// IsAlreadyDone is consulted once per item before scheduling.
	IsAlreadyDone func(T) bool

	// Precondition is optional. Items failing it are recorded as failed
	// without any attempt.
	Precondition func(T) bool

	// Observer receives attempt and outcome notifications. Calls are serialized.
	Observer Observer

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config[T]) validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay must be >= 0, got %s", c.BaseDelay)
	}
	if c.IsAlreadyDone == nil {
		return errors.New("is-already-done predicate is nil")
	}
	return nil
}

// NeverDone is an IsAlreadyDone predicate for stages without resumable output.
func NeverDone[T Item](T) bool { return false }

type run[T Item] struct {
	cfg     Config[T]
	process ProcessFunc[T]
	report  *Report

	// mu serializes report updates and observer callbacks so that failures
	// are listed in the same order observers saw them.
	mu sync.Mutex
}

// Run processes items and returns the aggregate report.
//
// Per-item failures never make Run return an error. A non-nil error means the
// configuration or item set was unusable (nothing was scheduled, report is nil)
// or the runner itself hit an internal defect (wraps ErrInternal; the partial
// report is still returned).
func Run[T Item](ctx context.Context, items []T, process ProcessFunc[T], cfg Config[T]) (*Report, error) {
	if ctx == nil {
		return nil, errors.New("context is nil")
	}
	if process == nil {
		return nil, errors.New("process func is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := checkKeys(items); err != nil {
		return nil, err
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	r := &run[T]{cfg: cfg, process: process, report: newReport(len(items))}

	var internalErrs []error
	pending := make([]T, 0, len(items))
	for _, item := range items {
		switch {
		case cfg.IsAlreadyDone(item):
			internalErrs = appendErr(internalErrs, r.finish(Outcome{Key: item.Key(), State: StateSkipped}))
		case cfg.Precondition != nil && !cfg.Precondition(item):
			internalErrs = appendErr(internalErrs, r.finish(Outcome{Key: item.Key(), State: StateFailed, Reason: ReasonPreconditionNotMet}))
		default:
			pending = append(pending, item)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxWorkers)
	for _, item := range pending {
		if gctx.Err() != nil {
			internalErrs = appendErr(internalErrs, r.finish(Outcome{Key: item.Key(), State: StateFailed, Reason: ReasonCancelled}))
			continue
		}
		g.Go(func() error {
			return r.runItem(gctx, item)
		})
	}
	internalErrs = appendErr(internalErrs, g.Wait())

	r.report.finalize(ctx.Err() != nil)
	if len(internalErrs) > 0 {
		return r.report, errors.Join(internalErrs...)
	}
	return r.report, nil
}

func (r *run[T]) runItem(ctx context.Context, item T) error {
	key := item.Key()
	start := time.Now()
	if ctx.Err() != nil {
		return r.finish(Outcome{Key: key, State: StateFailed, Reason: ReasonCancelled})
	}

	var waited time.Duration
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		err := r.attempt(ctx, item)
		if err == nil {
			r.notify(Attempt{Key: key, Number: attempt, Max: r.cfg.MaxRetries})
			return r.finish(Outcome{Key: key, State: StateSucceeded, Attempts: attempt, Backoff: waited, Elapsed: time.Since(start)})
		}

		final := attempt == r.cfg.MaxRetries || IsPermanent(err)
		var delay time.Duration
		if !final {
			delay = Backoff(r.cfg.BaseDelay, attempt)
		}
		r.notify(Attempt{Key: key, Number: attempt, Max: r.cfg.MaxRetries, Err: err, Delay: delay, Final: final})
		if final {
			return r.finish(Outcome{Key: key, State: StateFailed, Attempts: attempt, Reason: err.Error(), Backoff: waited, Elapsed: time.Since(start)})
		}

		if sleepErr := r.cfg.Sleep(ctx, delay); sleepErr != nil {
			reason := fmt.Sprintf("%s (%s during backoff)", err.Error(), ReasonCancelled)
			return r.finish(Outcome{Key: key, State: StateFailed, Attempts: attempt, Reason: reason, Backoff: waited, Elapsed: time.Since(start)})
		}
		waited += delay
	}
	return fmt.Errorf("%w: retry loop for %q ended without an outcome", ErrInternal, key)
}

// attempt isolates one call to the process func. A panic is reported as an
// ordinary attempt failure.
func (r *run[T]) attempt(ctx context.Context, item T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.process(ctx, item)
}

func (r *run[T]) notify(a Attempt) {
	if r.cfg.Observer == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Observer.OnAttempt(a)
}

func (r *run[T]) finish(o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.report.record(o); err != nil {
		return err
	}
	if r.cfg.Observer != nil {
		r.cfg.Observer.OnOutcome(o)
	}
	return nil
}

func checkKeys[T Item](items []T) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		key := item.Key()
		if key == "" {
			return fmt.Errorf("item %d has an empty key", i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate item key %q", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func appendErr(errs []error, err error) []error {
	if err == nil {
		return errs
	}
	return append(errs, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
