package stages

import (
	"context"
	"fmt"

	"plenario/internal/config"
	"plenario/internal/output"
	"plenario/internal/runner"
)

// Batch describes the per-item work of a stage.
type Batch[T runner.Item] struct {
	Retry   config.Retry
	Items   []T
	Process runner.ProcessFunc[T]

	// IsAlreadyDone defaults to runner.NeverDone.
	IsAlreadyDone func(T) bool
	Precondition  func(T) bool
}

// RunBatch runs b through the runner and reports progress for st.
//
// Item failures only show up in the summary. Items repeating an earlier key
// are dropped before scheduling and counted as skipped; the first one wins.
// The returned error is non-nil when the batch could not be scheduled (wraps
// ErrSetup), when the runner failed internally (wraps runner.ErrInternal) or
// when ctx was cancelled.
func RunBatch[T runner.Item](ctx context.Context, env *Env, st Stage, b Batch[T]) (output.StageSummary, error) {
	id := st.ID()
	env.Started(id, len(b.Items))

	items, dups := uniqueItems(b.Items)
	for _, key := range dups {
		env.Log().Warn("duplicate item dropped", "stage", id, "key", key)
	}

	done := b.IsAlreadyDone
	if done == nil {
		done = runner.NeverDone[T]
	}
	obs := output.NewStageObserver(env.Out, id)
	rep, err := runner.Run(ctx, items, b.Process, runner.Config[T]{
		MaxWorkers:    b.Retry.Workers,
		MaxRetries:    b.Retry.MaxRetries,
		BaseDelay:     b.Retry.BaseDelay,
		IsAlreadyDone: done,
		Precondition:  b.Precondition,
		Observer:      obs,
		Sleep:         env.Sleep,
	})
	if rep == nil {
		return output.StageSummary{Stage: id, Title: st.Title()}, fmt.Errorf("%w: %s: %w", ErrSetup, id, err)
	}
	if oerr := obs.Err(); oerr != nil {
		env.Log().Warn("output sink failed", "stage", id, "error", oerr)
	}

	sum := output.NewStageSummary(id, st.Title(), rep)
	sum.Total += len(dups)
	sum.Skipped += len(dups)
	if err != nil {
		return sum, fmt.Errorf("%s: %w", id, err)
	}
	if rep.Cancelled {
		return sum, fmt.Errorf("%s: %w", id, context.Cause(ctx))
	}
	return sum, nil
}

// uniqueItems keeps the first item of every key and returns the keys of the
// dropped repeats in input order. Empty keys are left for the runner to reject.
func uniqueItems[T runner.Item](items []T) ([]T, []string) {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	var dups []string
	for _, item := range items {
		key := item.Key()
		if _, ok := seen[key]; ok && key != "" {
			dups = append(dups, key)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out, dups
}

// Summary builds the summary of a stage that does not go through the runner.
func Summary(st Stage, total, succeeded, failed, skipped int) output.StageSummary {
	return output.StageSummary{
		Stage:     st.ID(),
		Title:     st.Title(),
		Total:     total,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
	}
}
