package stages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"plenario/internal/config"
	"plenario/internal/output"
	"plenario/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dummyStage struct {
	id string
}

func (s *dummyStage) ID() string          { return s.id }
func (s *dummyStage) Title() string       { return "Dummy " + s.id }
func (s *dummyStage) Description() string { return "Does nothing" }
func (s *dummyStage) Run(context.Context, *Env) (output.StageSummary, error) {
	return Summary(s, 0, 0, 0, 0), nil
}

func resetRegistry(t *testing.T, ids ...string) {
	t.Helper()
	mu.Lock()
	saved := registry
	registry = make(map[string]Stage)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		registry = saved
		mu.Unlock()
	})
	for _, id := range ids {
		Register(&dummyStage{id: id})
	}
}

func TestRegistry_ListInPipelineOrder(t *testing.T) {
	resetRegistry(t, "ocr", "zz-extra", "scrape", "download")

	assert.Equal(t, []string{"scrape", "download", "ocr", "zz-extra"}, IDs(List()))

	s, ok := Lookup("ocr")
	require.True(t, ok)
	assert.Equal(t, "ocr", s.ID())

	assert.Panics(t, func() { Register(&dummyStage{id: "ocr"}) })
}

func TestResolve(t *testing.T) {
	resetRegistry(t, Pipeline...)

	tests := []struct {
		selector string
		want     []string
		wantErr  bool
	}{
		{selector: "", want: Pipeline},
		{selector: "all", want: Pipeline},
		{selector: "ocr", want: []string{"ocr"}},
		{selector: "unify, normalize", want: []string{"normalize", "unify"}},
		{selector: "download..classify", want: []string{"download", "rasterize", "classify"}},
		{selector: "unify..", want: []string{"unify", "materialize", "publish"}},
		{selector: "..manifest", want: []string{"scrape", "manifest"}},
		{selector: "ocr,index..ocr", want: []string{"index", "ocr"}},
		{selector: "OCR", want: []string{"ocr"}},
		{selector: "nope", wantErr: true},
		{selector: "ocr..download", wantErr: true},
		{selector: "download..nope", wantErr: true},
		{selector: " , ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := Resolve(tt.selector)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, IDs(got))
		})
	}
}

type key string

func (k key) Key() string { return string(k) }

type recordingSink struct {
	values []any
}

func (s *recordingSink) Write(v any) error { s.values = append(s.values, v); return nil }
func (s *recordingSink) Close() error      { return nil }

func newEnv(t *testing.T) (*Env, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	out := output.NewManager()
	require.NoError(t, out.Add(sink))
	return &Env{
		Config: config.New(),
		Out:    out,
		Sleep:  func(context.Context, time.Duration) error { return nil },
	}, sink
}

func TestRunBatch(t *testing.T) {
	env, sink := newEnv(t)
	st := &dummyStage{id: "download"}

	sum, err := RunBatch(context.Background(), env, st, Batch[key]{
		Retry: config.Retry{Workers: 2, MaxRetries: 2},
		Items: []key{"a", "b", "c"},
		Process: func(_ context.Context, k key) error {
			if k == "c" {
				return errors.New("boom")
			}
			return nil
		},
		IsAlreadyDone: func(k key) bool { return k == "a" },
	})
	require.NoError(t, err)

	assert.Equal(t, "download", sum.Stage)
	assert.Equal(t, "Dummy download", sum.Title)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, runner.Failure{Key: "c", Reason: "boom", Attempts: 2}, sum.Failures[0])

	require.NotEmpty(t, sink.values)
	assert.Equal(t, output.Event{Type: output.EventStageStarted, Stage: "download", Items: 3}, sink.values[0])

	var results, attempts int
	for _, v := range sink.values {
		switch ev := v.(type) {
		case output.ItemResult:
			results++
		case output.Event:
			if ev.Type == output.EventItemAttempt {
				attempts++
			}
		}
	}
	assert.Equal(t, 3, results)
	assert.Equal(t, 2, attempts)
}

func TestRunBatch_DuplicateKeysAreSkipped(t *testing.T) {
	env, _ := newEnv(t)
	var mu sync.Mutex
	calls := make(map[key]int)
	sum, err := RunBatch(context.Background(), env, &dummyStage{id: "ocr"}, Batch[key]{
		Retry: config.Retry{Workers: 2, MaxRetries: 1},
		Items: []key{"a", "b", "a", "a"},
		Process: func(_ context.Context, k key) error {
			mu.Lock()
			defer mu.Unlock()
			calls[k]++
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, map[key]int{"a": 1, "b": 1}, calls)
}

func TestRunBatch_EmptyKeyIsSetupError(t *testing.T) {
	env, _ := newEnv(t)
	_, err := RunBatch(context.Background(), env, &dummyStage{id: "ocr"}, Batch[key]{
		Retry:   config.Retry{Workers: 1, MaxRetries: 1},
		Items:   []key{"a", ""},
		Process: func(context.Context, key) error { return nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetup)
}

func TestRunBatch_InvalidRetryIsSetupError(t *testing.T) {
	env, _ := newEnv(t)
	_, err := RunBatch(context.Background(), env, &dummyStage{id: "ocr"}, Batch[key]{
		Items:   []key{"a"},
		Process: func(context.Context, key) error { return nil },
	})
	assert.ErrorIs(t, err, ErrSetup)
}

func TestRunBatch_Cancelled(t *testing.T) {
	env, _ := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := RunBatch(ctx, env, &dummyStage{id: "ocr"}, Batch[key]{
		Retry:   config.Retry{Workers: 1, MaxRetries: 1},
		Items:   []key{"a", "b"},
		Process: func(context.Context, key) error { return nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, 2, sum.Failed)
}

func TestEnv_NilOutputIsQuiet(t *testing.T) {
	env := &Env{}
	assert.NotPanics(t, func() {
		env.Started("scrape", 1)
		env.Log().Info("ignored")
	})
}
