package output

import (
	"errors"
	"testing"
	"time"

	"plenario/internal/runner"
)

func TestStageObserver_ForwardsFailedAttemptsAndOutcomes(t *testing.T) {
	rec := &recorder{}
	mgr := NewManager()
	if err := mgr.Add(rec); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	obs := NewStageObserver(mgr, "ocr")
	obs.OnAttempt(runner.Attempt{Key: "h.jpg", Number: 1, Max: 3})
	obs.OnAttempt(runner.Attempt{Key: "h.jpg", Number: 1, Max: 3, Err: errors.New("boom"), Delay: 5 * time.Second})
	obs.OnOutcome(runner.Outcome{Key: "h.jpg", State: runner.StateSucceeded, Attempts: 2, Elapsed: 1500 * time.Millisecond})

	if len(rec.values) != 2 {
		t.Fatalf("expected 2 writes (successful attempts are not forwarded), got %d", len(rec.values))
	}
	ev, ok := rec.values[0].(Event)
	if !ok {
		t.Fatalf("expected Event, got %T", rec.values[0])
	}
	if ev.Type != EventItemAttempt || ev.Stage != "ocr" || ev.Error != "boom" || ev.DelayMS != 5000 {
		t.Fatalf("unexpected attempt event: %#v", ev)
	}
	res, ok := rec.values[1].(ItemResult)
	if !ok {
		t.Fatalf("expected ItemResult, got %T", rec.values[1])
	}
	if res.Stage != "ocr" || res.Attempts != 2 || res.ElapsedMS != 1500 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if err := obs.Err(); err != nil {
		t.Fatalf("unexpected observer error: %v", err)
	}
}

func TestStageObserver_KeepsFirstSinkError(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Add(&recorder{writeErr: errors.New("disk full")}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	obs := NewStageObserver(mgr, "download")
	obs.OnOutcome(runner.Outcome{Key: "a", State: runner.StateSkipped})
	obs.OnOutcome(runner.Outcome{Key: "b", State: runner.StateSkipped})

	if err := obs.Err(); err == nil {
		t.Fatalf("expected sink error, got nil")
	}
}

func TestNewStageSummary_FromReport(t *testing.T) {
	sum := NewStageSummary("download", "Download PDFs", nil)
	if sum.Stage != "download" || sum.Total != 0 {
		t.Fatalf("unexpected summary for nil report: %#v", sum)
	}
}
