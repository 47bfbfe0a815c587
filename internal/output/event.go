package output

import (
	"time"

	"plenario/internal/runner"
)

const (
	EventRunStarted    = "run.started"
	EventStageStarted  = "stage.started"
	EventItemAttempt   = "item.attempt"
	EventItemResult    = "item.result"
	EventStageFinished = "stage.finished"
	EventRunFinished   = "run.finished"
)

// ItemResult is the terminal state of one work item within a stage.
type ItemResult struct {
	Stage     string       `json:"stage"`
	Key       string       `json:"key"`
	State     runner.State `json:"state"`
	Attempts  int          `json:"attempts"`
	Reason    string       `json:"reason,omitempty"`
	ElapsedMS int64        `json:"elapsed_ms,omitempty"`
}

func NewItemResult(stage string, o runner.Outcome) ItemResult {
	return ItemResult{
		Stage:     stage,
		Key:       o.Key,
		State:     o.State,
		Attempts:  o.Attempts,
		Reason:    o.Reason,
		ElapsedMS: o.Elapsed.Milliseconds(),
	}
}

// StageSummary is the finalized report of one stage.
//
// Stages that do not run items through the runner (index, normalize, ...)
// still produce a summary; their counts describe the records they wrote.
type StageSummary struct {
	Stage     string           `json:"stage"`
	Title     string           `json:"title,omitempty"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Cancelled bool             `json:"cancelled,omitempty"`
	Failures  []runner.Failure `json:"failures,omitempty"`
	ElapsedMS int64            `json:"elapsed_ms"`
	AverageMS int64            `json:"average_ms,omitempty"`

	// Tokens and CostUSD total the model usage of items processed in this run.
	Tokens  int     `json:"tokens,omitempty"`
	CostUSD float64 `json:"cost_usd,omitempty"`

	// Error is set when the stage could not run to completion.
	Error string `json:"error,omitempty"`
}

// NewStageSummary snapshots a finalized runner report.
func NewStageSummary(stage, title string, rep *runner.Report) StageSummary {
	s := StageSummary{Stage: stage, Title: title}
	if rep == nil {
		return s
	}
	s.Total = rep.Total
	s.Succeeded = rep.Succeeded
	s.Failed = rep.Failed
	s.Skipped = rep.Skipped
	s.Cancelled = rep.Cancelled
	s.Failures = append([]runner.Failure(nil), rep.Failures...)
	s.ElapsedMS = rep.Elapsed.Milliseconds()
	s.AverageMS = rep.AveragePerItem().Milliseconds()
	return s
}

func (s StageSummary) Elapsed() time.Duration {
	return time.Duration(s.ElapsedMS) * time.Millisecond
}

// FailureSample returns at most limit failures and how many were left out.
func (s StageSummary) FailureSample(limit int) ([]runner.Failure, int) {
	if len(s.Failures) <= limit {
		return s.Failures, 0
	}
	return s.Failures[:limit], len(s.Failures) - limit
}

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit Events (one JSON object per line):
// - run.started
// - stage.started
// - item.attempt (failed attempts only)
// - item.result
// - stage.finished
// - run.finished
//
// JSON mode remains an aggregate of StageSummary values.
type Event struct {
	Type  string `json:"type"`
	Stage string `json:"stage,omitempty"`
	Key   string `json:"key,omitempty"`

	// Attempt fields (item.attempt).
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Error       string `json:"error,omitempty"`
	DelayMS     int64  `json:"delay_ms,omitempty"`
	Final       bool   `json:"final,omitempty"`

	// Items is the work item count of a stage (stage.started).
	Items int `json:"items,omitempty"`
	// Stages lists the selected stage IDs (run.started).
	Stages []string `json:"stages,omitempty"`

	Result   *ItemResult   `json:"result,omitempty"`
	Summary  *StageSummary `json:"summary,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
}

func eventFromResult(r ItemResult) Event {
	return Event{Type: EventItemResult, Stage: r.Stage, Key: r.Key, Result: &r}
}

func eventFromSummary(s StageSummary) Event {
	return Event{Type: EventStageFinished, Stage: s.Stage, Summary: &s}
}

// toEvent converts any value a sink accepts into its streaming form.
func toEvent(v any) (Event, bool) {
	switch t := v.(type) {
	case Event:
		return t, true
	case ItemResult:
		return eventFromResult(t), true
	case StageSummary:
		return eventFromSummary(t), true
	default:
		return Event{}, false
	}
}
