package output

import (
	"errors"
	"fmt"
	"sync"

	"plenario/internal/runner"
)

// Sink is a destination for run output. Write receives Event, ItemResult and
// StageSummary values; a sink ignores the kinds it does not render.
type Sink interface {
	Write(v any) error
	Close() error
}

// ErrClosed is returned when output is published after Close.
var ErrClosed = errors.New("output manager closed")

// Manager fans the lifecycle of a run out to its sinks:
//
//	RunStarted
//	  StageStarted, ItemAttempt*, ItemFinished*, StageFinished (per stage)
//	RunFinished
//
// Publishing is serialized, so every sink sees values in the order they were
// published. A sink error never stops delivery to the other sinks; all of them
// are joined in the returned error. A nil *Manager discards everything.
type Manager struct {
	mu     sync.Mutex
	sinks  []Sink
	closed bool
}

func NewManager() *Manager {
	return &Manager{}
}

// Add attaches a sink. It must be called before the first value is published.
func (m *Manager) Add(s Sink) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if s == nil {
		return fmt.Errorf("sink must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sinks = append(m.sinks, s)
	return nil
}

// Len reports how many sinks are attached.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

func (m *Manager) RunStarted(stageIDs []string) error {
	return m.publish(EventRunStarted, Event{Type: EventRunStarted, Stages: stageIDs})
}

func (m *Manager) StageStarted(stage string, items int) error {
	return m.publish(EventStageStarted, Event{Type: EventStageStarted, Stage: stage, Items: items})
}

// ItemAttempt publishes a failed attempt. Successful attempts carry nothing
// the final ItemResult does not, so they are dropped.
func (m *Manager) ItemAttempt(stage string, a runner.Attempt) error {
	if a.Err == nil {
		return nil
	}
	return m.publish(EventItemAttempt, Event{
		Type:        EventItemAttempt,
		Stage:       stage,
		Key:         a.Key,
		Attempt:     a.Number,
		MaxAttempts: a.Max,
		Error:       a.Err.Error(),
		DelayMS:     a.Delay.Milliseconds(),
		Final:       a.Final,
	})
}

func (m *Manager) ItemFinished(stage string, o runner.Outcome) error {
	return m.publish(EventItemResult, NewItemResult(stage, o))
}

func (m *Manager) StageFinished(sum StageSummary) error {
	return m.publish(EventStageFinished, sum)
}

func (m *Manager) RunFinished(exitCode int) error {
	return m.publish(EventRunFinished, Event{Type: EventRunFinished, ExitCode: exitCode})
}

func (m *Manager) publish(kind string, v any) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", kind, ErrClosed)
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(v); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %w", kind, errors.Join(errs...))
	}
	return nil
}

// Close closes the sinks in reverse order of attachment. Summary-only sinks
// (json, report) write their output here. Closing twice is a no-op.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if err := m.sinks[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", m.sinks[i], err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close output: %w", errors.Join(errs...))
	}
	return nil
}
