package runner

import (
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateSkipped   State = "SKIPPED"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// FailureSampleLimit is how many failures a human-facing summary lists before
// collapsing the rest into a count.
const FailureSampleLimit = 10

// Outcome is the terminal state of one item.
type Outcome struct {
	Key      string        `json:"key"`
	State    State         `json:"state"`
	Attempts int           `json:"attempts"`
	Reason   string        `json:"reason,omitempty"`
	Backoff  time.Duration `json:"backoff_ns,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns,omitempty"`
}

type Failure struct {
	Key      string `json:"key"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Report aggregates outcomes for one Run. It is safe for concurrent use while
// the run is in progress; after Run returns it is read-only.
type Report struct {
	mu sync.Mutex

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Failures are listed in the order they were recorded.
	Failures  []Failure `json:"failures,omitempty"`
	Outcomes  []Outcome `json:"-"`
	Cancelled bool      `json:"cancelled,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`

	seen map[string]struct{}
}

func newReport(total int) *Report {
	return &Report{
		Total:     total,
		StartedAt: time.Now(),
		seen:      make(map[string]struct{}, total),
	}
}

func (r *Report) record(o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[o.Key]; dup {
		return fmt.Errorf("%w: item %q reached a second terminal state %s", ErrInternal, o.Key, o.State)
	}
	r.seen[o.Key] = struct{}{}

	switch o.State {
	case StateSkipped:
		r.Skipped++
	case StateSucceeded:
		r.Succeeded++
	case StateFailed:
		r.Failed++
		r.Failures = append(r.Failures, Failure{Key: o.Key, Reason: o.Reason, Attempts: o.Attempts})
	default:
		return fmt.Errorf("%w: unknown state %q for item %q", ErrInternal, o.State, o.Key)
	}
	r.Outcomes = append(r.Outcomes, o)
	return nil
}

func (r *Report) finalize(cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Elapsed = time.Since(r.StartedAt)
	r.Cancelled = cancelled
}

// Processed counts items that were handed to the process func or failed
// before it (everything that was not skipped).
func (r *Report) Processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Succeeded + r.Failed
}

// AveragePerItem is the elapsed time divided by the processed item count.
func (r *Report) AveragePerItem() time.Duration {
	n := r.Processed()
	if n == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(n)
}

// FailureSample returns at most limit failures and how many were left out.
func (r *Report) FailureSample(limit int) ([]Failure, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit < 0 {
		limit = 0
	}
	if len(r.Failures) <= limit {
		return append([]Failure(nil), r.Failures...), 0
	}
	return append([]Failure(nil), r.Failures[:limit]...), len(r.Failures) - limit
}

// Outcome returns the terminal outcome recorded for key.
func (r *Report) Outcome(key string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.Outcomes {
		if o.Key == key {
			return o, true
		}
	}
	return Outcome{}, false
}
