package runner

import "time"

// Attempt describes one finished call to the process func.
type Attempt struct {
	Key    string
	Number int
	Max    int
	// Err is nil for a successful attempt.
	Err error
	// Delay is the backoff before the next attempt; zero when Final or on success.
	Delay time.Duration
	// Final is true when a failed attempt ends the item.
	Final bool
}

// Observer is notified as a run progresses. The runner never calls an
// Observer concurrently with itself, so implementations may write to a shared
// console without extra locking.
type Observer interface {
	OnAttempt(a Attempt)
	OnOutcome(o Outcome)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Attempt func(Attempt)
	Outcome func(Outcome)
}

func (f ObserverFuncs) OnAttempt(a Attempt) {
	if f.Attempt != nil {
		f.Attempt(a)
	}
}

func (f ObserverFuncs) OnOutcome(o Outcome) {
	if f.Outcome != nil {
		f.Outcome(o)
	}
}
