package output

import (
	"sync"

	"plenario/internal/runner"
)

// StageObserver forwards runner notifications of one stage to the manager.
//
// The runner never calls the observer concurrently, but Err may be read from
// another goroutine once the run is over.
type StageObserver struct {
	stage string
	out   *Manager

	mu  sync.Mutex
	err error
}

var _ runner.Observer = (*StageObserver)(nil)

func NewStageObserver(out *Manager, stage string) *StageObserver {
	return &StageObserver{stage: stage, out: out}
}

func (o *StageObserver) OnAttempt(a runner.Attempt) {
	o.keep(o.out.ItemAttempt(o.stage, a))
}

func (o *StageObserver) OnOutcome(out runner.Outcome) {
	o.keep(o.out.ItemFinished(o.stage, out))
}

// Err returns the first sink error seen while forwarding.
func (o *StageObserver) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *StageObserver) keep(err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.mu.Unlock()
}
