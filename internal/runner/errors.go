package runner

import "errors"

// ErrInternal marks a defect in the runner itself. It is never produced by a
// failing item and is fatal to the run.
var ErrInternal = errors.New("runner internal error")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The item fails on this attempt
// regardless of the remaining retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
