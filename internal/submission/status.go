package submission

import (
	"errors"
	"sync"
)

// Status is the lifecycle of one submission as seen by its caller
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// ErrAlreadySubmitted is returned when a tracker is started twice
var ErrAlreadySubmitted = errors.New("submission already started")

// Tracker follows one submission through idle, submitting and a terminal
// state. It is one-shot: there is no way back to idle.
type Tracker struct {
	mu     sync.Mutex
	status Status
}

// NewTracker returns an idle tracker
func NewTracker() *Tracker {
	return &Tracker{status: StatusIdle}
}

// Begin moves idle to submitting
func (t *Tracker) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusIdle {
		return ErrAlreadySubmitted
	}
	t.status = StatusSubmitting
	return nil
}

// Finish records the terminal state for r. It is a no-op unless the tracker
// is submitting.
func (t *Tracker) Finish(r Result) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusSubmitting {
		return t.status
	}
	if r.Success {
		t.status = StatusSuccess
	} else {
		t.status = StatusError
	}
	return t.status
}

// Status returns the current state
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
