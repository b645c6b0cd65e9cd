package domain

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Outcome int

const (
	// An unambiguous 0-value.
	Unknown Outcome = iota
	// Admitted and waiting for a worker, or executing.
	Pending

	// States below are end states, a resolved handle never changes outcome.

	// The executor returned a value.
	Complete
	// Refused at admission, see ErrOverloaded.
	Rejected
	// Waited past its limit and never reached the executor.
	TimedOut
	// The executor returned an error or panicked.
	Failed
	// The scheduler was stopped while the request was pending.
	Cancelled
)

func (o Outcome) IsDone() bool {
	return o == Complete || o == Rejected || o == TimedOut || o == Failed || o == Cancelled
}

func (o Outcome) String() string {
	switch o {
	case Unknown:
		return "UNKNOWN"
	case Pending:
		return "PENDING"
	case Complete:
		return "COMPLETE"
	case Rejected:
		return "REJECTED"
	case TimedOut:
		return "TIMEDOUT"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		panic(fmt.Sprintf("Unexpected Outcome %v", int(o)))
	}
}

// Result is the terminal state of a submitted request.
type Result struct {
	RequestID string
	GroupKey  string
	Outcome   Outcome

	// Only valid if Outcome == Complete
	Value interface{}
	// nil only if Outcome == Complete
	Err error

	QueuedDuration time.Duration
	ExecDuration   time.Duration
	// Slot that executed the request, -1 if it was never dispatched.
	WorkerID int
}

func (r *Result) String() string {
	return fmt.Sprintf("request:%s, group:%s, outcome:%s, err:%v, queued:%s, exec:%s, worker:%d",
		r.RequestID, r.GroupKey, r.Outcome, r.Err, r.QueuedDuration, r.ExecDuration, r.WorkerID)
}

// ResultHandle is the single-assignment slot a caller waits on. The first
// Resolve wins; later calls are ignored, so a completion racing a shutdown
// cancel can never overwrite an outcome the caller may already have observed.
type ResultHandle struct {
	requestID string
	once      sync.Once
	done      chan struct{}
	result    *Result
}

func NewResultHandle(requestID string) *ResultHandle {
	return &ResultHandle{requestID: requestID, done: make(chan struct{})}
}

func (h *ResultHandle) RequestID() string { return h.requestID }

// Done is closed once the handle is resolved.
func (h *ResultHandle) Done() <-chan struct{} { return h.done }

// Resolve sets the result and wakes waiters. Called by schedulers; returns
// false if the handle was already resolved.
func (h *ResultHandle) Resolve(r *Result) bool {
	resolved := false
	h.once.Do(func() {
		h.result = r
		close(h.done)
		resolved = true
	})
	return resolved
}

// Result returns the result, or nil while the request is pending.
func (h *ResultHandle) Result() *Result {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

// Outcome returns Pending until the handle is resolved.
func (h *ResultHandle) Outcome() Outcome {
	if r := h.Result(); r != nil {
		return r.Outcome
	}
	return Pending
}

// Wait blocks until the handle is resolved or ctx is done.
func (h *ResultHandle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
