package domain

//go:generate mockgen -source=interfaces.go -package=domain -destination=interfaces_mock.go

import (
	"context"
	"time"
)

// QueryExecutor evaluates one dispatched request. It is called synchronously
// from a worker slot, exactly once per dispatched request. ctx is cancelled
// only when a scheduler shutdown outlives its grace period.
type QueryExecutor interface {
	Execute(ctx context.Context, req *QueryRequest) (interface{}, error)
}

// ExecutorFunc adapts a plain function to QueryExecutor.
type ExecutorFunc func(ctx context.Context, req *QueryRequest) (interface{}, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *QueryRequest) (interface{}, error) {
	return f(ctx, req)
}

type EventKind int

const (
	EventAdmitted EventKind = iota
	EventRejected
	EventDispatched
	EventCompleted
	EventFailed
	EventTimedOut
	EventCancelled
)

var eventNames = [...]string{"admitted", "rejected", "dispatched", "completed", "failed", "timedOut", "cancelled"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// EventForOutcome returns the terminal event reported for a resolved outcome.
func EventForOutcome(o Outcome) EventKind {
	switch o {
	case Complete:
		return EventCompleted
	case Rejected:
		return EventRejected
	case TimedOut:
		return EventTimedOut
	case Cancelled:
		return EventCancelled
	default:
		return EventFailed
	}
}

type Timing struct {
	Queued    time.Duration
	Execution time.Duration
}

// MetricsSink receives one call per admission, rejection, dispatch and
// terminal event. Implementations must be cheap and must not block.
type MetricsSink interface {
	Record(kind EventKind, groupKey string, timing Timing, outcome Outcome)
}

type nopMetricsSink struct{}

func (nopMetricsSink) Record(EventKind, string, Timing, Outcome) {}

func NopMetricsSink() MetricsSink { return nopMetricsSink{} }
