// Package queue provides the ready structures schedulers hold admitted
// requests in until a worker slot pops them.
package queue

import (
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/querysched/scheduler/domain"
	"github.com/twitter/querysched/scheduler/group"
)

var (
	// ErrFull is returned by Push when the structure is at its depth bound.
	ErrFull = errors.New("ready queue is full")
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("ready queue is closed")
)

// Item is one admitted request waiting for dispatch.
type Item struct {
	Request *domain.QueryRequest
	Handle  *domain.ResultHandle
	Group   *group.SchedulerGroup

	// Set by the token priority structure when the group had no whole token
	// at selection time.
	WithoutToken bool

	charged bool
	seq     uint64
}

// RefundToken gives back the token spent selecting the item, if one was.
// Used when the item is dropped at dispatch instead of executed.
func (i *Item) RefundToken() {
	if i.charged {
		i.Group.Bucket().Refund()
		i.charged = false
	}
}

// Seq is the arrival sequence number assigned at Push.
func (i *Item) Seq() uint64 { return i.seq }

// Waited returns how long the item has been queued as of now.
func (i *Item) Waited(now time.Time) time.Duration {
	return now.Sub(i.Request.Arrival)
}

// expired reports whether the item waited past maxWait (if > 0) or its own deadline.
func (i *Item) expired(now time.Time, maxWait time.Duration) bool {
	if maxWait > 0 && i.Waited(now) > maxWait {
		return true
	}
	return i.Request.Expired(now)
}

// ReadyQueue is shared between submitting goroutines and worker slots. Every
// method is safe for concurrent use; Pop is the single removal step, so an
// item is handed to at most one caller.
type ReadyQueue interface {
	// Push adds an item, or fails with ErrFull or ErrClosed.
	Push(item *Item) error

	// Pop blocks until an item is selected, and returns false once the
	// queue is closed.
	Pop() (*Item, bool)

	Len() int

	// RemoveExpired removes and returns every item that waited longer than
	// maxWait (ignored if <= 0) or past its own deadline.
	RemoveExpired(now time.Time, maxWait time.Duration) []*Item

	// Close wakes blocked Pop calls and returns every item still queued, in
	// arrival order. Subsequent calls return nil.
	Close() []*Item
}
