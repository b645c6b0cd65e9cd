package execers

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/querysched/scheduler/domain"
)

// CountingExecutor records every execution of its delegate: how often each
// request ID ran and the peak number of concurrent executions.
type CountingExecutor struct {
	delegate domain.QueryExecutor

	mu         sync.Mutex
	counts     map[string]int
	running    int
	maxRunning int
	total      int
}

// NewCountingExecutor wraps delegate; a nil delegate completes at once.
func NewCountingExecutor(delegate domain.QueryExecutor) *CountingExecutor {
	if delegate == nil {
		delegate = NewSimExecutor(nil)
	}
	return &CountingExecutor{delegate: delegate, counts: map[string]int{}}
}

func (e *CountingExecutor) Execute(ctx context.Context, req *domain.QueryRequest) (interface{}, error) {
	e.mu.Lock()
	e.counts[req.ID]++
	if e.counts[req.ID] > 1 {
		log.WithFields(log.Fields{"requestID": req.ID, "count": e.counts[req.ID]}).Error("Request executed more than once")
	}
	e.total++
	e.running++
	if e.running > e.maxRunning {
		e.maxRunning = e.running
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()
	return e.delegate.Execute(ctx, req)
}

// Total is the number of Execute calls.
func (e *CountingExecutor) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

func (e *CountingExecutor) Count(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[id]
}

// MaxConcurrent is the peak number of overlapping Execute calls.
func (e *CountingExecutor) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxRunning
}

// Duplicates returns, sorted, the IDs executed more than once.
func (e *CountingExecutor) Duplicates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	dups := []string{}
	for id, n := range e.counts {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	return dups
}
