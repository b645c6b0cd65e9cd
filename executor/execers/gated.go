package execers

import (
	"context"
	"sync"

	"github.com/twitter/querysched/scheduler/domain"
)

const enteredBuffer = 1024

// GatedExecutor blocks each execution until Resume or Open is called, or
// its ctx is cancelled. Useful to hold worker slots busy in tests.
func NewGatedExecutor(delegate domain.QueryExecutor) *GatedExecutor {
	if delegate == nil {
		delegate = NewSimExecutor(nil)
	}
	return &GatedExecutor{
		delegate: delegate,
		gate:     make(chan struct{}),
		openCh:   make(chan struct{}),
		entered:  make(chan *domain.QueryRequest, enteredBuffer),
	}
}

type GatedExecutor struct {
	delegate domain.QueryExecutor
	gate     chan struct{}
	entered  chan *domain.QueryRequest

	openOnce sync.Once
	openCh   chan struct{}

	mu      sync.Mutex
	waiting int
}

func (e *GatedExecutor) Execute(ctx context.Context, req *domain.QueryRequest) (interface{}, error) {
	e.mu.Lock()
	e.waiting++
	e.mu.Unlock()
	select {
	case e.entered <- req:
	default:
	}

	var err error
	select {
	case <-e.gate:
	case <-e.openCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.mu.Lock()
	e.waiting--
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.delegate.Execute(ctx, req)
}

// Entered receives each request as it starts waiting at the gate.
func (e *GatedExecutor) Entered() <-chan *domain.QueryRequest { return e.entered }

// Waiting is the number of executions blocked at the gate.
func (e *GatedExecutor) Waiting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiting
}

// Resume lets exactly one blocked execution proceed, waiting for one to arrive.
func (e *GatedExecutor) Resume() {
	select {
	case e.gate <- struct{}{}:
	case <-e.openCh:
	}
}

// Open lets every current and future execution proceed.
func (e *GatedExecutor) Open() {
	e.openOnce.Do(func() { close(e.openCh) })
}
