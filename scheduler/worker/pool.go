// Package worker runs the dispatch loop: a fixed number of slots, each
// popping the next item from a ready queue and handing it to a handler.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/querysched/scheduler/queue"
)

// Handler processes one popped item on the given slot. It runs synchronously
// on the slot, so a slot never holds more than one item.
type Handler func(slot int, item *queue.Item)

// SlotStatus describes what a slot is doing. RequestID is empty when idle.
type SlotStatus struct {
	ID        int
	RequestID string
}

// Pool hosts its slots' loops on an ants goroutine pool sized to the slot count.
type Pool struct {
	size int
	pool *ants.Pool

	mu      sync.Mutex
	current []string
	started bool

	busy int32
	wg   sync.WaitGroup
	done chan struct{}
}

func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", size)
	}
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
		log.WithField("panic", v).Error("Worker slot loop panicked")
	}))
	if err != nil {
		return nil, err
	}
	return &Pool{size: size, pool: p, current: make([]string, size), done: make(chan struct{})}, nil
}

func (p *Pool) Size() int { return p.size }

// Start launches one loop per slot. Loops return once q is closed.
func (p *Pool) Start(q queue.ReadyQueue, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		slot := i
		p.wg.Add(1)
		if err := p.pool.Submit(func() {
			defer p.wg.Done()
			p.loop(slot, q, h)
		}); err != nil {
			p.wg.Done()
			return fmt.Errorf("starting slot %d: %v", slot, err)
		}
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	log.Infof("Started %d worker slots", p.size)
	return nil
}

func (p *Pool) loop(slot int, q queue.ReadyQueue, h Handler) {
	for {
		item, ok := q.Pop()
		if !ok {
			log.Debugf("Worker slot %d exiting, queue closed", slot)
			return
		}
		p.run(slot, item, h)
	}
}

func (p *Pool) run(slot int, item *queue.Item, h Handler) {
	p.setCurrent(slot, item.Request.ID)
	atomic.AddInt32(&p.busy, 1)
	defer func() {
		atomic.AddInt32(&p.busy, -1)
		p.setCurrent(slot, "")
		if r := recover(); r != nil {
			log.WithFields(item.Request.LogFields()).WithFields(log.Fields{
				"slot":  slot,
				"panic": r,
			}).Errorf("Dispatch handler panicked, slot continues\n%s", debug.Stack())
		}
	}()
	h(slot, item)
}

func (p *Pool) setCurrent(slot int, id string) {
	p.mu.Lock()
	p.current[slot] = id
	p.mu.Unlock()
}

// Busy returns the number of slots currently handling an item.
func (p *Pool) Busy() int { return int(atomic.LoadInt32(&p.busy)) }

func (p *Pool) Slots() []SlotStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := make([]SlotStatus, p.size)
	for i, id := range p.current {
		st[i] = SlotStatus{ID: i, RequestID: id}
	}
	return st
}

// Wait blocks until every slot loop has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the underlying goroutine pool. Loops still running keep
// their goroutines until they return.
func (p *Pool) Release() {
	p.pool.Release()
}
