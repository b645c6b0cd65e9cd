package queue

import (
	"container/list"
	"sync"
	"time"
)

// FIFO dispatches items in strict arrival order. A positive maxDepth bounds
// the number of queued items.
type FIFO struct {
	maxDepth int

	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	seq    uint64
	closed bool
}

func NewFIFO(maxDepth int) *FIFO {
	q := &FIFO{maxDepth: maxDepth, items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *FIFO) Push(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.maxDepth > 0 && q.items.Len() >= q.maxDepth {
		return ErrFull
	}
	q.seq++
	item.seq = q.seq
	q.items.PushBack(item)
	q.cond.Signal()
	return nil
}

func (q *FIFO) Pop() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	return q.items.Remove(q.items.Front()).(*Item), true
}

func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *FIFO) RemoveExpired(now time.Time, maxWait time.Duration) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed []*Item
	for e := q.items.Front(); e != nil; {
		next := e.Next()
		if item := e.Value.(*Item); item.expired(now, maxWait) {
			q.items.Remove(e)
			removed = append(removed, item)
		}
		e = next
	}
	return removed
}

func (q *FIFO) Close() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	remaining := make([]*Item, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		remaining = append(remaining, e.Value.(*Item))
	}
	q.items.Init()
	q.cond.Broadcast()
	return remaining
}
