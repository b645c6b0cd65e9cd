package queue

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// PriorityOptions tune how the token priority structure ranks groups.
type PriorityOptions struct {
	// Heads waiting at least this long rank ahead of everything else. 0 disables.
	StarvationThreshold time.Duration
	// Groups with this many requests in flight rank below groups under it. 0 disables.
	MaxInFlightPerGroup int
	// Bound on queued items across all groups. 0 means unbounded.
	MaxDepth int
}

// Priority keeps a FIFO per group and, at each Pop, selects among group heads:
// starved heads first (longest wait first), then groups under their in-flight
// limit, then the highest token balance, then the longest wait, then the
// lowest arrival sequence. The selected group spends one token.
type Priority struct {
	opts PriorityOptions
	clk  clock.PassiveClock

	mu     sync.Mutex
	cond   *sync.Cond
	groups map[string]*list.List
	size   int
	seq    uint64
	closed bool
}

func NewPriority(opts PriorityOptions, clk clock.PassiveClock) *Priority {
	if clk == nil {
		clk = clock.RealClock{}
	}
	q := &Priority{opts: opts, clk: clk, groups: map[string]*list.List{}}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Priority) Push(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.opts.MaxDepth > 0 && q.size >= q.opts.MaxDepth {
		return ErrFull
	}
	q.seq++
	item.seq = q.seq
	key := item.Group.Key()
	l, ok := q.groups[key]
	if !ok {
		l = list.New()
		q.groups[key] = l
	}
	l.PushBack(item)
	q.size++
	q.cond.Signal()
	return nil
}

func (q *Priority) Pop() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	now := q.clk.Now()
	var best *candidate
	for key, l := range q.groups {
		c := q.rank(key, l.Front().Value.(*Item), now)
		if best == nil || c.before(best) {
			best = c
		}
	}

	l := q.groups[best.key]
	l.Remove(l.Front())
	if l.Len() == 0 {
		delete(q.groups, best.key)
	}
	q.size--

	item := best.item
	item.charged = item.Group.Bucket().TryConsume()
	item.WithoutToken = !item.charged
	return item, true
}

type candidate struct {
	key     string
	item    *Item
	starved bool
	atLimit bool
	balance float64
	wait    time.Duration
}

func (q *Priority) rank(key string, head *Item, now time.Time) *candidate {
	c := &candidate{key: key, item: head, wait: head.Waited(now)}
	c.starved = q.opts.StarvationThreshold > 0 && c.wait >= q.opts.StarvationThreshold
	c.atLimit = q.opts.MaxInFlightPerGroup > 0 && head.Group.InFlight() >= q.opts.MaxInFlightPerGroup
	c.balance = head.Group.Bucket().Balance()
	return c
}

// before reports whether c should be dispatched ahead of o.
func (c *candidate) before(o *candidate) bool {
	if c.starved != o.starved {
		return c.starved
	}
	if !c.starved {
		if c.atLimit != o.atLimit {
			return !c.atLimit
		}
		if c.balance != o.balance {
			return c.balance > o.balance
		}
	}
	if c.wait != o.wait {
		return c.wait > o.wait
	}
	return c.item.seq < o.item.seq
}

func (q *Priority) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Priority) RemoveExpired(now time.Time, maxWait time.Duration) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed []*Item
	for key, l := range q.groups {
		for e := l.Front(); e != nil; {
			next := e.Next()
			if item := e.Value.(*Item); item.expired(now, maxWait) {
				l.Remove(e)
				removed = append(removed, item)
				q.size--
			}
			e = next
		}
		if l.Len() == 0 {
			delete(q.groups, key)
		}
	}
	sortBySeq(removed)
	return removed
}

func (q *Priority) Close() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	remaining := make([]*Item, 0, q.size)
	for _, l := range q.groups {
		for e := l.Front(); e != nil; e = e.Next() {
			remaining = append(remaining, e.Value.(*Item))
		}
	}
	q.groups = map[string]*list.List{}
	q.size = 0
	sortBySeq(remaining)
	q.cond.Broadcast()
	return remaining
}

func sortBySeq(items []*Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
}
