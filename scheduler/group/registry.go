package group

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/twitter/querysched/scheduler/tokenbucket"
)

// Limits are the token bucket parameters of one group.
type Limits struct {
	Capacity float64
	Rate     float64
}

// LimitsFunc returns the bucket parameters for a group key.
type LimitsFunc func(key string) Limits

// StaticLimits returns the per-key override if present, def otherwise.
func StaticLimits(def Limits, overrides map[string]Limits) LimitsFunc {
	return func(key string) Limits {
		if l, ok := overrides[key]; ok {
			return l
		}
		return def
	}
}

// Registry owns every live group. A key maps to exactly one group at any
// time; groups are created on first sight and optionally evicted when idle.
type Registry struct {
	limits LimitsFunc
	clk    clock.PassiveClock

	mu     sync.RWMutex
	groups map[string]*SchedulerGroup
}

func NewRegistry(limits LimitsFunc, clk clock.PassiveClock) *Registry {
	if limits == nil {
		limits = StaticLimits(Limits{}, nil)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{limits: limits, clk: clk, groups: map[string]*SchedulerGroup{}}
}

// Get returns the group for key, creating it if needed.
func (r *Registry) Get(key string) *SchedulerGroup {
	r.mu.RLock()
	g, ok := r.groups[key]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[key]; ok {
		return g
	}
	l := r.limits(key)
	bucket, err := tokenbucket.New(l.Capacity, l.Rate, r.clk)
	if err != nil {
		log.WithFields(log.Fields{"group": key, "err": err}).Error("Invalid group limits, using an empty bucket")
		bucket, _ = tokenbucket.New(0, 0, r.clk)
	}
	g = newSchedulerGroup(key, bucket, r.clk.Now())
	r.groups[key] = g
	log.WithFields(log.Fields{"group": key, "capacity": l.Capacity, "rate": l.Rate}).Debug("Created group")
	return g
}

// Admit counts one queued request against key's group and returns the group.
func (r *Registry) Admit(key string) *SchedulerGroup {
	for {
		g := r.Get(key)
		if g.admit(r.clk.Now()) {
			return g
		}
		// Lost a race with EvictIdle, the next Get creates a fresh group.
	}
}

// Lookup returns the group for key without creating it.
func (r *Registry) Lookup(key string) (*SchedulerGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[key]
	return g, ok
}

// EvictIdle removes groups with nothing queued or in flight for at least
// idle, and returns the evicted keys. idle <= 0 evicts nothing.
func (r *Registry) EvictIdle(idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for key, g := range r.groups {
		if g.tryEvict(now, idle) {
			delete(r.groups, key)
			evicted = append(evicted, key)
		}
	}
	sort.Strings(evicted)
	return evicted
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Stats returns every group's stats, ordered by key.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	groups := make([]*SchedulerGroup, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(groups))
	for _, g := range groups {
		stats = append(stats, g.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}
