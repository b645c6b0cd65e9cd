// Package group provides the fairness and accounting unit requests are
// classified into, the classifiers that pick a group for a request, and the
// registry that owns every live group.
package group

import (
	"fmt"
	"sync"
	"time"

	"github.com/twitter/querysched/scheduler/tokenbucket"
)

// DefaultKey is used for requests whose identity is empty.
const DefaultKey = "default"

// SchedulerGroup tracks one group's token bucket and work counters. Counter
// updates are serialized by the group's mutex.
type SchedulerGroup struct {
	key    string
	bucket *tokenbucket.TokenBucket

	mu           sync.Mutex
	queued       int
	inFlight     int
	lastService  time.Time
	lastActivity time.Time
	evicted      bool
}

func newSchedulerGroup(key string, bucket *tokenbucket.TokenBucket, now time.Time) *SchedulerGroup {
	return &SchedulerGroup{key: key, bucket: bucket, lastActivity: now}
}

func (g *SchedulerGroup) Key() string                      { return g.key }
func (g *SchedulerGroup) Bucket() *tokenbucket.TokenBucket { return g.bucket }

// admit counts a newly queued request. Returns false if the group was evicted
// from its registry, in which case the caller must look the key up again.
func (g *SchedulerGroup) admit(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.evicted {
		return false
	}
	g.queued++
	g.lastActivity = now
	return true
}

// Unqueue drops a queued request that will never be dispatched (rejected
// after admission, expired, cancelled).
func (g *SchedulerGroup) Unqueue(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queued > 0 {
		g.queued--
	}
	g.lastActivity = now
}

// Dispatch moves a queued request to in flight.
func (g *SchedulerGroup) Dispatch(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queued > 0 {
		g.queued--
	}
	g.inFlight++
	g.lastService = now
	g.lastActivity = now
}

// Complete records the end of an in-flight request, whatever its outcome.
func (g *SchedulerGroup) Complete(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight > 0 {
		g.inFlight--
	}
	g.lastActivity = now
}

func (g *SchedulerGroup) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *SchedulerGroup) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queued
}

// Stats is a point in time copy of a group's state.
type Stats struct {
	Key         string
	Queued      int
	InFlight    int
	Tokens      float64
	LastService time.Time
}

func (g *SchedulerGroup) Stats() Stats {
	g.mu.Lock()
	s := Stats{Key: g.key, Queued: g.queued, InFlight: g.inFlight, LastService: g.lastService}
	g.mu.Unlock()
	s.Tokens = g.bucket.Balance()
	return s
}

// tryEvict marks the group evicted if it has had nothing queued or in flight
// for at least idle. Must not be called with the group's mutex held.
func (g *SchedulerGroup) tryEvict(now time.Time, idle time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queued > 0 || g.inFlight > 0 || now.Sub(g.lastActivity) < idle {
		return false
	}
	g.evicted = true
	return true
}

func (g *SchedulerGroup) String() string {
	s := g.Stats()
	return fmt.Sprintf("group:%s, queued:%d, inFlight:%d, tokens:%.2f", s.Key, s.Queued, s.InFlight, s.Tokens)
}
