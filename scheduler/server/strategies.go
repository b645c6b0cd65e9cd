package server

import (
	"fmt"

	"github.com/twitter/querysched/scheduler/queue"
)

const (
	FCFSName          = "fcfs"
	BoundedFCFSName   = "bounded_fcfs"
	TokenPriorityName = "tokenbucket"
)

// NewFCFS dispatches in strict arrival order from an unbounded queue. Only
// Workers, ShutdownGrace, GroupIdleTimeout and the group limits apply.
func NewFCFS(cfg Config, deps Deps) (Scheduler, error) {
	return build(FCFSName, cfg, deps, queue.NewFIFO(0))
}

// NewBoundedFCFS dispatches in arrival order, rejecting Submit once
// MaxQueueDepth requests are queued and timing out requests that waited
// longer than MaxWait.
func NewBoundedFCFS(cfg Config, deps Deps) (Scheduler, error) {
	if cfg.MaxQueueDepth <= 0 {
		return nil, fmt.Errorf("%s needs a positive MaxQueueDepth, got %d", BoundedFCFSName, cfg.MaxQueueDepth)
	}
	s, err := newBaseScheduler(BoundedFCFSName, cfg, deps, queue.NewFIFO(cfg.MaxQueueDepth))
	if err != nil {
		return nil, err
	}
	s.maxWait = cfg.MaxWait
	s.sweepExpired = true
	return s, nil
}

// NewTokenPriority ranks group heads by starvation, in-flight limit, token
// balance and wait, spending a token from the group it dispatches. A zero
// StarvationThreshold means DefaultStarvationThreshold, so promotion is always
// on and no queued request waits indefinitely.
func NewTokenPriority(cfg Config, deps Deps) (Scheduler, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.StarvationThreshold == 0 {
		cfg.StarvationThreshold = DefaultStarvationThreshold
	}
	ready := queue.NewPriority(queue.PriorityOptions{
		StarvationThreshold: cfg.StarvationThreshold,
		MaxInFlightPerGroup: cfg.MaxInFlightPerGroup,
		MaxDepth:            cfg.MaxQueueDepth,
	}, deps.Clock)
	s, err := newBaseScheduler(TokenPriorityName, cfg, deps, ready)
	if err != nil {
		return nil, err
	}
	s.reportTokens = true
	return s, nil
}

func build(name string, cfg Config, deps Deps, ready queue.ReadyQueue) (Scheduler, error) {
	s, err := newBaseScheduler(name, cfg, deps, ready)
	if err != nil {
		return nil, err
	}
	return s, nil
}
