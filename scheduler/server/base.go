package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/querysched/common/stats"
	"github.com/twitter/querysched/scheduler/domain"
	"github.com/twitter/querysched/scheduler/group"
	"github.com/twitter/querysched/scheduler/queue"
	"github.com/twitter/querysched/scheduler/worker"
)

// baseScheduler holds the admission, dispatch and completion mechanics every
// strategy shares. Strategies differ only in the ready queue they plug in and
// the gates they enable.
//
// Concurrency: Submit runs on caller goroutines, handle runs on worker slots
// and the sweepers run on their own goroutines. The ready queue is the one
// serialization point for queued items, group counters sit behind per-group
// mutexes, and mu only guards lifecycle state and the in-flight index.
type baseScheduler struct {
	name   string
	config Config
	deps   Deps
	stat   stats.StatsReceiver

	groups *group.Registry
	ready  queue.ReadyQueue
	pool   *worker.Pool

	// Dispatch gate, 0 disables.
	maxWait time.Duration
	// Run the expiry sweeper when started.
	sweepExpired bool
	// Report group token balances on dispatch.
	reportTokens bool

	execCtx    context.Context
	cancelExec context.CancelFunc

	mu       sync.Mutex
	state    State
	inFlight map[string]*running

	stopCh   chan struct{}
	sweepers sync.WaitGroup
	stopOnce sync.Once
}

func newBaseScheduler(name string, cfg Config, deps Deps, ready queue.ReadyQueue) (*baseScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s config", name)
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	pool, err := worker.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &baseScheduler{
		name:       name,
		config:     cfg,
		deps:       deps,
		stat:       deps.Stat.Scope(name),
		groups:     group.NewRegistry(group.StaticLimits(cfg.DefaultGroup, cfg.Groups), deps.Clock),
		ready:      ready,
		pool:       pool,
		execCtx:    ctx,
		cancelExec: cancel,
		state:      StateCreated,
		inFlight:   map[string]*running{},
		stopCh:     make(chan struct{}),
	}
	log.WithFields(log.Fields{"strategy": name, "config": cfg}).Info("Created scheduler")
	return s, nil
}

func (s *baseScheduler) Name() string { return s.name }

func (s *baseScheduler) String() string {
	return fmt.Sprintf("%s scheduler, %s", s.name, s.config)
}

func (s *baseScheduler) Submit(req *domain.QueryRequest) *domain.ResultHandle {
	defer s.stat.Latency(stats.SchedSubmitLatency_ms).Time().Stop()
	if req == nil {
		h := domain.NewResultHandle("")
		h.Resolve(&domain.Result{
			Outcome:  domain.Failed,
			Err:      domain.NewExecutionError(errors.New("nil request")),
			WorkerID: -1,
		})
		return h
	}
	if req.ID == "" {
		req.ID = domain.NewRequestID()
	}
	now := s.deps.Clock.Now()
	req.Arrival = now
	req.GroupKey = s.deps.Classifier.Classify(req)
	h := domain.NewResultHandle(req.ID)

	if s.isStopping() {
		s.reject(req, h, domain.Cancelled, errors.Wrap(domain.ErrCancelled, "scheduler is stopped"))
		return h
	}

	g := s.groups.Admit(req.GroupKey)
	item := &queue.Item{Request: req, Handle: h, Group: g}
	if err := s.ready.Push(item); err != nil {
		g.Unqueue(now)
		switch err {
		case queue.ErrFull:
			s.reject(req, h, domain.Rejected,
				errors.Wrapf(domain.ErrOverloaded, "%d requests already queued", s.config.MaxQueueDepth))
		case queue.ErrClosed:
			s.reject(req, h, domain.Cancelled, errors.Wrap(domain.ErrCancelled, "scheduler is stopped"))
		default:
			s.reject(req, h, domain.Failed, domain.NewExecutionError(err))
		}
		return h
	}

	s.record(domain.EventAdmitted, req.GroupKey, domain.Timing{}, domain.Pending)
	depth := int64(s.ready.Len())
	s.stat.Gauge(stats.SchedQueuedGauge).Update(depth)
	s.stat.Histogram(stats.SchedQueueDepthHistogram).Update(depth)
	log.WithFields(req.LogFields()).Debug("Admitted request")
	return h
}

// reject resolves a request that never made it into the ready queue.
func (s *baseScheduler) reject(req *domain.QueryRequest, h *domain.ResultHandle, outcome domain.Outcome, err error) {
	log.WithFields(req.LogFields()).WithFields(log.Fields{
		"outcome": outcome,
		"err":     err,
	}).Info("Request not admitted")
	s.resolve(h, &domain.Result{
		RequestID: req.ID,
		GroupKey:  req.GroupKey,
		Outcome:   outcome,
		Err:       err,
		WorkerID:  -1,
	})
}

// handle is the worker slot callback: gate, execute, resolve.
func (s *baseScheduler) handle(slot int, item *queue.Item) {
	req, g := item.Request, item.Group
	now := s.deps.Clock.Now()
	waited := item.Waited(now)

	if s.maxWait > 0 && waited > s.maxWait {
		s.expire(item, now, errors.Wrapf(domain.ErrTimedOut, "waited %s, max wait is %s", waited, s.maxWait))
		return
	}
	if req.Expired(now) {
		s.expire(item, now, errors.Wrapf(domain.ErrTimedOut, "waited %s, request timeout is %s", waited, req.Timeout))
		return
	}

	g.Dispatch(now)
	start := s.deps.Clock.Now()
	s.trackInFlight(&running{item: item, slot: slot, start: start})
	if item.WithoutToken {
		s.stat.Counter(stats.SchedDispatchedWithoutTokenCounter).Inc(1)
	}
	if s.reportTokens {
		s.stat.Scope("groups", req.GroupKey).GaugeFloat(stats.SchedGroupTokensGauge).Update(g.Bucket().Balance())
	}
	s.record(domain.EventDispatched, req.GroupKey, domain.Timing{Queued: waited}, domain.Pending)
	s.stat.Gauge(stats.SchedBusyWorkersGauge).Update(int64(s.pool.Busy()))
	log.WithFields(req.LogFields()).WithFields(log.Fields{
		"slot":   slot,
		"waited": waited,
	}).Debug("Dispatching request")

	value, err := s.execute(req)
	execDuration := s.deps.Clock.Since(start)

	g.Complete(s.deps.Clock.Now())
	s.untrackInFlight(req.ID)

	res := &domain.Result{
		RequestID:      req.ID,
		GroupKey:       req.GroupKey,
		Outcome:        domain.Complete,
		Value:          value,
		QueuedDuration: waited,
		ExecDuration:   execDuration,
		WorkerID:       slot,
	}
	if err != nil {
		var execErr *domain.ExecutionError
		if !errors.As(err, &execErr) {
			execErr = domain.NewExecutionError(err)
		}
		res.Outcome, res.Value, res.Err = domain.Failed, nil, execErr
		log.WithFields(req.LogFields()).WithField("err", err).Info("Request failed")
	}
	if !s.resolve(item.Handle, res) {
		log.WithFields(req.LogFields()).WithField("outcome", res.Outcome).
			Debug("Request finished after its handle was resolved, dropping result")
	}
}

// execute runs the executor, converting a panic into an error.
func (s *baseScheduler) execute(req *domain.QueryRequest) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(req.LogFields()).WithField("panic", r).Error("Executor panicked")
			s.stat.Counter(stats.SchedExecutorPanicCounter).Inc(1)
			value, err = nil, fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.deps.Executor.Execute(s.execCtx, req)
}

// expire resolves a queued request TimedOut without executing it.
func (s *baseScheduler) expire(item *queue.Item, now time.Time, err error) {
	item.RefundToken()
	item.Group.Unqueue(now)
	s.stat.Counter(stats.SchedExpiredCounter).Inc(1)
	log.WithFields(item.Request.LogFields()).WithField("err", err).Info("Request timed out before dispatch")
	s.resolve(item.Handle, &domain.Result{
		RequestID:      item.Request.ID,
		GroupKey:       item.Request.GroupKey,
		Outcome:        domain.TimedOut,
		Err:            err,
		QueuedDuration: item.Waited(now),
		WorkerID:       -1,
	})
}

// resolve delivers res on h and reports the terminal event, but only if this
// call was the one to resolve h.
func (s *baseScheduler) resolve(h *domain.ResultHandle, res *domain.Result) bool {
	if !h.Resolve(res) {
		return false
	}
	s.record(domain.EventForOutcome(res.Outcome), res.GroupKey,
		domain.Timing{Queued: res.QueuedDuration, Execution: res.ExecDuration}, res.Outcome)
	return true
}

// record forwards to the sink, which must never take a worker slot down.
func (s *baseScheduler) record(kind domain.EventKind, key string, timing domain.Timing, outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.stat.Counter(stats.SchedSinkPanicCounter).Inc(1)
			log.WithFields(log.Fields{
				"event": kind,
				"group": key,
				"panic": r,
			}).Error("MetricsSink panicked")
		}
	}()
	s.deps.Sink.Record(kind, key, timing, outcome)
}

type running struct {
	item  *queue.Item
	slot  int
	start time.Time
}

func (s *baseScheduler) trackInFlight(r *running) {
	s.mu.Lock()
	s.inFlight[r.item.Request.ID] = r
	s.mu.Unlock()
}

func (s *baseScheduler) untrackInFlight(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *baseScheduler) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStopping || s.state == StateStopped
}

func (s *baseScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return fmt.Errorf("%s scheduler cannot start, state is %s", s.name, s.state)
	}
	if err := s.pool.Start(s.ready, s.handle); err != nil {
		return err
	}
	s.state = StateRunning

	if s.sweepExpired && s.config.ExpiryCheckInterval > 0 {
		s.startSweeper(s.config.ExpiryCheckInterval, s.sweepExpiredItems)
	}
	if s.config.GroupIdleTimeout > 0 {
		s.startSweeper(s.config.GroupIdleTimeout, s.evictIdleGroups)
	}
	log.Infof("Started %s", s)
	return nil
}

func (s *baseScheduler) startSweeper(interval time.Duration, sweep func()) {
	ticker := s.deps.Clock.NewTicker(interval)
	s.sweepers.Add(1)
	go func() {
		defer s.sweepers.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C():
				sweep()
			}
		}
	}()
}

// Discards queued requests past MaxWait or their deadline, so callers hear
// about it even while every slot is busy.
func (s *baseScheduler) sweepExpiredItems() {
	now := s.deps.Clock.Now()
	for _, item := range s.ready.RemoveExpired(now, s.maxWait) {
		s.expire(item, now, errors.Wrapf(domain.ErrTimedOut, "expired in queue after %s", item.Waited(now)))
	}
}

func (s *baseScheduler) evictIdleGroups() {
	evicted := s.groups.EvictIdle(s.config.GroupIdleTimeout)
	if len(evicted) > 0 {
		s.stat.Counter(stats.SchedEvictedGroupsCounter).Inc(int64(len(evicted)))
		log.WithField("groups", evicted).Info("Evicted idle groups")
	}
	s.stat.Gauge(stats.SchedGroupsGauge).Update(int64(s.groups.Len()))
}

func (s *baseScheduler) Stop() {
	s.stopOnce.Do(s.stop)
}

func (s *baseScheduler) stop() {
	s.mu.Lock()
	wasRunning := s.state == StateRunning
	s.state = StateStopping
	s.mu.Unlock()
	log.Infof("Stopping %s scheduler", s.name)

	close(s.stopCh)
	now := s.deps.Clock.Now()
	remaining := s.ready.Close()
	for _, item := range remaining {
		item.Group.Unqueue(now)
		s.resolve(item.Handle, &domain.Result{
			RequestID:      item.Request.ID,
			GroupKey:       item.Request.GroupKey,
			Outcome:        domain.Cancelled,
			Err:            errors.Wrap(domain.ErrCancelled, "scheduler stopped before dispatch"),
			QueuedDuration: item.Waited(now),
			WorkerID:       -1,
		})
	}
	if len(remaining) > 0 {
		log.Infof("Cancelled %d queued requests", len(remaining))
	}

	if wasRunning {
		s.drain()
	}
	s.sweepers.Wait()
	s.cancelExec()
	s.pool.Release()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	log.Infof("Stopped %s scheduler", s.name)
}

// drain waits for the slots to finish in-flight work, up to ShutdownGrace.
// A zero grace period cancels in-flight work at once.
func (s *baseScheduler) drain() {
	if s.config.ShutdownGrace > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.deps.Clock.After(s.config.ShutdownGrace):
				cancel()
			case <-ctx.Done():
			}
		}()
		if s.pool.Wait(ctx) == nil {
			return
		}
	}

	// Resolve before cancelling so a ctx-aware executor cannot win with Failed.
	s.mu.Lock()
	lapsed := make([]*running, 0, len(s.inFlight))
	for _, r := range s.inFlight {
		lapsed = append(lapsed, r)
	}
	s.mu.Unlock()
	if len(lapsed) == 0 {
		s.cancelExec()
		return
	}
	s.stat.Counter(stats.SchedGraceLapsedCounter).Inc(1)
	now := s.deps.Clock.Now()
	for _, r := range lapsed {
		req := r.item.Request
		s.resolve(r.item.Handle, &domain.Result{
			RequestID:      req.ID,
			GroupKey:       req.GroupKey,
			Outcome:        domain.Cancelled,
			Err:            errors.Wrapf(domain.ErrCancelled, "still running after shutdown grace of %s", s.config.ShutdownGrace),
			QueuedDuration: r.start.Sub(req.Arrival),
			ExecDuration:   now.Sub(r.start),
			WorkerID:       r.slot,
		})
	}
	s.cancelExec()
	log.Infof("Shutdown grace of %s lapsed, cancelled %d in-flight requests", s.config.ShutdownGrace, len(lapsed))
}

func (s *baseScheduler) Status() Status {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return Status{
		Name:        s.name,
		State:       state,
		Workers:     s.pool.Size(),
		BusyWorkers: s.pool.Busy(),
		Queued:      s.ready.Len(),
		Groups:      s.groups.Stats(),
		Slots:       s.pool.Slots(),
	}
}
