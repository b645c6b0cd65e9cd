/*
Package loadgen drives a scheduler with paced, per-group synthetic load and
reports what each group experienced. It backs the simulate command and is
used to compare strategies under the same load.

Each GroupLoad submits Count requests at up to QPS. A request rejected as
Overloaded is resubmitted with exponential backoff up to MaxRetries times,
the way a well behaved caller would, before being counted as given up.
*/
package loadgen

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/querysched/common/stats"
	"github.com/twitter/querysched/executor/execers"
	"github.com/twitter/querysched/scheduler/domain"
	schedgroup "github.com/twitter/querysched/scheduler/group"
	"github.com/twitter/querysched/scheduler/server"
)

const (
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 10 * time.Millisecond
)

// GroupLoad is the load one table (and so, with the default classifier, one
// group) receives. QPS 0 submits as fast as possible.
type GroupLoad struct {
	Table   string
	Tenant  string
	QPS     float64
	Count   int
	Timeout time.Duration
	Query   execers.SimQuery
}

type Args struct {
	Groups         []GroupLoad
	MaxRetries     uint64
	InitialBackoff time.Duration
}

func (a Args) Validate() error {
	if len(a.Groups) == 0 {
		return errors.New("loadgen needs at least one group")
	}
	for i, g := range a.Groups {
		if g.Count <= 0 {
			return errors.Errorf("group %d (%s): Count must be positive, got %d", i, g.Table, g.Count)
		}
		if g.QPS < 0 {
			return errors.Errorf("group %d (%s): QPS must not be negative, got %v", i, g.Table, g.QPS)
		}
	}
	return nil
}

type LoadGenerator struct {
	sched server.Scheduler
	args  Args
	stat  stats.StatsReceiver
}

func NewLoadGenerator(sched server.Scheduler, args Args, stat stats.StatsReceiver) (*LoadGenerator, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if args.InitialBackoff <= 0 {
		args.InitialBackoff = DefaultInitialBackoff
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &LoadGenerator{sched: sched, args: args, stat: stat.Scope("loadgen")}, nil
}

// Run submits every group's load concurrently and waits for all results, or
// for ctx to end.
func (lg *LoadGenerator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	reports := make([]*GroupReport, len(lg.args.Groups))
	var wg sync.WaitGroup
	errCh := make(chan error, len(lg.args.Groups))
	for i, g := range lg.args.Groups {
		reports[i] = newGroupReport(g.Table)
		wg.Add(1)
		go func(g GroupLoad, r *GroupReport) {
			defer wg.Done()
			if err := lg.runGroup(ctx, g, r); err != nil {
				errCh <- err
			}
		}(g, reports[i])
	}
	wg.Wait()
	close(errCh)

	report := &Report{Strategy: lg.sched.Name(), Elapsed: time.Since(start)}
	report.Groups = mergeByGroup(reports)
	if err := <-errCh; err != nil {
		return report, err
	}
	return report, nil
}

func (lg *LoadGenerator) runGroup(ctx context.Context, g GroupLoad, r *GroupReport) error {
	limit := rate.Inf
	if g.QPS > 0 {
		limit = rate.Limit(g.QPS)
	}
	limiter := rate.NewLimiter(limit, 1)
	stat := lg.stat.Scope(r.Group)

	var results sync.WaitGroup
	defer results.Wait()
	for i := 0; i < g.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return errors.Wrapf(err, "group %s stopped after %d submissions", r.Group, i)
		}
		id := fmt.Sprintf("%s-%d", r.Group, i)
		h := lg.submit(ctx, g, id, r, stat)
		results.Add(1)
		go func() {
			defer results.Done()
			res, err := h.Wait(ctx)
			if err != nil {
				log.WithField("requestID", h.RequestID()).Debug("Gave up waiting for result")
				return
			}
			r.add(res)
		}()
	}
	return nil
}

// submit resubmits while the scheduler answers Overloaded. The returned
// handle is the last attempt's.
func (lg *LoadGenerator) submit(ctx context.Context, g GroupLoad, id string, r *GroupReport, stat stats.StatsReceiver) *domain.ResultHandle {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lg.args.InitialBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	var h *domain.ResultHandle
	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			r.incRetried()
			stat.Counter(stats.LoadgenRetriedCounter).Inc(1)
		}
		attempt++
		stat.Counter(stats.LoadgenSubmittedCounter).Inc(1)
		r.incSubmitted()
		h = lg.sched.Submit(&domain.QueryRequest{
			ID:      id,
			Tenant:  g.Tenant,
			Table:   g.Table,
			Timeout: g.Timeout,
			Payload: g.Query,
		})
		if res := h.Result(); res != nil && res.Outcome == domain.Rejected {
			return res.Err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, lg.args.MaxRetries), ctx))
	if err != nil {
		r.incGaveUp()
		stat.Counter(stats.LoadgenGaveUpCounter).Inc(1)
		log.WithFields(log.Fields{"requestID": id, "attempts": attempt}).Debug("Giving up on overloaded scheduler")
	}
	return h
}

type GroupReport struct {
	Group     string
	Submitted int
	Retried   int
	GaveUp    int
	Outcomes  map[string]int

	MeanQueued time.Duration
	MaxQueued  time.Duration
	MeanExec   time.Duration

	mu          sync.Mutex
	totalQueued time.Duration
	totalExec   time.Duration
	executed    int
	finished    int
}

func newGroupReport(group string) *GroupReport {
	if group == "" {
		group = schedgroup.DefaultKey
	}
	return &GroupReport{Group: group, Outcomes: map[string]int{}}
}

func (r *GroupReport) incSubmitted() { r.mu.Lock(); r.Submitted++; r.mu.Unlock() }
func (r *GroupReport) incRetried()   { r.mu.Lock(); r.Retried++; r.mu.Unlock() }
func (r *GroupReport) incGaveUp()    { r.mu.Lock(); r.GaveUp++; r.mu.Unlock() }

func (r *GroupReport) add(res *domain.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outcomes[res.Outcome.String()]++
	r.finished++
	r.totalQueued += res.QueuedDuration
	r.MeanQueued = r.totalQueued / time.Duration(r.finished)
	if res.QueuedDuration > r.MaxQueued {
		r.MaxQueued = res.QueuedDuration
	}
	if res.WorkerID >= 0 {
		r.executed++
		r.totalExec += res.ExecDuration
		r.MeanExec = r.totalExec / time.Duration(r.executed)
	}
}

// Two loads on one table report as one group.
func mergeByGroup(reports []*GroupReport) []*GroupReport {
	byGroup := map[string]*GroupReport{}
	var order []string
	for _, r := range reports {
		m, ok := byGroup[r.Group]
		if !ok {
			byGroup[r.Group] = r
			order = append(order, r.Group)
			continue
		}
		m.Submitted += r.Submitted
		m.Retried += r.Retried
		m.GaveUp += r.GaveUp
		for o, n := range r.Outcomes {
			m.Outcomes[o] += n
		}
		m.finished += r.finished
		m.executed += r.executed
		m.totalQueued += r.totalQueued
		m.totalExec += r.totalExec
		if r.MaxQueued > m.MaxQueued {
			m.MaxQueued = r.MaxQueued
		}
		if m.finished > 0 {
			m.MeanQueued = m.totalQueued / time.Duration(m.finished)
		}
		if m.executed > 0 {
			m.MeanExec = m.totalExec / time.Duration(m.executed)
		}
	}
	sort.Strings(order)
	merged := make([]*GroupReport, 0, len(order))
	for _, g := range order {
		merged = append(merged, byGroup[g])
	}
	return merged
}

type Report struct {
	Strategy string
	Elapsed  time.Duration
	Groups   []*GroupReport
}

// Group returns the report of one group, or nil.
func (r *Report) Group(name string) *GroupReport {
	for _, g := range r.Groups {
		if g.Group == name {
			return g
		}
	}
	return nil
}

var reportOutcomes = []domain.Outcome{domain.Complete, domain.Rejected, domain.TimedOut, domain.Failed, domain.Cancelled}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "strategy %s, elapsed %s\n", r.Strategy, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "%-16s %9s %8s %7s", "group", "submitted", "retried", "gaveup")
	for _, o := range reportOutcomes {
		fmt.Fprintf(&b, " %9s", strings.ToLower(o.String()))
	}
	fmt.Fprintf(&b, " %12s %12s %12s\n", "meanQueued", "maxQueued", "meanExec")
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "%-16s %9d %8d %7d", g.Group, g.Submitted, g.Retried, g.GaveUp)
		for _, o := range reportOutcomes {
			fmt.Fprintf(&b, " %9d", g.Outcomes[o.String()])
		}
		fmt.Fprintf(&b, " %12s %12s %12s\n",
			g.MeanQueued.Round(time.Microsecond), g.MaxQueued.Round(time.Microsecond), g.MeanExec.Round(time.Microsecond))
	}
	return b.String()
}
