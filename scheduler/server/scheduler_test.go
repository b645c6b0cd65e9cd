package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/luci/go-render/render"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/twitter/querysched/common/stats"
	"github.com/twitter/querysched/executor/execers"
	"github.com/twitter/querysched/scheduler/domain"
	"github.com/twitter/querysched/scheduler/group"
)

type fixture struct {
	s   Scheduler
	reg stats.StatsRegistry
	clk *testingclock.FakeClock
}

// newFixture builds and starts a scheduler with one worker unless cfg says otherwise.
// A nil clk runs on the real clock.
func newFixture(t *testing.T, cfg Config, exec domain.QueryExecutor, clk *testingclock.FakeClock) *fixture {
	t.Helper()
	reg := stats.NewFinagleStatsRegistry()
	deps := Deps{
		Executor: exec,
		Stat:     stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return reg }),
	}
	if clk != nil {
		deps.Clock = clk
	}
	s, err := New(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return &fixture{s: s, reg: reg, clk: clk}
}

func testConfig(typ string) Config {
	cfg := DefaultConfig()
	cfg.Type = typ
	cfg.Workers = 1
	cfg.ExpiryCheckInterval = 0
	return cfg
}

func wait(t *testing.T, h *domain.ResultHandle) *domain.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("request %s was never resolved: %v", h.RequestID(), err)
	}
	return res
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recorder executes instantly and remembers the dispatch order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) Execute(ctx context.Context, req *domain.QueryRequest) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, req.ID)
	return req.ID, nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestFCFSOrderWithSubmitBeforeStart(t *testing.T) {
	rec := &recorder{}
	s, err := New(testConfig(FCFSName), Deps{Executor: rec})
	require.NoError(t, err)
	defer s.Stop()

	var handles []*domain.ResultHandle
	var ids []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("q%d", i)
		ids = append(ids, id)
		handles = append(handles, s.Submit(&domain.QueryRequest{ID: id, Table: "t"}))
	}
	assert.Equal(t, 10, s.Status().Queued)
	assert.Equal(t, StateCreated, s.Status().State)
	for _, h := range handles {
		assert.Equal(t, domain.Pending, h.Outcome())
	}

	require.NoError(t, s.Start())
	for i, h := range handles {
		res := wait(t, h)
		assert.Equal(t, domain.Complete, res.Outcome)
		assert.Equal(t, ids[i], res.Value)
		assert.Equal(t, 0, res.WorkerID)
	}
	assert.Equal(t, ids, rec.got())
}

func TestSubmitAssignsIdentity(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(100, 0))
	f := newFixture(t, testConfig(FCFSName), execers.NewSimExecutor(nil), clk)

	req := &domain.QueryRequest{Tenant: "acme", Table: "events"}
	h := f.s.Submit(req)
	res := wait(t, h)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, req.ID, h.RequestID())
	assert.Equal(t, req.ID, res.RequestID)
	assert.Equal(t, "events", req.GroupKey)
	assert.Equal(t, clk.Now(), req.Arrival)

	res = wait(t, f.s.Submit(nil))
	assert.Equal(t, domain.Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrExecutionFailed))
}

func TestBoundedFCFSRejectsWhenFull(t *testing.T) {
	gate := execers.NewGatedExecutor(nil)
	cfg := testConfig(BoundedFCFSName)
	cfg.MaxQueueDepth = 2
	f := newFixture(t, cfg, gate, nil)

	running := f.s.Submit(&domain.QueryRequest{ID: "a", Table: "t"})
	<-gate.Entered()
	queued := []*domain.ResultHandle{
		f.s.Submit(&domain.QueryRequest{ID: "b", Table: "t"}),
		f.s.Submit(&domain.QueryRequest{ID: "c", Table: "t"}),
	}

	rejected := f.s.Submit(&domain.QueryRequest{ID: "d", Table: "t"})
	select {
	case <-rejected.Done():
	default:
		t.Fatal("Submit over MaxQueueDepth should resolve at once")
	}
	res := rejected.Result()
	assert.Equal(t, domain.Rejected, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrOverloaded), "got %v", res.Err)
	assert.Equal(t, -1, res.WorkerID)

	// The rejection released its admission.
	stat := f.s.Status()
	require.Len(t, stat.Groups, 1)
	assert.Equal(t, 2, stat.Groups[0].Queued)
	assert.Equal(t, 1, stat.Groups[0].InFlight)

	gate.Open()
	assert.Equal(t, domain.Complete, wait(t, running).Outcome)
	for _, h := range queued {
		assert.Equal(t, domain.Complete, wait(t, h).Outcome)
	}
}

func TestBoundedFCFSMaxWaitAtDispatch(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	gate := execers.NewGatedExecutor(nil)
	cfg := testConfig(BoundedFCFSName)
	cfg.MaxQueueDepth = 10
	cfg.MaxWait = 2 * time.Second
	f := newFixture(t, cfg, gate, clk)

	running := f.s.Submit(&domain.QueryRequest{ID: "a", Table: "t"})
	<-gate.Entered()
	late := f.s.Submit(&domain.QueryRequest{ID: "b", Table: "t"})
	clk.Step(3 * time.Second)
	gate.Open()

	res := wait(t, running)
	assert.Equal(t, domain.Complete, res.Outcome)
	assert.Equal(t, 3*time.Second, res.ExecDuration)

	res = wait(t, late)
	assert.Equal(t, domain.TimedOut, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrTimedOut))
	assert.Equal(t, -1, res.WorkerID)
	assert.Equal(t, 3*time.Second, res.QueuedDuration)

	f.s.Stop()
	stats.VerifyStats("maxwait", f.reg, t, map[string]stats.Rule{
		BoundedFCFSName + "/" + stats.SchedExpiredCounter: {Checker: stats.Int64EqTest, Value: 1},
	})
}

func TestBoundedFCFSExpirySweeper(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	gate := execers.NewGatedExecutor(nil)
	cfg := testConfig(BoundedFCFSName)
	cfg.MaxQueueDepth = 10
	cfg.MaxWait = 2 * time.Second
	cfg.ExpiryCheckInterval = time.Second
	f := newFixture(t, cfg, gate, clk)

	f.s.Submit(&domain.QueryRequest{ID: "a", Table: "t"})
	<-gate.Entered()
	late := f.s.Submit(&domain.QueryRequest{ID: "b", Table: "t"})
	eventually(t, "the sweeper ticker", clk.HasWaiters)
	clk.Step(3 * time.Second)

	// The only worker is still busy, so the sweeper must be the one resolving it.
	res := wait(t, late)
	assert.Equal(t, domain.TimedOut, res.Outcome)
	assert.Equal(t, 0, f.s.Status().Queued)
	assert.Equal(t, 1, gate.Waiting())
	gate.Open()
}

func TestRequestTimeout(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	gate := execers.NewGatedExecutor(nil)
	f := newFixture(t, testConfig(FCFSName), gate, clk)

	f.s.Submit(&domain.QueryRequest{ID: "a", Table: "t"})
	<-gate.Entered()
	short := f.s.Submit(&domain.QueryRequest{ID: "b", Table: "t", Timeout: time.Second})
	patient := f.s.Submit(&domain.QueryRequest{ID: "c", Table: "t", Timeout: time.Minute})
	clk.Step(2 * time.Second)
	gate.Open()

	res := wait(t, short)
	assert.Equal(t, domain.TimedOut, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrTimedOut))
	assert.Equal(t, domain.Complete, wait(t, patient).Outcome)
}

func TestTokenPriorityPrefersBalance(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{}
	exec := domain.ExecutorFunc(func(ctx context.Context, req *domain.QueryRequest) (interface{}, error) {
		if req.ID == "blocker" {
			<-release
		}
		return rec.Execute(ctx, req)
	})
	cfg := testConfig(TokenPriorityName)
	cfg.Groups = map[string]group.Limits{
		"high": {Capacity: 5, Rate: 0},
		"low":  {Capacity: 1, Rate: 0},
	}
	f := newFixture(t, cfg, exec, nil)

	blocker := f.s.Submit(&domain.QueryRequest{ID: "blocker", Table: "other"})
	eventually(t, "the blocker to run", func() bool { return f.s.Status().BusyWorkers == 1 })

	var handles []*domain.ResultHandle
	for _, r := range []struct{ id, table string }{
		{"l1", "low"}, {"h1", "high"}, {"l2", "low"}, {"h2", "high"}, {"h3", "high"},
	} {
		handles = append(handles, f.s.Submit(&domain.QueryRequest{ID: r.id, Table: r.table}))
	}
	close(release)
	wait(t, blocker)
	for _, h := range handles {
		assert.Equal(t, domain.Complete, wait(t, h).Outcome)
	}

	expected := []string{"blocker", "h1", "h2", "h3", "l1", "l2"}
	if got := rec.got(); !assert.Equal(t, expected, got) {
		t.Logf("status: %s", render.Render(f.s.Status()))
	}

	// l2 ran on an empty bucket.
	f.s.Stop()
	stats.VerifyStats("tokens", f.reg, t, map[string]stats.Rule{
		TokenPriorityName + "/" + stats.SchedDispatchedWithoutTokenCounter:  {Checker: stats.Int64EqTest, Value: 1},
		TokenPriorityName + "/groups/high/" + stats.SchedGroupTokensGauge:   {Checker: stats.FloatEqTest, Value: 2.0},
		TokenPriorityName + "/groups/low/" + stats.SchedGroupTokensGauge:    {Checker: stats.FloatEqTest, Value: 0.0},
		TokenPriorityName + "/" + stats.SchedQueueDepthHistogram + ".count": {Checker: stats.Int64EqTest, Value: 6},
		TokenPriorityName + "/" + stats.SchedQueueDepthHistogram + ".max":   {Checker: stats.Int64EqTest, Value: 5},
	})
}

// A zero threshold still promotes: a group that never refills is served once
// its head has waited DefaultStarvationThreshold, ahead of richer groups.
func TestTokenPriorityDefaultThresholdServesZeroRateGroup(t *testing.T) {
	rec := &recorder{}
	gate := execers.NewGatedExecutor(rec)
	cfg := testConfig(TokenPriorityName)
	cfg.StarvationThreshold = 0
	cfg.Groups = map[string]group.Limits{
		"rich": {Capacity: 10, Rate: 100},
		"poor": {Capacity: 0, Rate: 0},
	}
	f := newFixture(t, cfg, gate, testingclock.NewFakeClock(time.Unix(0, 0)))

	blocker := f.s.Submit(&domain.QueryRequest{ID: "blocker", Table: "rich"})
	<-gate.Entered()
	poor := f.s.Submit(&domain.QueryRequest{ID: "poor", Table: "poor"})
	f.clk.Step(DefaultStarvationThreshold + time.Second)
	var rich []*domain.ResultHandle
	for i := 0; i < 3; i++ {
		rich = append(rich, f.s.Submit(&domain.QueryRequest{ID: fmt.Sprintf("rich%d", i), Table: "rich"}))
	}
	gate.Open()

	wait(t, blocker)
	assert.Equal(t, domain.Complete, wait(t, poor).Outcome)
	for _, h := range rich {
		assert.Equal(t, domain.Complete, wait(t, h).Outcome)
	}
	assert.Equal(t, []string{"blocker", "poor", "rich0", "rich1", "rich2"}, rec.got())
}

// A request that times out at dispatch gives its token back.
func TestTokenPriorityExpiredRequestKeepsToken(t *testing.T) {
	gate := execers.NewGatedExecutor(nil)
	cfg := testConfig(TokenPriorityName)
	cfg.Groups = map[string]group.Limits{"g": {Capacity: 1, Rate: 0}}
	f := newFixture(t, cfg, gate, testingclock.NewFakeClock(time.Unix(0, 0)))

	blocker := f.s.Submit(&domain.QueryRequest{ID: "blocker", Table: "other"})
	<-gate.Entered()
	late := f.s.Submit(&domain.QueryRequest{ID: "late", Table: "g", Timeout: time.Second})
	f.clk.Step(2 * time.Second)
	next := f.s.Submit(&domain.QueryRequest{ID: "next", Table: "g"})
	gate.Open()

	wait(t, blocker)
	res := wait(t, late)
	assert.Equal(t, domain.TimedOut, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrTimedOut))
	assert.Equal(t, domain.Complete, wait(t, next).Outcome)

	f.s.Stop()
	stats.VerifyStats("refund", f.reg, t, map[string]stats.Rule{
		TokenPriorityName + "/" + stats.SchedDispatchedWithoutTokenCounter: {Checker: stats.DoesNotExistTest},
		TokenPriorityName + "/" + stats.SchedExpiredCounter:                {Checker: stats.Int64EqTest, Value: 1},
		TokenPriorityName + "/groups/g/" + stats.SchedGroupTokensGauge:     {Checker: stats.FloatEqTest, Value: 0.0},
	})
}

func TestExactlyOnceUnderConcurrency(t *testing.T) {
	for _, name := range []string{FCFSName, BoundedFCFSName, TokenPriorityName} {
		t.Run(name, func(t *testing.T) { testExactlyOnce(t, name) })
	}
}

func testExactlyOnce(t *testing.T, name string) {
	const submitters, perSubmitter = 8, 25
	counting := execers.NewCountingExecutor(execers.NewSimExecutor(nil))
	cfg := testConfig(name)
	cfg.Workers = 4
	cfg.MaxQueueDepth = 0
	if name == BoundedFCFSName {
		cfg.MaxQueueDepth = submitters * perSubmitter
	}
	f := newFixture(t, cfg, counting, nil)
	require.Equal(t, name, f.s.Name())

	handles := make(chan *domain.ResultHandle, submitters*perSubmitter)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSubmitter; j++ {
				handles <- f.s.Submit(&domain.QueryRequest{
					Table:   fmt.Sprintf("t%d", (i+j)%5),
					Payload: execers.SimQuery{Duration: time.Millisecond},
				})
			}
		}(i)
	}
	wg.Wait()
	close(handles)
	for h := range handles {
		assert.Equal(t, domain.Complete, wait(t, h).Outcome)
	}
	assert.Equal(t, submitters*perSubmitter, counting.Total())
	assert.Empty(t, counting.Duplicates())
	assert.LessOrEqual(t, counting.MaxConcurrent(), 4)
	for _, g := range f.s.Status().Groups {
		assert.Equal(t, 0, g.Queued, g.Key)
		assert.Equal(t, 0, g.InFlight, g.Key)
	}
}

func TestStopCancelsQueuedAndRejectsNew(t *testing.T) {
	gate := execers.NewGatedExecutor(nil)
	f := newFixture(t, testConfig(FCFSName), gate, nil)

	running := f.s.Submit(&domain.QueryRequest{ID: "a", Table: "t"})
	<-gate.Entered()
	queued := f.s.Submit(&domain.QueryRequest{ID: "b", Table: "t"})

	stopped := make(chan struct{})
	go func() {
		f.s.Stop()
		close(stopped)
	}()

	res := wait(t, queued)
	assert.Equal(t, domain.Cancelled, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrCancelled))

	late := f.s.Submit(&domain.QueryRequest{ID: "c", Table: "t"})
	res = wait(t, late)
	assert.Equal(t, domain.Cancelled, res.Outcome)
	assert.Contains(t, res.Err.Error(), "scheduler is stopped")

	// In-flight work finishes within the grace period.
	gate.Open()
	assert.Equal(t, domain.Complete, wait(t, running).Outcome)
	<-stopped
	f.s.Stop()
	assert.Equal(t, StateStopped, f.s.Status().State)
	assert.Error(t, f.s.Start())
}

func TestShutdownGraceLapses(t *testing.T) {
	for _, grace := range []time.Duration{0, 20 * time.Millisecond} {
		blocked := make(chan struct{}, 1)
		exec := domain.ExecutorFunc(func(ctx context.Context, req *domain.QueryRequest) (interface{}, error) {
			blocked <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		})
		cfg := testConfig(FCFSName)
		cfg.ShutdownGrace = grace
		f := newFixture(t, cfg, exec, nil)

		h := f.s.Submit(&domain.QueryRequest{ID: "a", Table: "t"})
		<-blocked
		f.s.Stop()

		res := wait(t, h)
		assert.Equal(t, domain.Cancelled, res.Outcome, "grace %s", grace)
		assert.True(t, errors.Is(res.Err, domain.ErrCancelled))
		assert.Equal(t, 0, res.WorkerID)
		stats.VerifyStats(grace.String(), f.reg, t, map[string]stats.Rule{
			FCFSName + "/" + stats.SchedGraceLapsedCounter: {Checker: stats.Int64EqTest, Value: 1},
		})
	}

	// Nothing in flight: no grace to lapse.
	cfg := testConfig(FCFSName)
	cfg.ShutdownGrace = 0
	f := newFixture(t, cfg, execers.NewSimExecutor(nil), nil)
	assert.Equal(t, domain.Complete, wait(t, f.s.Submit(&domain.QueryRequest{Table: "t"})).Outcome)
	f.s.Stop()
	stats.VerifyStats("idle", f.reg, t, map[string]stats.Rule{
		FCFSName + "/" + stats.SchedGraceLapsedCounter: {Checker: stats.DoesNotExistTest},
	})
}

func TestExecutorFailures(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	exec := domain.NewMockQueryExecutor(mockCtrl)
	cause := errors.New("segment unavailable")
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, cause)
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req *domain.QueryRequest) (interface{}, error) {
			panic("bad plan")
		})
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return("rows", nil)
	f := newFixture(t, testConfig(FCFSName), exec, nil)

	res := wait(t, f.s.Submit(&domain.QueryRequest{ID: "err", Table: "t"}))
	assert.Equal(t, domain.Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrExecutionFailed))
	assert.Equal(t, cause, errors.Cause(errors.Unwrap(res.Err)))

	res = wait(t, f.s.Submit(&domain.QueryRequest{ID: "panic", Table: "t"}))
	assert.Equal(t, domain.Failed, res.Outcome)
	assert.Contains(t, res.Err.Error(), "bad plan")

	// The slot survived the panic.
	res = wait(t, f.s.Submit(&domain.QueryRequest{ID: "ok", Table: "t"}))
	assert.Equal(t, domain.Complete, res.Outcome)
	assert.Equal(t, "rows", res.Value)

	f.s.Stop()
	stats.VerifyStats("failures", f.reg, t, map[string]stats.Rule{
		FCFSName + "/" + stats.SchedExecutorPanicCounter: {Checker: stats.Int64EqTest, Value: 1},
	})
}

func TestSinkEvents(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	sink := domain.NewMockMetricsSink(mockCtrl)
	gomock.InOrder(
		sink.EXPECT().Record(domain.EventAdmitted, "t1", gomock.Any(), domain.Pending),
		sink.EXPECT().Record(domain.EventDispatched, "t1", gomock.Any(), domain.Pending),
		sink.EXPECT().Record(domain.EventCompleted, "t1", gomock.Any(), domain.Complete),
	)
	s, err := New(testConfig(FCFSName), Deps{Executor: execers.NewSimExecutor(nil), Sink: sink})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	assert.Equal(t, domain.Complete, wait(t, s.Submit(&domain.QueryRequest{Table: "t1"})).Outcome)
	s.Stop()
}

func TestSinkPanicIsRecovered(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	sink := domain.NewMockMetricsSink(mockCtrl)
	sink.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(domain.EventKind, string, domain.Timing, domain.Outcome) { panic("sink down") }).
		AnyTimes()

	reg := stats.NewFinagleStatsRegistry()
	s, err := New(testConfig(FCFSName), Deps{
		Executor: execers.NewSimExecutor(nil),
		Sink:     sink,
		Stat:     stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return reg }),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.Complete, wait(t, s.Submit(&domain.QueryRequest{Table: "t"})).Outcome)
	}
	s.Stop()
	// Admitted, dispatched and completed for each request.
	stats.VerifyStats("sink", reg, t, map[string]stats.Rule{
		FCFSName + "/" + stats.SchedSinkPanicCounter: {Checker: stats.Int64EqTest, Value: 9},
	})
}

func TestIdleGroupEviction(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig(FCFSName)
	cfg.GroupIdleTimeout = time.Minute
	f := newFixture(t, cfg, execers.NewSimExecutor(nil), clk)

	wait(t, f.s.Submit(&domain.QueryRequest{Table: "t1"}))
	require.Len(t, f.s.Status().Groups, 1)

	eventually(t, "the eviction ticker", clk.HasWaiters)
	clk.Step(time.Minute)
	stat := stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return f.reg }).Scope(FCFSName)
	eventually(t, "eviction", func() bool { return stat.Counter(stats.SchedEvictedGroupsCounter).Count() == 1 })
	assert.Empty(t, f.s.Status().Groups)

	// A returning key gets a fresh group.
	wait(t, f.s.Submit(&domain.QueryRequest{Table: "t1"}))
	assert.Len(t, f.s.Status().Groups, 1)
}

func TestStatus(t *testing.T) {
	gate := execers.NewGatedExecutor(nil)
	cfg := testConfig(TokenPriorityName)
	cfg.Workers = 2
	f := newFixture(t, cfg, gate, testingclock.NewFakeClock(time.Unix(0, 0)))

	f.s.Submit(&domain.QueryRequest{ID: "a", Table: "ads"})
	f.s.Submit(&domain.QueryRequest{ID: "b", Table: "web"})
	<-gate.Entered()
	<-gate.Entered()
	f.s.Submit(&domain.QueryRequest{ID: "c", Table: "web"})

	st := f.s.Status()
	assert.Equal(t, TokenPriorityName, st.Name)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 2, st.Workers)
	assert.Equal(t, 2, st.BusyWorkers)
	assert.Equal(t, 1, st.Queued)
	require.Len(t, st.Groups, 2)
	assert.Equal(t, "ads", st.Groups[0].Key)
	assert.Equal(t, 1, st.Groups[0].InFlight)
	assert.Equal(t, "web", st.Groups[1].Key)
	assert.Equal(t, 1, st.Groups[1].Queued)
	assert.Equal(t, 99.0, st.Groups[0].Tokens)

	var running []string
	for _, slot := range st.Slots {
		running = append(running, slot.RequestID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, running)
	gate.Open()
}

func TestLifecycleErrors(t *testing.T) {
	exec := execers.NewSimExecutor(nil)
	s, err := New(testConfig(FCFSName), Deps{Executor: exec})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()
	s.Stop()

	bad := testConfig(FCFSName)
	bad.Workers = 0
	_, err = New(bad, Deps{Executor: exec})
	assert.Error(t, err)

	bad = testConfig(BoundedFCFSName)
	bad.MaxQueueDepth = 0
	_, err = New(bad, Deps{Executor: exec})
	assert.Error(t, err)

	bad = testConfig(TokenPriorityName)
	bad.DefaultGroup.Rate = -1
	_, err = New(bad, Deps{Executor: exec})
	assert.Error(t, err)

	_, err = New(testConfig(FCFSName), Deps{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	exec := execers.NewSimExecutor(nil)
	for typ, expected := range map[string]string{
		"":               FCFSName,
		"nonsense":       FCFSName,
		" BOUNDED_FCFS ": BoundedFCFSName,
		"tokenbucket":    TokenPriorityName,
	} {
		s, err := New(testConfig(typ), Deps{Executor: exec, Clock: clock.RealClock{}})
		require.NoError(t, err, typ)
		assert.Equal(t, expected, s.Name(), typ)
		s.Stop()
	}

	assert.Subset(t, Names(), []string{FCFSName, BoundedFCFSName, TokenPriorityName})
	assert.Panics(t, func() { Register(FCFSName, NewFCFS) })
	assert.Panics(t, func() { Register("", NewFCFS) })
	assert.Panics(t, func() { Register("nil_constructor", nil) })
}
