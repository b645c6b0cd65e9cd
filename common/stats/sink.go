package stats

import (
	"sync/atomic"
	"time"

	"github.com/twitter/querysched/scheduler/domain"
)

type statsSink struct {
	stat     StatsReceiver
	groups   StatsReceiver
	inFlight int64
}

// NewStatsSink records scheduler events as counters and latencies on stat,
// both overall and under groups/<key>.
func NewStatsSink(stat StatsReceiver) domain.MetricsSink {
	stat = stat.Precision(time.Millisecond)
	return &statsSink{stat: stat, groups: stat.Scope("groups")}
}

var eventCounters = map[domain.EventKind]string{
	domain.EventAdmitted:   RequestAdmittedCounter,
	domain.EventRejected:   RequestRejectedCounter,
	domain.EventDispatched: RequestDispatchedCounter,
	domain.EventCompleted:  RequestCompletedCounter,
	domain.EventFailed:     RequestFailedCounter,
	domain.EventTimedOut:   RequestTimedOutCounter,
	domain.EventCancelled:  RequestCancelledCounter,
}

func (s *statsSink) Record(kind domain.EventKind, groupKey string, timing domain.Timing, outcome domain.Outcome) {
	name, ok := eventCounters[kind]
	if !ok {
		return
	}
	g := s.groups.Scope(groupKey)
	s.stat.Counter(name).Inc(1)
	g.Counter(name).Inc(1)

	switch kind {
	case domain.EventDispatched:
		s.stat.Latency(RequestQueueLatency_ms).Record(timing.Queued)
		g.Latency(RequestQueueLatency_ms).Record(timing.Queued)
		s.stat.Gauge(RequestInFlightGauge).Update(atomic.AddInt64(&s.inFlight, 1))
	case domain.EventCompleted, domain.EventFailed:
		s.stat.Latency(RequestExecLatency_ms).Record(timing.Execution)
		g.Latency(RequestExecLatency_ms).Record(timing.Execution)
		s.stat.Gauge(RequestInFlightGauge).Update(atomic.AddInt64(&s.inFlight, -1))
	}
}
