package stats

/*
This file defines all the metrics being collected.   As new metrics are added please follow this pattern.
*/

const (
	/************************* Scheduler metrics **************************/
	/*
		Scheduler stats are scoped by strategy name, ex: "tokenbucket/submitLatency_ms".
	*/

	/*
		time spent in Submit (classification and admission, never execution)
	*/
	SchedSubmitLatency_ms = "submitLatency_ms"

	/*
		number of requests queued, updated on each admission
	*/
	SchedQueuedGauge = "queuedGauge"

	/*
		distribution of the queue depth each admitted request joined
	*/
	SchedQueueDepthHistogram = "queueDepthHistogram"

	/*
		number of worker slots executing a request, updated on each dispatch
	*/
	SchedBusyWorkersGauge = "busyWorkersGauge"

	/*
		number of live groups, updated by the idle group sweeper
	*/
	SchedGroupsGauge = "groupsGauge"

	/*
		number of groups evicted after GroupIdleTimeout
	*/
	SchedEvictedGroupsCounter = "evictedGroupsCounter"

	/*
		the number of requests the token strategy dispatched while their group had no whole token
	*/
	SchedDispatchedWithoutTokenCounter = "dispatchedWithoutTokenCounter"

	/*
		tokenbucket: a group's token balance after each of its dispatches, scoped by group, ex: "tokenbucket/groups/ads/tokensGauge"
	*/
	SchedGroupTokensGauge = "tokensGauge"

	/*
		number of queued requests resolved TimedOut (at dispatch or by the expiry sweeper)
	*/
	SchedExpiredCounter = "expiredCounter"

	/*
		number of executor panics converted to Failed results
	*/
	SchedExecutorPanicCounter = "executorPanicCounter"

	/*
		number of MetricsSink panics recovered by the scheduler
	*/
	SchedSinkPanicCounter = "sinkPanicCounter"

	/*
		number of shutdowns whose grace period lapsed with requests still in flight
	*/
	SchedGraceLapsedCounter = "graceLapsedCounter"

	/************************* Request event metrics **************************/
	/*
		Recorded by the MetricsSink built on a StatsReceiver. Event counters exist both
		at the sink's top level and scoped by group, ex: "groups/ads/completedCounter".
	*/
	RequestAdmittedCounter   = "admittedCounter"
	RequestRejectedCounter   = "rejectedCounter"
	RequestDispatchedCounter = "dispatchedCounter"
	RequestCompletedCounter  = "completedCounter"
	RequestFailedCounter     = "failedCounter"
	RequestTimedOutCounter   = "timedOutCounter"
	RequestCancelledCounter  = "cancelledCounter"

	/*
		time from admission to dispatch, recorded on dispatch
	*/
	RequestQueueLatency_ms = "queueLatency_ms"

	/*
		executor run time, recorded for completed and failed requests
	*/
	RequestExecLatency_ms = "execLatency_ms"

	/*
		number of requests in flight on the sink's view (dispatched minus completed and failed)
	*/
	RequestInFlightGauge = "inFlightGauge"

	/************************* Process metrics **************************/
	/*
		the amount of time the process has been running (ms)
	*/
	UptimeGauge_ms = "uptimeGauge_ms"

	/*
		load generator: requests submitted, retried after Overloaded, and given up on
	*/
	LoadgenSubmittedCounter = "submittedCounter"
	LoadgenRetriedCounter   = "retriedCounter"
	LoadgenGaveUpCounter    = "gaveUpCounter"
)
