/*
package server provides the Schedulers that admit queries and dispatch them to a fixed worker pool.

* Concepts *
Group:
  The fairness and accounting unit a request is classified into, usually the queried table or the tenant.
  Every group owns a token bucket and counts its queued and in-flight requests.

Strategies:
  fcfs          Unbounded arrival order, groups are only used for accounting. Default, and the fallback
                for any unknown strategy name.
  bounded_fcfs  Arrival order with two gates: a queue depth gate at Submit (Rejected, ErrOverloaded) and a
                wait time gate at dispatch (TimedOut, never executed). A sweeper discards expired requests
                while every worker is busy.
  tokenbucket   Per group FIFOs. Each dispatch picks the group head with the best rank:
                  starved heads (waited >= StarvationThreshold, 5s unless set), longest wait first
                  groups under MaxInFlightPerGroup before groups at it
                  highest token balance
                  longest wait
                  lowest arrival sequence
                and spends one of the group's tokens. A group with no whole token is still dispatched
                when it wins, without spending.

Lifecycle:
  Submit before Start queues, and the queue is dispatched once Start launches the workers.
  Stop rejects new submissions as Cancelled, cancels everything still queued, and waits up to
  ShutdownGrace for in-flight requests. When the grace period lapses the executor context is cancelled and
  the remaining in-flight handles are resolved Cancelled.

Every handle is resolved exactly once. A resolution that loses a race (the executor returning after the
grace period, for instance) is dropped.
*/
package server
