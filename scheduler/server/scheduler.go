package server

//go:generate mockgen -source=scheduler.go -package=server -destination=scheduler_mock.go

import (
	"github.com/twitter/querysched/scheduler/domain"
	"github.com/twitter/querysched/scheduler/group"
	"github.com/twitter/querysched/scheduler/worker"
)

type Scheduler interface {
	// Name is the strategy name this scheduler was registered under.
	Name() string

	// Submit classifies and admits req, returning the handle its result will
	// be delivered on. Never blocks on execution. The scheduler sets
	// req.ID (if empty), req.Arrival and req.GroupKey.
	Submit(req *domain.QueryRequest) *domain.ResultHandle

	Start() error

	// Stop is idempotent and returns once in-flight requests drained or the
	// shutdown grace period lapsed.
	Stop()

	Status() Status
}

type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Status is a snapshot for the admin endpoint.
type Status struct {
	Name        string
	State       State
	Workers     int
	BusyWorkers int
	Queued      int
	Groups      []group.Stats
	Slots       []worker.SlotStatus
}
