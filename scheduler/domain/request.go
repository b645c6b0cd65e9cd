// Package domain provides definitions for the queries querysched admits,
// the handles callers wait on, and the collaborators schedulers call out to.
package domain

import (
	"fmt"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"
)

// QueryRequest is one analytical query waiting to be admitted and executed.
// Tenant and Table are the identities classifiers use to pick a group; Payload
// is opaque to the scheduler and handed to the QueryExecutor as-is.
type QueryRequest struct {
	ID      string
	Tenant  string
	Table   string
	Payload interface{}

	// Timeout bounds how long the request may wait before dispatch. Zero value is ignored.
	Timeout time.Duration

	// Filled in by the scheduler at Submit.
	GroupKey string
	Arrival  time.Time
}

func (r *QueryRequest) String() string {
	return fmt.Sprintf("id:%s, tenant:%s, table:%s, group:%s, timeout:%s", r.ID, r.Tenant, r.Table, r.GroupKey, r.Timeout)
}

// Deadline returns the latest time the request may still be dispatched, and
// false if the request has no timeout or has not arrived yet.
func (r *QueryRequest) Deadline() (time.Time, bool) {
	if r.Timeout <= 0 || r.Arrival.IsZero() {
		return time.Time{}, false
	}
	return r.Arrival.Add(r.Timeout), true
}

// Expired reports whether the request's own deadline has passed at now.
func (r *QueryRequest) Expired(now time.Time) bool {
	d, ok := r.Deadline()
	return ok && now.After(d)
}

func (r *QueryRequest) LogFields() log.Fields {
	return log.Fields{
		"requestID": r.ID,
		"group":     r.GroupKey,
		"tenant":    r.Tenant,
		"table":     r.Table,
	}
}

// NewRequestID generates an id for requests submitted without one.
func NewRequestID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// NewV4 only fails if the system entropy source fails.
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return id.String()
}
