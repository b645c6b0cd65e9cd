// Package endpoints serves the admin HTTP surface of a querysched process:
// health, metrics and the scheduler status snapshot.
package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/querysched/common/stats"
	"github.com/twitter/querysched/scheduler/server"
)

const (
	HealthPath    = "/health"
	MetricsPath   = "/admin/metrics.json"
	SchedulerPath = "/admin/scheduler.json"
)

// StatusSource is satisfied by every server.Scheduler.
type StatusSource interface {
	Status() server.Status
}

func NewTwitterServer(addr string, stat stats.StatsReceiver, status StatusSource) *TwitterServer {
	s := &TwitterServer{
		Addr:   addr,
		Stats:  stat,
		Status: status,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/", helpHandler)
	s.mux.HandleFunc(HealthPath, healthHandler)
	s.mux.HandleFunc(MetricsPath, s.statsHandler)
	s.mux.HandleFunc(SchedulerPath, s.schedulerHandler)
	return s
}

type TwitterServer struct {
	Addr   string
	Stats  stats.StatsReceiver
	Status StatusSource

	mux *http.ServeMux
	srv *http.Server
}

func (s *TwitterServer) Handler() http.Handler { return s.mux }

// Serve blocks until the server fails or ctx is done, then shuts it down.
func (s *TwitterServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *TwitterServer) ServeListener(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	log.Infof("Serving http & stats on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Error(w, fmt.Sprintf("Common paths: '%s', '%s', '%s'", HealthPath, MetricsPath, SchedulerPath), http.StatusNotImplemented)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

const contentTypeHdr = "Content-Type"
const contentTypeVal = "application/json; charset=utf-8"

func (s *TwitterServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(contentTypeHdr, contentTypeVal)
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := w.Write(s.Stats.Render(pretty)); err != nil {
		log.Debugf("Writing metrics response: %v", err)
	}
}

func (s *TwitterServer) schedulerHandler(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		http.Error(w, "no scheduler", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set(contentTypeHdr, contentTypeVal)
	enc := json.NewEncoder(w)
	if r.URL.Query().Get("pretty") == "true" {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(s.Status.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type StatScope string

// MakeStatsReceiver returns a finagle formatted receiver scoped to scope.
func MakeStatsReceiver(scope StatScope) stats.StatsReceiver {
	stat := stats.NewFinagleStatsReceiver()
	if scope == "" {
		return stat
	}
	return stat.Scope(string(scope))
}
