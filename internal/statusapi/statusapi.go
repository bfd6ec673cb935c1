// Package statusapi is the operational HTTP surface the spec's
// concurrency invariants are worth observing from: a chi router exposing
// a liveness probe, a JSON status snapshot, and Prometheus metrics. This
// is not the client-facing feed-reading API the teacher's server package
// builds (that API is explicitly out of scope, §1 Non-goals); it follows
// the same router setup and Start/Stop shape
// (internal/server/server.go), generalized to status endpoints instead
// of feed/folder pages.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedscheduler/internal/concurrency"
)

// Metrics wires the Prometheus gauges/counters the running scheduler
// updates. Registered against the default registry via promauto, as the
// pack's client_golang-using repos do.
type Metrics struct {
	GlobalInFlight  prometheus.Gauge
	GlobalCapacity  prometheus.Gauge
	DueQueueDepth   prometheus.Gauge
	OutcomeCounters *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics constructs and registers the gauges/counters on its first
// call; later calls return the same instruments, since the default
// registry accepts each metric name only once.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { sharedMetrics = newMetrics() })
	return sharedMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		GlobalInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedscheduler",
			Name:      "global_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests across all hosts.",
		}),
		GlobalCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedscheduler",
			Name:      "global_max_concurrent_requests",
			Help:      "Configured global concurrency ceiling.",
		}),
		DueQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedscheduler",
			Name:      "due_queue_depth",
			Help:      "Number of feeds due at the start of the most recent tick.",
		}),
		OutcomeCounters: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedscheduler",
			Name:      "action_outcomes_total",
			Help:      "Count of completed actions by outcome.",
		}, []string{"outcome"}),
	}
}

// Snapshot is the JSON body returned by GET /status.
type Snapshot struct {
	GlobalInFlight int    `json:"global_in_flight"`
	GlobalCapacity int    `json:"global_capacity"`
	HostCount      int    `json:"host_count"`
	DatabaseType   string `json:"database_type"`
}

// Server is the status/metrics HTTP surface.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	guards     *concurrency.Guards
	dbType     func() string
	log        logrus.FieldLogger
	metrics    *Metrics
	stopGauges chan struct{}
}

// New builds a Server. guards is read live on every /status request and
// polled periodically to drive the Prometheus gauges; dbType reports the
// active repo backend ("SQLite" or "PostgreSQL").
func New(guards *concurrency.Guards, dbType func() string, log logrus.FieldLogger) *Server {
	s := &Server{guards: guards, dbType: dbType, log: log, metrics: NewMetrics()}
	s.setupRoutes()
	return s
}

// Metrics exposes the server's Prometheus instruments so the scheduler
// can increment OutcomeCounters and set DueQueueDepth as it runs ticks.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) sampleGuardGauges() {
	s.metrics.GlobalInFlight.Set(float64(s.guards.GlobalInFlight()))
	s.metrics.GlobalCapacity.Set(float64(s.guards.GlobalCapacity()))
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sampleGuardGauges()
	snap := Snapshot{
		GlobalInFlight: s.guards.GlobalInFlight(),
		GlobalCapacity: s.guards.GlobalCapacity(),
		HostCount:      s.guards.HostCount(),
		DatabaseType:   s.dbType(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.WithError(err).Warn("status encode failed")
	}
}

// Start runs the HTTP server and a background gauge sampler; it blocks
// until Stop shuts it down or the listener fails.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.stopGauges = make(chan struct{})
	go s.runGaugeSampler()

	s.log.WithField("addr", addr).Info("status api starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) runGaugeSampler() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sampleGuardGauges()
		case <-s.stopGauges:
			return
		}
	}
}

// Stop gracefully shuts the server down within a bounded deadline.
func (s *Server) Stop() {
	if s.stopGauges != nil {
		close(s.stopGauges)
	}
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("status api shutdown error")
	}
}
