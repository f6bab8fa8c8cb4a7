package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/api/handler"
	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/core"
)

// Pinger reports database reachability for /readyz. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is what the server needs from the database.
type Store interface {
	core.DB
	Pinger
}

type Server struct {
	router      chi.Router
	logger      zerolog.Logger
	services    *core.Services
	store       Store
	clock       core.Clock
	auditLogger *mw.AuditLogger
}

func NewServer(logger zerolog.Logger, store Store, clock core.Clock) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger,
		services:    core.NewServices(store, clock),
		store:       store,
		clock:       clock,
		auditLogger: mw.NewAuditLogger(store, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/agent/v1", func(r chi.Router) {
		r.Use(mw.NodeAuth(s.services.Node))

		agent := handler.NewAgent(s.services.Node, s.services.Job)
		r.Post("/heartbeat", agent.Heartbeat)
		r.Get("/jobs", agent.PollJobs)
		r.Post("/jobs/{id}/result", agent.ReportResult)
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.services.APIKey))
		r.Use(s.auditLogger.Middleware)

		dashboard := handler.NewDashboard(s.services.Dashboard)
		r.Get("/dashboard/overview", dashboard.Overview)

		audit := handler.NewAudit(s.store)
		r.Get("/audit-logs", audit.List)

		// Nodes
		node := handler.NewNode(s.services.Node, s.services.Admission, s.services.Job, s.clock)
		r.Get("/nodes", node.List)
		r.Post("/nodes", node.Register)
		r.Get("/nodes/{id}", node.Get)
		r.Delete("/nodes/{id}", node.Delete)
		r.Put("/nodes/{id}/disk", node.UpdateDiskSettings)
		r.Post("/nodes/{id}/disk/override", node.SetProtectionOverride)
		r.Post("/nodes/{id}/disk/scan", node.DiskScan)
		r.Post("/nodes/{id}/self-update", node.SelfUpdate)

		// Port pools and blocks
		port := handler.NewPort(s.services.Port)
		r.Get("/nodes/{nodeID}/port-pools", port.ListPoolsByNode)
		r.Post("/nodes/{nodeID}/port-pools", port.CreatePool)
		r.Get("/port-pools/{id}", port.GetPool)
		r.Get("/port-pools/{id}/blocks", port.ListBlocks)
		r.Post("/port-pools/{id}/blocks", port.AllocateBlock)
		r.Post("/port-pools/{id}/reservations", port.ReservePorts)
		r.Get("/port-blocks/{id}", port.GetBlock)
		r.Post("/port-blocks/{id}/release", port.ReleaseBlock)

		// Workloads
		workload := handler.NewWorkload(s.services.Provision)
		r.Get("/nodes/{nodeID}/workloads", workload.ListByNode)
		r.Post("/workloads", workload.Provision)
		r.Get("/workloads/{id}", workload.Get)
		r.Delete("/workloads/{id}", workload.Deprovision)

		// Jobs
		job := handler.NewJob(s.services.Job)
		r.Get("/jobs", job.List)
		r.Post("/jobs", job.Enqueue)
		r.Get("/jobs/latest", job.Latest)
		r.Get("/jobs/{id}", job.Get)

		// Alerts
		alert := handler.NewAlert(s.services.Alert)
		r.Get("/alerts", alert.List)

		// API keys
		apiKey := handler.NewAPIKey(s.services.APIKey)
		r.Get("/api-keys", apiKey.List)
		r.Post("/api-keys", apiKey.Create)
		r.Delete("/api-keys/{id}", apiKey.Revoke)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		checks["core_db"] = err.Error()
		healthy = false
	} else {
		checks["core_db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// Close flushes pending audit entries.
func (s *Server) Close() {
	s.auditLogger.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
