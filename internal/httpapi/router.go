// Package httpapi exposes the detection, analysis, intel-estimate, audit,
// and admin surface over HTTP, grounded on the source corpus's httpapi
// service (same wrap-with-middleware chain and lifecycle-managed
// *http.Server), rebuilt around go-chi/chi/v5 routing and this service's
// own Core aggregate instead of the teacher's blockchain-account surface.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/R3E-Network/provenance-service/internal/core"
	"github.com/R3E-Network/provenance-service/internal/logging"
	"github.com/R3E-Network/provenance-service/internal/metrics"
)

// Config configures the HTTP service.
type Config struct {
	Addr            string
	RequireAPIKey   bool
	APIKeys         []string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	AllowCredentials bool
	MaxBodyBytes    int64
}

// Service hosts the HTTP API and fits into the system manager lifecycle.
type Service struct {
	cfg    Config
	server *http.Server
	log    *logging.Logger
}

// NewService builds the full router around core and wraps it with the
// middleware chain (request ID, recovery, auth, audit, metrics).
func NewService(c *core.Core, cfg Config, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("http")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	h := &handlers{core: c, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware(cfg.MaxBodyBytes))
	r.Use(securityHeadersMiddleware)
	r.Use(corsMiddleware(CORSConfig{AllowedOrigins: cfg.AllowedOrigins, AllowCredentials: cfg.AllowCredentials}))
	r.Use(requestIDMiddleware)
	r.Use(actorIDMiddleware)
	r.Use(auditMiddleware(c, log))
	r.Use(metrics.InstrumentHandler)
	r.Use(apiKeyMiddleware(cfg.RequireAPIKey, cfg.APIKeys))

	r.Post("/detect/text", h.detectText)
	r.Post("/detect/image", h.detectMedia("image"))
	r.Post("/detect/audio", h.detectMedia("audio"))
	r.Post("/detect/video", h.detectMedia("video"))
	r.Post("/batch/text", h.batchText)

	r.Get("/analyze/history", h.history)
	r.Get("/analyze/dashboard", h.dashboard)
	r.Get("/analyze/{id}", h.getAnalysis)
	r.Get("/analyze/export", h.export)

	r.Post("/intel/x/collect/estimate", h.intelEstimate)

	r.Get("/audit/tail", h.auditTail)
	r.Get("/audit/query", h.auditQuery)

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/health", h.health)
	r.Get("/healthz", h.health)

	r.Route("/admin", func(ar chi.Router) {
		ar.Post("/ratelimit/{clientID}/reset", h.adminResetRateLimit)
		ar.Post("/analyze/prune", h.adminPruneAnalysis)
		ar.Get("/scheduler/usage", h.adminSchedulerUsage)
		ar.Post("/scheduler/kill-switch", h.adminSchedulerKillSwitch)
	})

	return &Service{cfg: cfg, log: log, server: &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}}
}

// Name implements system.Service.
func (s *Service) Name() string { return "http" }

// Start begins serving in the background.
func (s *Service) Start(context.Context) error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Entry("http").WithError(err).Error("http server error")
		}
	}()
	return nil
}

// Stop gracefully drains in-flight requests, bounded by the configured
// shutdown timeout.
func (s *Service) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
