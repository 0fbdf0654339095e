// Package httpserver implements the client-facing HTTP boundary: the
// streaming-only chat-completions endpoint, a models listing, a
// health check and the Prometheus scrape endpoint (spec §6.1, §6.3).
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/metrics"
	"github.com/toolmesh/toolmeshd/pkg/reasoning"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
	"github.com/toolmesh/toolmeshd/pkg/upstream"
)

// Server wires the reasoning pipeline, the upstream client and the
// fleet registry/catalog behind a chi router.
type Server struct {
	router *chi.Mux
	cfg    config.Config
}

// New builds the router with all routes and middleware installed.
func New(cfg config.Config, reg *toolserver.Registry, cat *catalog.Catalog, pipeline *reasoning.Pipeline, up *upstream.Client, m *metrics.Metrics) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware(m))

	h := &handler{cfg: cfg, reg: reg, cat: cat, pipeline: pipeline, upstream: up, metrics: m}

	r.Get("/health", h.handleHealth)
	r.Get("/v1/models", h.handleModels)
	r.Post("/v1/chat/completions", h.handleChatCompletions)
	r.Get("/metrics", m.Handler().ServeHTTP)
	r.Get("/", h.handleRoot)

	return &Server{router: r, cfg: cfg}
}

// ServeHTTP satisfies http.Handler so Server can be passed directly
// to http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer builds a stdlib http.Server bound to the configured
// listen address with conservative header timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
