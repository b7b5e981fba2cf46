// Package web serves the grid's JSON API: table schemas, cached rows and their
// mutations, CSV reconciliation and bulk submission, and the command log.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/refgrid/internal/audit"
	"github.com/JonMunkholm/refgrid/internal/config"
	"github.com/JonMunkholm/refgrid/internal/dispatch"
	"github.com/JonMunkholm/refgrid/internal/encode"
	"github.com/JonMunkholm/refgrid/internal/schema"
	"github.com/JonMunkholm/refgrid/internal/web/middleware"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *schema.Registry
	Encoder    *encode.Encoder
	Commands   audit.Lister // Defaults to audit.Nop
}

// Server is the HTTP server for the grid API.
type Server struct {
	deps     Deps
	cfg      config.ServerConfig
	rate     config.RateLimitConfig
	router   *chi.Mux
	server   *http.Server
	limiters []*middleware.RateLimiter
}

// NewServer creates a Server with middleware and routes installed.
func NewServer(deps Deps, cfg config.ServerConfig, rate config.RateLimitConfig) *Server {
	if deps.Commands == nil {
		deps.Commands = audit.Nop{}
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 32 << 20
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		rate:   rate,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.rate.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.RequestTimeout))
	}
	s.router.Use(securityHeaders)

	if s.rate.Enabled {
		s.router.Use(s.newLimiter(s.rate.RequestsPerMinute).Handler)
	}
}

func (s *Server) newLimiter(perMinute int) *middleware.RateLimiter {
	rl := middleware.NewRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Schemas
		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{table}", s.handleGetTable)

		// Cached rows and single-row mutations
		r.Get("/rows/{table}", s.handleFetchRows)
		r.Delete("/rows/{table}/cache", s.handleInvalidateRows)
		r.Post("/rows/{table}", s.handleCreateRow)
		r.Put("/rows/{table}/{id}", s.handleUpdateRow)
		r.Delete("/rows/{table}/{id}", s.handleDeleteRow)
		r.Get("/export/{table}", s.handleExportRows)

		// Spreadsheet import
		r.Group(func(r chi.Router) {
			if s.rate.Enabled && s.rate.UploadLimit > 0 {
				r.Use(s.newLimiter(s.rate.UploadLimit).Handler)
			}
			r.Post("/reconcile/{table}", s.handleReconcile)
			r.Post("/bulk/{table}", s.handleBulk)
		})

		// Command preview and log
		r.Post("/encode/{table}", s.handleEncodePreview)
		r.Get("/commands", s.handleListCommands)
	})
}

// Start begins listening for HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its rate limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the given status.
// Encoding errors are only logged since the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
