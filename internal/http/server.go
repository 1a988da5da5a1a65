// Package http exposes the transaction services as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	applog "tally/internal/log"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
	"tally/internal/services"
	"tally/internal/session"
)

// SessionHeader carries the session token on session-scoped requests.
const SessionHeader = "X-Session-Token"

// ReadyCheck reports whether a dependency can serve requests.
type ReadyCheck func(ctx context.Context) error

// Options wires the server to its services. Export and Feed may be nil; the
// matching routes then answer 503.
type Options struct {
	Txs       *services.TxService
	Feed      *services.FeedService
	Export    *services.ExportService
	Sessions  *session.Store
	Logger    *applog.Logger
	RateLimit ratelimit.Config
	Checks    map[string]ReadyCheck
}

// Server wraps http.Server with the API's services and middleware state.
type Server struct {
	http.Server

	txs      *services.TxService
	feed     *services.FeedService
	export   *services.ExportService
	sessions *session.Store
	checks   map[string]ReadyCheck

	logger   *applog.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	startedAt    time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(1000, 30*time.Minute)
	}

	s := &Server{
		txs:       opts.Txs,
		feed:      opts.Feed,
		export:    opts.Export,
		sessions:  sessions,
		checks:    opts.Checks,
		logger:    logger.WithComponent(applog.ComponentHTTP),
		limiter:   ratelimit.NewLimiter(opts.RateLimit),
		detector:  security.NewDetector(),
		startedAt: time.Now(),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.tracer.Middleware)
	r.Use(s.detector.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.handleRateLimited))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("route not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Post("/", s.handleStartSession)
			r.Delete("/", s.handleEndSession)
			r.Put("/screen", s.handleSetScreen)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/transactions", s.handleListTransactions)
			r.Get("/transactions/organized", s.handleOrganized)
			r.Get("/transactions/scope", s.handleScope)
			r.Get("/categories/tree", s.handleCategoryTree)
			r.Post("/import/chase", s.handleImportChase)
			r.Post("/export", s.handleExport)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.handleCreateTransaction)
			r.Route("/{txID}", func(r chi.Router) {
				r.Get("/", s.handleGetTransaction)
				r.Delete("/", s.handleDeleteTransaction)
				r.Post("/reset", s.handleResetTransaction)
				r.Get("/categories/merged", s.handleMergedCategories)
				r.Post("/share", s.handleShareTransaction)
				r.Post("/edit/rebalance", s.handleRebalance)
				r.Post("/edit/save", s.handleSaveEdit)
			})
		})

		r.Post("/aggregator/sync", s.handleAggregatorSync)
	})

	return r
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
