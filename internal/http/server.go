package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"burnrate/internal/categories"
	"burnrate/internal/core"
	"burnrate/internal/log"
	"burnrate/internal/middleware/ratelimit"
	"burnrate/internal/middleware/security"
	"burnrate/internal/middleware/trace"
	"burnrate/internal/ports"
	"burnrate/internal/services"
)

type (
	BudgetAPI interface {
		Month(ctx context.Context, userID string, anchor time.Time, skipHistorical bool) (core.MonthBudget, error)
		SaveSnapshots(ctx context.Context, userID string, anchor time.Time, force bool) (int, error)
		Categories(ctx context.Context, userID string, anchor time.Time) ([]categories.Total, error)
		Export(ctx context.Context, userID string, anchor time.Time) (string, error)
		Transactions(ctx context.Context, userID string, from, to time.Time) ([]services.TransactionView, error)
		UpdateComment(ctx context.Context, userID, txID, comment string) error
		SetExcluded(ctx context.Context, userID, txID string, excluded bool) error
		SetIncluded(ctx context.Context, userID, txID string, included bool) error
		AssignCategory(ctx context.Context, userID, txID, key string) error
		UnassignCategory(ctx context.Context, userID, txID string) error
	}

	SettingsAPI interface {
		Get(ctx context.Context, userID string) (core.UserSettings, error)
		Update(ctx context.Context, userID string, u services.SettingsUpdate) (core.UserSettings, error)
		SetToken(ctx context.Context, userID, token string) error
	}

	CategoryAPI interface {
		List(ctx context.Context, userID string) ([]categories.Info, error)
		Save(ctx context.Context, userID string, c core.CustomCategory) (core.CustomCategory, error)
		Delete(ctx context.Context, userID, key string) error
	}

	SyncAPI interface {
		Start(ctx context.Context, userID string) error
		Cancel(ctx context.Context, userID string) error
		Progress(ctx context.Context, userID string) (ports.Progress, error)
	}

	// Authenticator resolves the user of a request.
	Authenticator interface {
		Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler
	}

	// Pinger reports whether a dependency is reachable.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

type Deps struct {
	Budget     BudgetAPI
	Settings   SettingsAPI
	Categories CategoryAPI
	Sync       SyncAPI
	Auth       Authenticator
	Ready      Pinger
	Location   *time.Location
	RateLimit  ratelimit.Config
	// Now is injectable for tests.
	Now func() time.Time
}

type Server struct {
	http.Server
	deps     Deps
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		deps:     deps,
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(deps.RateLimit),
		detector: security.NewDetector(),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(trace.Middleware)
	r.Use(log.Middleware(s.logger, trace.FromRequest))
	r.Use(log.AccessLog(s.detector.ExtractClientIP))
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.detector.Flag)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
		}))
		r.Use(s.deps.Auth.Middleware(writeError))

		r.Route("/budget", func(r chi.Router) {
			r.Get("/", s.handleMonth)
			r.Post("/snapshots", s.handleSaveSnapshots)
			r.Get("/categories", s.handleCategoryTotals)
			r.Post("/export", s.handleExport)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleTransactions)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/comment", s.handleUpdateComment)
				r.Put("/exclusion", s.handleOverride(true, true))
				r.Delete("/exclusion", s.handleOverride(true, false))
				r.Put("/inclusion", s.handleOverride(false, true))
				r.Delete("/inclusion", s.handleOverride(false, false))
				r.Put("/category", s.handleAssignCategory)
				r.Delete("/category", s.handleUnassignCategory)
			})
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Put("/settings/token", s.handleSetToken)

		r.Get("/categories", s.handleListCategories)
		r.Post("/categories", s.handleSaveCategory)
		r.Delete("/categories/{key}", s.handleDeleteCategory)

		r.Post("/sync", s.handleStartSync)
		r.Get("/sync/progress", s.handleSyncProgress)
		r.Delete("/sync", s.handleCancelSync)
	})

	return r
}

// Shutdown stops the limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
