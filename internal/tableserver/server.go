// Package tableserver implements the reference HTTP server for spec.md
// §4.10's table controller contract: generic OData-queryable CRUD over
// whatever entity types a client registers, with conditional requests and
// soft delete, grounded on the teacher's internal/httpapi + internal/
// service/syncservice push/pull handlers and generalized from a fixed set
// of note/task/comment tables to an arbitrary entity-type path segment.
package tableserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/internal/tableserver/auth"
	"github.com/erauner12/syncengine/internal/tableserver/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 128000
)

// Server holds the reference table server's dependencies.
type Server struct {
	Store *store.Store
	Auth  *auth.Authenticator

	pageSizeDefault int
	pageSizeMax     int
	softDelete      bool
	rateLimit       RateLimitConfig
	limiter         *rateLimiter
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithPageSizeLimits overrides the default/maximum page sizes (spec.md
// §4.10: "server page size 100, maximum 128000").
func WithPageSizeLimits(def, max int) Option {
	return func(s *Server) { s.pageSizeDefault, s.pageSizeMax = def, max }
}

// WithHardDelete disables soft-delete semantics (DELETE removes the row
// outright instead of setting deleted := true). Soft delete is the default,
// matching spec.md §4.10.
func WithHardDelete() Option {
	return func(s *Server) { s.softDelete = false }
}

// WithRateLimit overrides the default per-subject token-bucket rate limit
// applied to authenticated /tables routes.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

// New builds a Server backed by st and authenticated by authn (a nil authn
// leaves /tables unauthenticated; st may be nil in tests that only exercise
// unauthenticated routes).
func New(st *store.Store, authn *auth.Authenticator, opts ...Option) *Server {
	s := &Server{
		Store:           st,
		Auth:            authn,
		pageSizeDefault: defaultPageSize,
		pageSizeMax:     maxPageSize,
		softDelete:      true,
		rateLimit:       DefaultRateLimitConfig,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = newRateLimiter(s.rateLimit)
	return s
}

// Close stops the rate limiter's background eviction sweep. Safe to call on
// a Server built with New even if Routes was never called.
func (s *Server) Close() {
	s.limiter.Stop()
}

// Routes builds the HTTP router: /healthz and /v1/sync/info are
// unauthenticated; every /tables/{entity}... route requires a bearer token
// when s.Auth is configured.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/v1/sync/info", s.Info)

	r.Group(func(r chi.Router) {
		if s.Auth != nil {
			r.Use(s.Auth.Middleware)
		}
		r.Use(s.limiter.middleware)

		r.Route("/tables/{entity}", func(r chi.Router) {
			r.Get("/", s.ListTable)
			r.Post("/", s.Create)
			r.Get("/{id}", s.GetByID)
			r.Put("/{id}", s.Replace)
			r.Delete("/{id}", s.Delete)
		})
	})

	log.Info().Msg("tableserver: routes registered")
	return r
}
