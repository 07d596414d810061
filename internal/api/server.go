// Package api exposes the summarize, progress and summary endpoints over
// HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/sightline/internal/coordinator"
	"github.com/sells-group/sightline/internal/identity"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/quota"
	"github.com/sells-group/sightline/internal/resilience"
	"github.com/sells-group/sightline/internal/store"
)

// DefaultCORSOrigins is used when no origins are configured.
var DefaultCORSOrigins = []string{"http://localhost:3000"}

// Starter begins summarization jobs.
type Starter interface {
	Start(ctx context.Context, req coordinator.StartRequest) (*coordinator.Job, error)
}

// Summaries is the summary persistence the API reads and deletes.
type Summaries interface {
	GetSummary(ctx context.Context, identityKey, sourceID string) (*model.Summary, error)
	ListSummaries(ctx context.Context, identityKey string, filter store.SummaryFilter) ([]model.Summary, error)
	DeleteSummary(ctx context.Context, identityKey, sourceID string) error
	Ping(ctx context.Context) error
}

// UsageReporter reports quota consumption for an identity.
type UsageReporter interface {
	Usage(ctx context.Context, id model.Identity) (*quota.Usage, error)
}

// Server holds the handler dependencies.
type Server struct {
	jobs      Starter
	progress  progress.Store
	summaries Summaries
	usage     UsageReporter
	resolver  *identity.Resolver
	breakers  *resilience.Registry
	origins   []string
	// trustProxy lets forwarding headers replace RemoteAddr.
	trustProxy bool

	readyTimeout time.Duration
	inflight     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithUsage enables GET /api/usage.
func WithUsage(u UsageReporter) Option {
	return func(s *Server) { s.usage = u }
}

// WithBreakers reports breaker states on /api/ready.
func WithBreakers(r *resilience.Registry) Option {
	return func(s *Server) { s.breakers = r }
}

// WithTrustedProxy honors X-Forwarded-For and X-Real-IP. Enable it only
// behind a proxy that overwrites those headers.
func WithTrustedProxy(on bool) Option {
	return func(s *Server) { s.trustProxy = on }
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// New creates a Server.
func New(jobs Starter, ps progress.Store, sums Summaries, resolver *identity.Resolver, opts ...Option) *Server {
	s := &Server{
		jobs:         jobs,
		progress:     ps,
		summaries:    sums,
		resolver:     resolver,
		origins:      DefaultCORSOrigins,
		readyTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(correlation)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", identity.FingerprintHeader, CorrelationHeader, "X-Request-ID"},
		ExposedHeaders:   []string{CorrelationHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/ready", s.ready)

		r.Get("/progress/{taskId}", s.getProgress)
		r.Delete("/progress/{taskId}", s.deleteProgress)

		r.Group(func(r chi.Router) {
			r.Use(s.resolveIdentity)
			r.Post("/summarize", s.summarize)
			r.Get("/summaries", s.listSummaries)
			r.Get("/summaries/{sourceId}", s.getSummary)
			r.Delete("/summaries/{sourceId}", s.deleteSummary)
			r.Get("/usage", s.getUsage)
		})
	})
	return r
}

// Wait blocks until every async job started by this server has finished
// or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
