// Package api serves the indexed entities over HTTP. Reads are public and
// rate limited per client; the replay endpoint requires an admin token.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"creditindexer/store"
	"creditindexer/syncer"
)

// Syncer is the slice of the sync loop the API exposes.
type Syncer interface {
	Status() (syncer.Status, error)
	RequestRewind(to uint64)
}

// Options configures a Server.
type Options struct {
	AdminSecret string
	RateLimit   float64
	Burst       int
	MaxPageSize int
	Logger      *slog.Logger
}

// Server owns the HTTP handler tree.
type Server struct {
	store       *store.Store
	syncer      Syncer
	collections map[string]collection
	limiter     *rateLimiter
	auth        *authenticator
	maxPageSize int
	logger      *slog.Logger
}

// New builds a Server. A nil syncer is rejected.
func New(st *store.Store, sync Syncer, opts Options) (*Server, error) {
	if st == nil {
		return nil, errors.New("api: store required")
	}
	if sync == nil {
		return nil, errors.New("api: syncer required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPage := opts.MaxPageSize
	if maxPage <= 0 {
		maxPage = 1000
	}
	s := &Server{
		store:       st,
		syncer:      sync,
		collections: collections(),
		limiter:     newRateLimiter(opts.RateLimit, opts.Burst),
		maxPageSize: maxPage,
		logger:      logger.With("component", "api"),
	}
	if opts.AdminSecret != "" {
		s.auth = &authenticator{secret: []byte(opts.AdminSecret), clockSkew: 30 * time.Second, logger: s.logger}
	}
	return s, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(observe(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Get("/{collection}", s.handleList)
		r.Get("/{collection}/{id}", s.handleGet)
		r.Get("/{collection}/{id}/{relation}", s.handleRelated)
	})

	if s.auth != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.require(scopeAdmin))
			r.Post("/replay", s.handleReplay)
		})
	}
	return otelhttp.NewHandler(r, "creditindexer-api")
}

// ListenAndServe serves on addr until ctx is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
