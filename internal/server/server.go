// Package server provides the tracelens daemon.
//
// The daemon implements the share contract (see package share) on top of a
// local store, analyzes uploaded or stored traces, and exposes Prometheus
// metrics:
//
//	POST   /upload          store a trace, auth key required
//	GET    /f/{key}         download a stored trace
//	DELETE /delete/{key}    remove a stored trace, auth key required
//	POST   /analyze         analyze the request body
//	GET    /analyze/{key}   analyze a stored trace
//	GET    /metrics         Prometheus metrics
//	GET    /healthz         liveness
//
// Analysis responses are JSON documents, or a single length-delimited
// protobuf message when the request accepts wire.ContentType.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/metrics"
	"github.com/xtxerr/tracelens/internal/pipeline"
	"github.com/xtxerr/tracelens/internal/report"
	"github.com/xtxerr/tracelens/internal/share"
	"github.com/xtxerr/tracelens/internal/share/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	log  = logging.Component("server")
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "0.0.0.0:9180").
	Listen string

	// BaseURL is the public root used in share URLs. Empty derives it
	// from the request.
	BaseURL string

	// AuthKey authorizes uploads and deletes (required).
	AuthKey string

	// MaxUploadSize limits request bodies in bytes.
	MaxUploadSize int64

	// Failed auth rate limiting.
	AuthFailureLimit  int
	AuthFailureWindow time.Duration

	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration

	// CacheSize bounds the number of cached stored-trace analyses.
	CacheSize int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:            config.DefaultListenAddress,
		MaxUploadSize:     config.DefaultMaxUploadSize,
		AuthFailureLimit:  config.DefaultAuthFailureLimit,
		AuthFailureWindow: config.DefaultAuthFailureWindow,
		ReadTimeout:       config.DefaultReadTimeout,
		ShutdownTimeout:   config.DefaultShutdownTimeout,
		CacheSize:         64,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()
	if c.Listen == "" {
		v.AddField("server.listen", "cannot be empty")
	}
	if c.AuthKey == "" {
		v.AddMissing("share.auth_key")
	}
	if c.MaxUploadSize <= 0 {
		v.AddField("server.max_upload_size", "must be positive")
	}
	if c.AuthFailureLimit <= 0 {
		v.AddField("server.auth_failure_limit", "must be positive")
	}
	if c.AuthFailureWindow <= 0 {
		v.AddField("server.auth_failure_window", "must be positive")
	}
	return v.Err()
}

// =============================================================================
// Server
// =============================================================================

// Server is the tracelens daemon.
type Server struct {
	cfg     Config
	store   *store.Store
	runner  *pipeline.Runner
	metrics *metrics.Metrics

	authRateLimiter *RateLimiter

	// Analyses of stored traces, by share key.
	analyses singleflight.Group
	cacheMu  sync.Mutex
	cache    map[string]*analysisEntry

	mu       sync.Mutex
	listener net.Listener
}

// analysisEntry is a finished analysis.
type analysisEntry struct {
	doc     *report.Document
	records int
	dropped int
}

// New creates a new server.
func New(cfg Config, st *store.Store, runner *pipeline.Runner, m *metrics.Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil || runner == nil {
		return nil, errors.Wrap(errors.ErrInternal, "server requires a store and a pipeline")
	}
	if m == nil {
		m = metrics.New()
	}
	m.RegisterStore(st)

	return &Server{
		cfg:             cfg,
		store:           st,
		runner:          runner,
		metrics:         m,
		authRateLimiter: NewRateLimiter(cfg.AuthFailureLimit, cfg.AuthFailureWindow),
		cache:           make(map[string]*analysisEntry),
	}, nil
}

// Handler returns the HTTP handler of all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /upload", "upload", s.handleUpload)
	s.route(mux, "GET /f/{key}", "download", s.handleDownload)
	s.route(mux, "DELETE /delete/{key}", "delete", s.handleDelete)
	s.route(mux, "POST /analyze", "analyze", s.handleAnalyze)
	s.route(mux, "GET /analyze/{key}", "analyze_key", s.handleAnalyzeKey)
	s.route(mux, "GET /healthz", "healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return cors(mux)
}

// Run listens on cfg.Listen and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. The
// store is swept in the background meanwhile.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.store.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
		return nil
	})

	err := g.Wait()
	s.authRateLimiter.Stop()
	log.Info("shutdown complete")
	return err
}

// Addr returns the listen address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// =============================================================================
// Middleware
// =============================================================================

// statusRecorder captures the response code.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// route registers h with request IDs, logging and metrics.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(logging.ContextWithRequestID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)

		s.metrics.ObserveRequest(name, rec.code, start)
		logging.WithContext(r.Context()).Debug("request",
			"route", name,
			"remote", extractIP(r.RemoteAddr),
			"code", rec.code,
			"duration", time.Since(start))
	})
}

// cors allows browser viewers on other origins to use the share contract.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, "+share.HeaderAuthKey+", "+share.HeaderFileName)
		h.Set("Access-Control-Expose-Headers", share.HeaderOriginalFileName+", Content-Disposition, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
