package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/virtmds/mdserver/pkg/config"
	"github.com/virtmds/mdserver/pkg/metrics"
	"github.com/virtmds/mdserver/pkg/registry"
	"github.com/virtmds/mdserver/pkg/userdata"
)

// Server is the EC2-style metadata HTTP server. Instances are identified by
// the source address of their requests; the only mutating endpoint is
// /instance-upload, restricted to the local host.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	userdata *userdata.Resolver
	version  string
	mux      *http.ServeMux
	srv      *http.Server
	logger   zerolog.Logger
}

// NewServer wires the HTTP routes.
func NewServer(cfg *config.Config, reg *registry.Registry, ud *userdata.Resolver, version string, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		userdata: ud,
		version:  version,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/service/", s.handleService)
	for _, version := range s.cfg.Server.EC2Versions {
		if version == "" {
			continue
		}
		base := "/" + version
		s.mux.HandleFunc(base+"/", s.handleBase(base))
		s.mux.HandleFunc(base+"/meta-data/", s.handleMetaData(base))
		s.mux.HandleFunc(base+"/user-data", s.handleUserData)
	}
	s.mux.HandleFunc("/instance-upload", s.handleUpload)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
}

// Start runs the server until the context is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.ListenAddress, strconv.Itoa(s.cfg.Server.Port))
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.instrument(s.mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("metadata server listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("metadata server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Handler exposes the instrumented route set, used by tests.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps the mux with request logging and Prometheus metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		s.logger.Info().
			Str("remote", r.RemoteAddr).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// clientIP extracts the source address of a request.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
