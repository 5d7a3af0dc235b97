// Package httpapi serves a node over HTTP and talks to other nodes.
//
// The server exposes the wire format of package codec:
//
//	GET  /feed?since=ms&limit=n       change feed, oldest first
//	GET  /strings?id=..&id=..         records by id
//	PUT  /strings                     upload (stringSet or plain text lines)
//	GET  /linked?id=..                cluster of a record
//	GET  /find?text=..                search
//	GET  /count?since=ms              number of records
//	GET  /clusters/count              number of clusters
//	POST /update?id=..                canonical id / deleted flag
//	GET  /stats                       API counters as JSON
//	GET  /healthz                     liveness
//
// Client implements engine.Peer on top of the same protocol.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roach88/stringpool/internal/engine"
	"github.com/roach88/stringpool/internal/query"
)

// DefaultMaxBodyBytes bounds upload and update request bodies.
const DefaultMaxBodyBytes = 64 << 20

// ServerConfig holds configuration for creating a Server.
type ServerConfig struct {
	// Addr is the TCP listen address, e.g. ":8080".
	Addr string

	// FeedCap bounds the entries of one feed response. Defaults to
	// engine.DefaultFeedCap.
	FeedCap int

	// MaxBodyBytes bounds request bodies. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Server serves one node's facade.
type Server struct {
	facade     *query.Facade
	feedCap    int
	maxBody    int64
	httpServer *http.Server
}

// NewServer creates a server for f.
func NewServer(f *query.Facade, cfg ServerConfig) *Server {
	if cfg.FeedCap <= 0 {
		cfg.FeedCap = engine.DefaultFeedCap
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		facade:  f,
		feedCap: cfg.FeedCap,
		maxBody: cfg.MaxBodyBytes,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute, // large feeds stream for a while
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /strings", s.handleGet)
	mux.HandleFunc("PUT /strings", s.handleUpload)
	mux.HandleFunc("GET /linked", s.handleLinked)
	mux.HandleFunc("GET /find", s.handleFind)
	mux.HandleFunc("GET /count", s.handleCount)
	mux.HandleFunc("GET /clusters/count", s.handleClusterCount)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return logRequests(mux)
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("http server listening", "addr", l.Addr().String())
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}
