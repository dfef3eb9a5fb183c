// Package server exposes the daemon's control API over HTTP.
package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cmux-cli/sandsync/internal/config"
	"github.com/cmux-cli/sandsync/internal/journal"
	"github.com/cmux-cli/sandsync/internal/sync"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP control API for the sync daemon.
type Server struct {
	cfg      config.Config
	registry *sync.Registry
	journal  *journal.Journal
	mux      *http.ServeMux
	version  VersionInfo
}

// New creates a new Server. journal may be nil when history
// recording is disabled.
func New(
	cfg config.Config, registry *sync.Registry, j *journal.Journal,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		journal:  j,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/version", s.handleVersion)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/v1/sessions", s.handleStartSession)
	s.mux.HandleFunc("DELETE /api/v1/sessions", s.handleStopSession)
	s.mux.HandleFunc("GET /api/v1/flushes", s.handleListFlushes)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return logMiddleware(s.mux)
}

// HTTPServer builds the http.Server for the control API with the
// configured write timeout applied.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}
