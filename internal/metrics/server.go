package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/secretsweep/internal/logging"
)

// ServerConfig holds configuration for the metrics HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the server.
	Addr string

	// Path is the path to serve metrics on.
	Path string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default metrics server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Path:         "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves Prometheus metrics while a scan runs.
type Server struct {
	config ServerConfig
	logger *logging.Logger
	server *http.Server
	ln     net.Listener
}

// NewServer creates a metrics server. logger may be nil.
func NewServer(config ServerConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	return &Server{config: config, logger: logger}
}

// Start binds the listen address and serves in the background.
// It is a no-op when no address is configured.
func (s *Server) Start() error {
	if s.config.Addr == "" {
		return nil
	}

	InitMetrics()

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// metrics are non-critical
			s.logger.Warn("metrics server error: %v", err)
		}
	}()

	s.logger.Debug("Serving metrics on %s%s", ln.Addr(), s.config.Path)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
