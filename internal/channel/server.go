package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const shutdownGrace = 10 * time.Second

type ServerConfig struct {
	Addr string

	WebhookPath string
	Webhook     http.Handler // nil: no bot token, route not mounted

	TranslatePath string
	Direct        http.Handler // nil: direct endpoint disabled

	MetricsPath string
	Metrics     http.Handler // nil: metrics disabled

	// WriteTimeout must cover a full translation plus the reply.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Server hosts the webhook, the direct endpoint, health, and metrics on
// one listener.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 90 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
	})
	if cfg.Webhook != nil && cfg.WebhookPath != "" {
		mux.Handle(cfg.WebhookPath, cfg.Webhook)
	}
	if cfg.Direct != nil && cfg.TranslatePath != "" {
		mux.Handle(cfg.TranslatePath, cfg.Direct)
	}
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, cfg.Metrics)
	}

	s := &Server{addr: cfg.Addr, mux: mux, logger: cfg.Logger}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http server starting", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
