package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/socketlink/internal/connection"
	"github.com/rickgao/socketlink/internal/version"
)

// Source reports connection status. *connection.Manager implements it.
type Source interface {
	State() connection.State
	ID() string
	Ready() bool
}

// Status is the /health response body.
type Status struct {
	Status   string `json:"status"`
	State    string `json:"state"`
	Identity string `json:"identity,omitempty"`
	Ready    bool   `json:"ready"`
	Uptime   string `json:"uptime"`
	Version  string `json:"version"`
}

// Server is the ops HTTP server.
type Server struct {
	addr    string
	source  Source
	started time.Time
	logger  *slog.Logger
	router  chi.Router
	srv     *http.Server
}

// NewServer builds the ops router. gatherer may be nil to skip /metrics.
func NewServer(addr, metricsPath string, source Source, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    addr,
		source:  source,
		started: time.Now(),
		logger:  logger.With("component", "health"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if gatherer != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) status() Status {
	st := Status{
		Status:   "ok",
		State:    s.source.State().String(),
		Identity: s.source.ID(),
		Ready:    s.source.Ready(),
		Uptime:   time.Since(s.started).Truncate(time.Second).String(),
		Version:  version.Version,
	}
	if !st.Ready {
		st.Status = "degraded"
	}
	return st
}

// handleHealth always reports the connection status; 503 while not ready.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	code := http.StatusOK
	if !st.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.source.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.logger.Info("ops server stopped")
	return nil
}
