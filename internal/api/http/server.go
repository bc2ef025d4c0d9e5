package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/streamsup/internal/api"
	"github.com/Paintersrp/streamsup/internal/metrics"
	"github.com/Paintersrp/streamsup/internal/supervise"
)

const (
	defaultAddr            = "127.0.0.1:7664"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config controls construction of the API server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	Gatherer          prometheus.Gatherer
	Logger            *slog.Logger
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server exposes status, restart and metrics endpoints for a runner.
type Server struct {
	ctrl     api.Controller
	addr     string
	listener net.Listener
	srv      *http.Server
	logger   *slog.Logger
	grace    time.Duration
}

// NewServer validates cfg and prepares the route table. Nothing listens until
// Run is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = metrics.Registry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		ctrl:     cfg.Controller,
		addr:     normalizeAddr(cfg.Addr),
		listener: cfg.Listener,
		logger:   cfg.Logger,
		grace:    cfg.ShutdownTimeout,
	}
	s.srv = &http.Server{
		Handler:           s.routes(cfg.Gatherer),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("GET /api/v1/members/{member}", s.member)
	mux.HandleFunc("POST /api/v1/members/{member}/restart", s.restart)
	return mux
}

// Listen binds the configured address unless a listener is already held.
// Callers bind early so a busy port fails before anything else starts.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Run listens (unless already bound) and serves until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	if err := s.Listen(); err != nil {
		return err
	}

	stop := stdcontext.AfterFunc(ctx, func() {
		shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.grace)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("control server shutdown", slog.Any("error", err))
		}
	})
	defer stop()

	s.logger.Info("control server listening", slog.String("addr", s.Addr()))
	if err := s.srv.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once listening, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) member(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("member")
	report, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	for _, m := range report.Members {
		if m.Name == name {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeError(w, fmt.Errorf("%w: %s", api.ErrUnknownMember, name), map[string]any{"member": name})
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("member"))
	if name == "" {
		writeError(w, fmt.Errorf("%w: empty member name", api.ErrUnknownMember), map[string]any{"member": name})
		return
	}
	result, err := s.ctrl.RestartMember(r.Context(), name)
	if err != nil {
		s.logger.Warn("restart failed", slog.String("member", name), slog.Any("error", err))
		writeError(w, err, map[string]any{"member": name})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restart": result})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, err error, details map[string]any) {
	status, code := classifyError(err)
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["timestamp"] = time.Now().UTC()
	writeJSON(w, status, errorBody{Code: code, Message: err.Error(), Details: details})
}

// classifyError maps controller errors onto HTTP statuses.
func classifyError(err error) (int, string) {
	var launchErr *supervise.LaunchError
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, api.ErrUnknownMember):
		return http.StatusNotFound, "unknown_member"
	case errors.Is(err, api.ErrNotRunning):
		return http.StatusConflict, "runner_not_active"
	case errors.As(err, &launchErr):
		return http.StatusBadGateway, "launch_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// normalizeAddr keeps the server on loopback unless a concrete host is named.
func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
