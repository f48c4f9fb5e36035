package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/devrun/internal/api"
	"github.com/Paintersrp/devrun/internal/metrics"
)

const (
	defaultAddr            = "127.0.0.1:7664"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	projectsPath = "/api/v1/projects"
)

// Config controls construction of the API server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wraps an http.Server exposing project controls.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer constructs a Server with sane defaults.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	server.registerRoutes(mux)
	return server, nil
}

// Run starts serving until the provided context is cancelled.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
			defer cancel()
			_ = s.srv.Shutdown(shutdownCtx)
		case <-stop:
		}
	}()

	go func() {
		var err error
		if s.listener != nil {
			err = s.srv.Serve(s.listener)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	err := <-errCh
	close(stop)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc(projectsPath, s.handleProjects)
	mux.HandleFunc(projectsPath+"/", s.handleProject)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	reports, err := s.ctrl.Projects(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"projects": reports})
}

// handleProject serves /api/v1/projects/{ref}[/run|/stop|/output].
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, projectsPath+"/"), "/")
	ref, action, _ := strings.Cut(rest, "/")
	ref = strings.TrimSpace(ref)
	details := map[string]any{"project": ref}
	if ref == "" || strings.Contains(action, "/") {
		s.writeErrorWithDetails(w, fmt.Errorf("%w: invalid project path", api.ErrUnknownProject), details)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, http.MethodGet)
			return
		}
		report, err := s.ctrl.Project(r.Context(), ref)
		if err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		s.writeJSON(w, http.StatusOK, report)
	case "run":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		report, err := s.ctrl.Run(r.Context(), ref)
		if err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"run": report})
	case "stop":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		report, err := s.ctrl.Stop(r.Context(), ref)
		if err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"stop": report})
	case "output":
		s.handleOutput(w, r, ref, details)
	default:
		s.writeJSON(w, http.StatusNotFound, errorBody{
			Code:    "not_found",
			Message: fmt.Sprintf("unknown action %q", action),
			Details: details,
		})
	}
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request, ref string, details map[string]any) {
	switch r.Method {
	case http.MethodGet:
		out, err := s.ctrl.Output(r.Context(), ref)
		if err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		s.writeJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		if err := s.ctrl.ClearOutput(r.Context(), ref); err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		s.writeJSON(w, http.StatusNoContent, nil)
	default:
		s.methodNotAllowed(w, http.MethodGet+", "+http.MethodDelete)
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, method string) {
	w.Header().Set("Allow", method)
	s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Code:    "method_not_allowed",
		Message: fmt.Sprintf("method not allowed, use %s", method),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorWithDetails(w, err, nil)
}

func (s *Server) writeErrorWithDetails(w http.ResponseWriter, err error, extra map[string]any) {
	status, code := classifyError(err)
	details := map[string]any{
		"timestamp": time.Now().UTC(),
	}
	for k, v := range extra {
		details[k] = v
	}
	body := errorBody{
		Code:    code,
		Message: err.Error(),
		Details: details,
	}
	s.writeJSON(w, status, body)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, api.ErrUnknownProject):
		return http.StatusNotFound, "unknown_project"
	case errors.Is(err, api.ErrAmbiguousProject):
		return http.StatusConflict, "ambiguous_project"
	case errors.Is(err, api.ErrProjectBusy):
		return http.StatusConflict, "project_busy"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// If parsing failed, trust caller.
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
