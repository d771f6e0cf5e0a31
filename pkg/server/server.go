// Package server exposes the Query API over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/perbu/policynav/pkg/minirag"
)

const maxBodyBytes = 1 << 20

// Querier answers questions over a loaded index.
type Querier interface {
	Search(ctx context.Context, query string, k int) (*minirag.Answer, error)
	Health() minirag.Health
}

// Server routes HTTP requests to a Querier.
type Server struct {
	svc    Querier
	logger *minirag.Logger
}

// New creates a Server. A nil logger discards output.
func New(svc Querier, logger *minirag.Logger) *Server {
	if logger == nil {
		logger = minirag.NoopLogger()
	}
	return &Server{svc: svc, logger: logger}
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.logMiddleware(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := gojson.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query required")
		return
	}

	ans, err := s.svc.Search(r.Context(), req.Query, req.K)
	if err != nil {
		status, code := statusFor(err)
		requestLogger(r.Context(), s.logger).Warn("chat failed", "status", status, "error", err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, minirag.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, minirag.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, minirag.ErrUpstreamMalformed):
		return http.StatusBadGateway, "upstream_malformed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = gojson.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}
