// Package server exposes audit reports over HTTP.
package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/themesniff/internal/audit"
	"github.com/schaermu/themesniff/internal/config"
	"github.com/schaermu/themesniff/internal/render"
)

// Runner produces a fresh report on every call
type Runner interface {
	Run(ctx context.Context) (*audit.Report, error)
}

// Server answers report requests by running a new audit each time
type Server struct {
	cfg    *config.Config
	runner Runner
	logger *slog.Logger
	token  []byte
	runMu  sync.Mutex // one audit at a time
}

// NewServer creates a report server. The bearer token is read from
// serve.token_file.
func NewServer(cfg *config.Config, runner Runner, logger *slog.Logger) (*Server, error) {
	if cfg.Serve.TokenFile == "" {
		return nil, fmt.Errorf("serve.token_file is required to serve reports")
	}
	token, err := os.ReadFile(cfg.Serve.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read serve token: %w", err)
	}
	token = bytes.TrimSpace(token)
	if len(token) == 0 {
		return nil, fmt.Errorf("serve token file %s is empty", cfg.Serve.TokenFile)
	}

	return &Server{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		token:  token,
	}, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /report", s.handleReport)
	return mux
}

// Start serves until ctx is cancelled. A socket-activated listener is
// preferred over serve.listen_addr.
func (s *Server) Start(ctx context.Context) error {
	ln, activated, err := Listen(s.cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, activated)
}

// Serve runs the HTTP server on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener, activated bool) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("report server starting", "addr", ln.Addr().String(), "socket_activated", activated)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down report server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, "ok")
}

// handleReport runs an audit and returns it as JSON, or as text when
// ?format=text is given.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r.Header.Get("Authorization")) {
		s.logger.Warn("rejecting report request with invalid token", "remote", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Bearer realm="themesniff"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	format := render.FormatJSON
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := render.ParseFormat(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = f
	}

	s.runMu.Lock()
	report, err := s.runner.Run(r.Context())
	s.runMu.Unlock()
	if err != nil {
		s.logger.Error("audit failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := render.Write(&buf, report, format); err != nil {
		s.logger.Error("failed to render report", "error", err)
		http.Error(w, "Failed to render report", http.StatusInternalServerError)
		return
	}

	if format == render.FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	s.logger.Info("served report", "run_id", report.RunID, "format", string(format))
}

// authorized checks an Authorization header against the configured token
// in constant time
func (s *Server) authorized(header string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return hmac.Equal([]byte(strings.TrimPrefix(header, prefix)), s.token)
}
