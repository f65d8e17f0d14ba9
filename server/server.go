// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"calendar-notifier/pkg/digest"
)

const rootText = `calendar-notifier

GET  /health   liveness check
GET  /statusz  job schedule state
POST /pollz    run a change poll now
POST /sendz    send a digest now (kind=daily|weekly)
`

// Runner interface for triggering digest jobs.
type Runner interface {
	RunKind(ctx context.Context, kind digest.JobKind) error
	Status() []digest.JobStatus
}

// Server handles HTTP requests.
type Server struct {
	runner Runner
	logger *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Runner Runner
	Logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		runner: cfg.Runner,
		logger: cfg.Logger,
	}
}

// ListenAndServe sets up all routes and runs the server until the context
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/statusz", s.handleStatus)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/sendz", s.handleSend)

	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      30 * time.Second,  // Time to write response
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := fmt.Fprint(w, rootText); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type jobStatus struct {
		Kind      string `json:"kind"`
		LastFired string `json:"last_fired,omitempty"`
		NextAt    string `json:"next_at,omitempty"`
	}

	statuses := s.runner.Status()
	jobs := make([]jobStatus, 0, len(statuses))
	for _, st := range statuses {
		js := jobStatus{Kind: string(st.Kind)}
		if !st.LastFired.IsZero() {
			js.LastFired = st.LastFired.Format(time.RFC3339)
		}
		if !st.NextAt.IsZero() {
			js.NextAt = st.NextAt.Format(time.RFC3339)
		}
		jobs = append(jobs, js)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"jobs": jobs}); err != nil {
		s.logger.Warn("Failed to write status response", "error", err)
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	if err := s.runner.RunKind(r.Context(), digest.JobPollTick); err != nil {
		s.logger.Error("Poll run failed", "error", err)
		http.Error(w, "Poll failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var kind digest.JobKind
	switch r.URL.Query().Get("kind") {
	case "daily":
		kind = digest.JobDailyDigest
	case "weekly":
		kind = digest.JobWeeklyDigest
	default:
		http.Error(w, "Unknown digest kind, want daily or weekly", http.StatusBadRequest)
		return
	}

	s.logger.Info("Send endpoint triggered", "kind", kind)

	if err := s.runner.RunKind(r.Context(), kind); err != nil {
		s.logger.Error("Digest send failed", "kind", kind, "error", err)
		http.Error(w, "Send failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
