// ABOUTME: HTTP API for buddy: submit messages, inspect runs and session history, list tools.
// ABOUTME: Routes are served by chi; every reply to a message is text, even when the run failed.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/2389-research/buddy/conversation"
	"github.com/2389-research/buddy/logging"
	"github.com/2389-research/buddy/store"
	"github.com/2389-research/buddy/tools"
	"github.com/2389-research/buddy/workflow"
)

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:8080"

// maxBodyBytes caps message request bodies.
const maxBodyBytes = 1 << 20

// Config wires the server to the rest of the process.
type Config struct {
	Addr       string
	Supervisor *workflow.Supervisor
	Runs       store.RunStore
	History    *conversation.Store
	Tools      *tools.Registry
	Backend    string
	Logger     zerolog.Logger
}

// Server is the buddy HTTP API.
type Server struct {
	cfg    Config
	router chi.Router
	logger zerolog.Logger
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Supervisor == nil {
		return nil, errors.New("server needs a supervisor")
	}
	if cfg.Runs == nil {
		return nil, errors.New("server needs a run store")
	}
	if cfg.History == nil {
		return nil, errors.New("server needs a conversation store")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		cfg:    cfg,
		logger: logging.Component(cfg.Logger, "http"),
	}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("action", "listen").Str("addr", s.cfg.Addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Get("/tools", s.handleTools)
		r.Get("/events", s.handleEvents)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRunList)
			r.Get("/{runID}", s.handleRunGet)
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/messages", s.handleMessage)
			r.Get("/history", s.handleHistory)
			r.Get("/transcript", s.handleTranscript)
			r.Delete("/", s.handleForget)
		})
	})

	return r
}

type messageRequest struct {
	Input string `json:"input"`
}

type messageResponse struct {
	RunID     string          `json:"run_id"`
	SessionID string          `json:"session_id"`
	Status    workflow.Status `json:"status"`
	Output    string          `json:"output"`
	Degraded  bool            `json:"degraded"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleMessage runs the pipeline for one input and waits for its text. A
// missing session id starts a fresh session.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON like {\"input\": \"...\"}")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	h := s.cfg.Supervisor.Submit(r.Context(), sessionID, req.Input)
	out := h.Await(r.Context())
	run := h.Run()

	writeJSON(w, http.StatusOK, messageResponse{
		RunID:     h.ID(),
		SessionID: h.SessionID(),
		Status:    run.Status,
		Output:    out,
		Degraded:  run.Degraded,
	})
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{SessionID: r.URL.Query().Get("session")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	runs, err := s.cfg.Runs.ListRuns(r.Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Str("action", "list_runs").Msg("run store failed")
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []workflow.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("action", "get_run").Msg("run store failed")
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type historyResponse struct {
	SessionID string `json:"session_id"`
	Messages  any    `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := s.cfg.History.Snapshot(r.Context(), sessionID)
	if err != nil {
		s.historyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: msgs})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := s.cfg.History.Snapshot(r.Context(), sessionID)
	if err != nil {
		s.historyError(w, err)
		return
	}
	page, err := conversation.RenderTranscript(sessionID, msgs)
	if err != nil {
		s.logger.Error().Err(err).Str("action", "render_transcript").Msg("transcript failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.History.Forget(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.historyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) historyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Str("action", "history").Msg("conversation store failed")
		writeError(w, http.StatusInternalServerError, "could not access session history")
	}
}

type toolResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	out := []toolResponse{}
	if s.cfg.Tools != nil {
		for _, d := range s.cfg.Tools.Definitions() {
			out = append(out, toolResponse{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type healthResponse struct {
	Status     string `json:"status"`
	Backend    string `json:"backend,omitempty"`
	ActiveRuns int    `json:"active_runs"`
	Sessions   int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Backend:    s.cfg.Backend,
		ActiveRuns: len(s.cfg.Supervisor.Active()),
		Sessions:   len(s.cfg.History.Sessions()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
