// Package server exposes the chat orchestration core over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grahak-ai/grahak/internal/observability"
	"github.com/grahak-ai/grahak/internal/tracing"
	"github.com/grahak-ai/grahak/pkg/agent"
	"github.com/grahak-ai/grahak/pkg/chatstore"
	"github.com/grahak-ai/grahak/pkg/fallback"
	"github.com/grahak-ai/grahak/pkg/provider"
	"github.com/rs/zerolog"
)

// Server wires the agent runner and chat store into HTTP routes
type Server struct {
	runner *agent.Runner
	chat   chatstore.Store
	logger zerolog.Logger
	http   *http.Server
}

// Config holds server configuration
type Config struct {
	Host   string
	Port   int
	Runner *agent.Runner
	Chat   chatstore.Store
	Logger zerolog.Logger
}

// New creates the HTTP server
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("agent runner is required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("chat store is required")
	}

	s := &Server{
		runner: cfg.Runner,
		chat:   cfg.Chat,
		logger: cfg.Logger,
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s, nil
}

// Router builds the chi route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)

	r.Route("/chat/{threadID}", func(chat chi.Router) {
		chat.Post("/messages", s.handlePostMessage)
		chat.Get("/history", s.handleGetHistory)
	})

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	return r
}

// ListenAndServe starts serving until the context is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(tracing.NewRequestContext(r.Context())))
	})
}

type postMessageRequest struct {
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
	Tier     string `json:"tier,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Image    string `json:"image,omitempty"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		respondError(w, http.StatusBadRequest, "thread id is required")
		return
	}

	var payload postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.runner.Run(r.Context(), agent.TurnParams{
		ThreadID:  threadID,
		Text:      payload.Text,
		Image:     payload.Image,
		Tier:      payload.Tier,
		Requested: provider.ID(payload.Provider),
		UserID:    payload.UserID,
	})
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)

		var exhausted *fallback.ExhaustedError
		if errors.As(err, &exhausted) {
			logger.Error().Err(err).Str("thread_id", threadID).Msg("Turn failed, all providers exhausted")
			respondError(w, http.StatusServiceUnavailable, "assistant temporarily unavailable")
			return
		}

		logger.Error().Err(err).Str("thread_id", threadID).Msg("Turn failed")
		respondError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	respondJSON(w, http.StatusOK, result.BotMessage)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		respondError(w, http.StatusBadRequest, "thread id is required")
		return
	}

	history, err := s.chat.History(r.Context(), threadID)
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Failed to load history")
		respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
