// Package http exposes the chat engine over a small JSON webhook surface.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"kopilka/internal/bot"
	"kopilka/internal/core"
)

const maxMessageBytes = 4 << 10

// messageRequest is one inbound chat update.
type messageRequest struct {
	ChatID      string `json:"chat_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// MessageHandler is the chat engine as the transport sees it.
// *bot.Engine satisfies it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, who core.Identity, text string) (bot.Reply, error)
}

type Server struct {
	http.Server
	engine       MessageHandler
	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer wires routes and returns a ready-to-run server.
func NewServer(addr string, engine MessageHandler) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		engine:      engine,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("/v1/messages", s.withRateLimit(s.handleMessage))
	mux.HandleFunc("/healthz", s.handleHealth)

	return s
}

// Shutdown stops the rate limiter cleanup goroutine and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	req.ChatID = strings.TrimSpace(req.ChatID)
	req.Text = strings.TrimSpace(req.Text)
	if req.ChatID == "" {
		writeError(w, http.StatusUnprocessableEntity, "chat_id is required")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusUnprocessableEntity, "text is required")
		return
	}

	who := core.Identity{ChatID: req.ChatID, DisplayName: strings.TrimSpace(req.DisplayName)}
	reply, err := s.engine.HandleMessage(r.Context(), who, req.Text)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		slog.ErrorContext(r.Context(), "Message handling failed",
			"chat_id", req.ChatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode reply", "error", err)
		return
	}

	slog.DebugContext(r.Context(), "Message handled",
		"chat_id", req.ChatID, "duration", time.Since(start))
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.allow(extractClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
