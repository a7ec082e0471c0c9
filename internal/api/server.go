// Package api implements the inbound email webhook and the service's
// health endpoints.
package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/salesreply/internal/buildinfo"
	"github.com/nugget/salesreply/internal/config"
	"github.com/nugget/salesreply/internal/connwatch"
	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/reply"
)

// maxWebhookBody caps the size of an inbound webhook payload.
const maxWebhookBody = 10 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Health reports the reachability of upstream services.
// [*connwatch.Monitor] implements it.
type Health interface {
	Status() map[string]connwatch.Status
	Healthy() bool
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	secret  string
	inbound *InboundHandler
	health  Health
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server. health may be nil.
func NewServer(listen config.ListenConfig, inbound *InboundHandler, health Health, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: listen.Address,
		port:    listen.Port,
		secret:  listen.WebhookSecret,
		inbound: inbound,
		health:  health,
		logger:  logger,
	}
}

// Handler returns the server's routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/webhooks/inbound-email", s.handleInboundEmail)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	// The webhook holds the connection for the whole pipeline run.
	writeTimeout := 120 * time.Second
	if t := s.inbound.Timeout() + 30*time.Second; t > writeTimeout {
		writeTimeout = t
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			if id, err := uuid.NewV7(); err == nil {
				requestID = id.String()
			}
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "salesreply",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth always answers 200 so a model or mailbox outage does not
// get the process restarted; "degraded" names the problem instead.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if s.health != nil {
		resp["services"] = s.health.Status()
		if !s.health.Healthy() {
			resp["status"] = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// webhookEnvelope is the event wrapper some inbox providers send.
type webhookEnvelope struct {
	Event string              `json:"event"`
	Email *inbox.InboundEmail `json:"email"`
}

func (s *Server) handleInboundEmail(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			s.errorResponse(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	email, event, err := decodeInbound(body)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if event != "" && event != "inbound_email" {
		s.logger.Debug("ignoring webhook event", "event", event)
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, Result{}, s.logger)
		return
	}

	res, err := s.inbound.Process(r.Context(), email)
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

// decodeInbound accepts either an event envelope or a bare email.
func decodeInbound(body []byte) (inbox.InboundEmail, string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return inbox.InboundEmail{}, "", errors.New("empty body")
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return inbox.InboundEmail{}, "", fmt.Errorf("invalid JSON: %w", err)
	}

	var email inbox.InboundEmail
	if env.Email != nil {
		email = *env.Email
	} else if err := json.Unmarshal(body, &email); err != nil {
		return inbox.InboundEmail{}, "", fmt.Errorf("invalid email: %w", err)
	}

	if env.Event != "" && env.Event != "inbound_email" {
		return email, env.Event, nil
	}
	if email.ID == "" {
		return inbox.InboundEmail{}, env.Event, errors.New("email id is required")
	}
	if email.ThreadID == "" {
		return inbox.InboundEmail{}, env.Event, errors.New("email threadId is required")
	}
	return email, env.Event, nil
}

// statusFor maps pipeline failures onto HTTP status codes. Upstream
// failures are 502 so the sender knows a retry may succeed.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, reply.ErrProvider), errors.Is(err, reply.ErrModel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(code),
			"code":    code,
		},
	}, s.logger)
}

func errorType(code int) string {
	switch {
	case code == http.StatusUnauthorized:
		return "authentication_error"
	case code < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}
