// Package rest provides the HTTP/JSON surface of the reconciler.
//
// The event transport is the primary inbound path; this API exists for
// operators: manual event replay, on-demand sweeps, and read-only views
// of balances and ledger entries.
//
// Endpoints:
//
//	POST /v1/events             - ingest/replay a trigger envelope
//	POST /v1/sweep              - run a reconciliation sweep now
//	GET  /v1/balance/:user_id   - current account balance
//	GET  /v1/ledger?job_id=...  - ledger entries for a job
//	GET  /health                - health check
//	GET  /ready                 - readiness check
//	GET  /metrics               - Prometheus metrics
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/reconciler"
	"github.com/fertilia/reconciler/internal/store"
)

// Handler provides the REST API endpoints.
type Handler struct {
	dispatcher *reconciler.Dispatcher
	accounts   store.AccountStore
	ledger     store.LedgerStore
	log        zerolog.Logger
}

// NewHandler creates a REST API handler.
func NewHandler(d *reconciler.Dispatcher, accounts store.AccountStore, ledger store.LedgerStore, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: d,
		accounts:   accounts,
		ledger:     ledger,
		log:        logger.With().Str("component", "rest_handler").Logger(),
	}
}

// RegisterRoutes registers all routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events", h.handleEvents)
	mux.HandleFunc("/v1/sweep", h.handleSweep)
	mux.HandleFunc("/v1/balance/", h.handleBalance)
	mux.HandleFunc("/v1/ledger", h.handleLedger)

	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
}

// handleEvents handles POST /v1/events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var env domain.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	resp, err := h.dispatcher.Dispatch(r.Context(), env)
	if err != nil {
		if domain.IsValidation(err) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("type", env.Type).Msg("dispatch failed")
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// handleSweep handles POST /v1/sweep by dispatching a sweep trigger.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp, err := h.dispatcher.Dispatch(r.Context(), domain.Envelope{Type: domain.TriggerSweep})
	if err != nil {
		h.log.Error().Err(err).Msg("sweep failed")
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// handleBalance handles GET /v1/balance/:user_id.
func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/v1/balance/")
	if userID == "" || strings.Contains(userID, "/") {
		h.writeError(w, http.StatusBadRequest, "Invalid user_id")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to get account")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":    account.UserID,
		"remaining": account.Remaining,
		"updatedAt": account.UpdatedAt.Format(time.RFC3339),
	})
}

// handleLedger handles GET /v1/ledger?job_id=...
func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	entries, err := h.ledger.EntriesByJob(r.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("failed to list ledger entries")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		item := map[string]interface{}{
			"ledgerId":    e.LedgerID,
			"userId":      e.UserID,
			"timestamp":   e.Timestamp.Format(time.RFC3339Nano),
			"type":        e.Type,
			"amount":      e.Amount,
			"reference":   e.Reference,
			"description": e.Description,
		}
		if e.AnomalyNote != "" {
			item["anomalyNote"] = e.AnomalyNote
		}
		out = append(out, item)
	}

	h.writeJSON(w, http.StatusOK, out)
}

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReady handles GET /ready. Ready means the account store answers.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	_, err := h.accounts.GetAccount(ctx, "readiness-probe")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Warn().Err(err).Msg("readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    statusCode,
			"message": message,
		},
		"timestamp": time.Now().Unix(),
	})
}

// LoggingMiddleware logs all HTTP requests.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration_ms", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
