// Package api provides the admin HTTP API for Pulse: the event type
// catalog, the webhook registry, subscriptions and rules, event ingestion,
// and delivery history.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pulsekit/pulse"
)

// Handler is the root HTTP handler for the Pulse admin API.
type Handler struct {
	pulse  *pulse.Pulse
	logger *slog.Logger
	router *mux.Router
}

// NewHandler creates an admin API handler over a Pulse instance.
func NewHandler(p *pulse.Pulse, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		pulse:  p,
		logger: logger,
		router: mux.NewRouter(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	r := h.router

	// Event types
	r.HandleFunc("/event-types", h.createEventType).Methods(http.MethodPost)
	r.HandleFunc("/event-types", h.listEventTypes).Methods(http.MethodGet)
	r.HandleFunc("/event-types/{name}", h.getEventType).Methods(http.MethodGet)

	// Webhooks
	r.HandleFunc("/webhooks", h.createWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks", h.listWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{id}", h.getWebhook).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{id}", h.updateWebhook).Methods(http.MethodPut)
	r.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods(http.MethodDelete)
	r.HandleFunc("/webhooks/{id}/test", h.testWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{id}/rotate-secret", h.rotateSecret).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{id}/events", h.listWebhookEvents).Methods(http.MethodGet)

	// Subscriptions and rules
	r.HandleFunc("/subscriptions", h.createSubscription).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions", h.listSubscriptions).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions/{id}", h.getSubscription).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions/{id}", h.updateSubscription).Methods(http.MethodPut)
	r.HandleFunc("/subscriptions/{id}", h.deleteSubscription).Methods(http.MethodDelete)
	r.HandleFunc("/rules", h.createRule).Methods(http.MethodPost)
	r.HandleFunc("/rules", h.listRules).Methods(http.MethodGet)

	// Events
	r.HandleFunc("/events/process", h.processEvent).Methods(http.MethodPost)
	r.HandleFunc("/events/trigger", h.triggerEvent).Methods(http.MethodPost)
	r.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}", h.getEvent).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/retry", h.retryEvent).Methods(http.MethodPost)

	// Stats
	r.HandleFunc("/stats", h.getStats).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.router).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
