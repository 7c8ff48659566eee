// Package api provides the management HTTP API for a Beacon engine.
//
// The handler is mounted by the caller under any prefix; routes are
// relative to it.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/catalog"
	"github.com/xraph/beacon/subscription"
)

// RequestIDHeader carries the request ID in and out of the API.
const RequestIDHeader = "X-Request-ID"

// Handler is the root HTTP handler for the management API.
type Handler struct {
	beacon *beacon.Beacon
	logger *slog.Logger
	router chi.Router
}

// NewHandler creates a management API handler for b.
func NewHandler(b *beacon.Beacon, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		beacon: b,
		logger: logger,
		router: chi.NewRouter(),
	}

	h.router.Use(h.requestID, h.panicRecovery, h.logging)
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	r := h.router

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.createSubscription)
		r.Get("/", h.listSubscriptions)
		r.Get("/{id}", h.getSubscription)
		r.Put("/{id}", h.updateSubscription)
		r.Delete("/{id}", h.deleteSubscription)
		r.Post("/{id}/activate", h.activateSubscription)
		r.Post("/{id}/deactivate", h.deactivateSubscription)
		r.Post("/{id}/rotate-secret", h.rotateSecret)
		r.Get("/{id}/deliveries", h.listSubscriptionDeliveries)
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.dispatchEvent)
		r.Get("/", h.listEvents)
		r.Get("/{id}", h.getEvent)
		r.Get("/{id}/deliveries", h.listEventDeliveries)
	})

	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", h.listDeliveries)
		r.Get("/{id}", h.getChain)
		r.Post("/{id}/redeliver", h.redeliver)
	})
	r.Get("/attempts/{id}", h.getAttempt)

	r.Route("/event-types", func(r chi.Router) {
		r.Post("/", h.registerEventType)
		r.Get("/", h.listEventTypes)
		r.Get("/{name}", h.getEventType)
		r.Delete("/{name}", h.deprecateEventType)
	})

	r.Get("/stats", h.getStats)
	r.Get("/health", h.getHealth)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.DebugContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"request_id", w.Header().Get(RequestIDHeader),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"request_id", w.Header().Get(RequestIDHeader),
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

// writeServiceError maps engine errors onto HTTP statuses. Unexpected
// errors are logged and hidden behind a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "api request failed",
			"path", r.URL.Path,
			"request_id", w.Header().Get(RequestIDHeader),
			"error", err,
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var cfgErr *subscription.ConfigurationError
	var queueErr *beacon.DispatchQueueError

	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &queueErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, beacon.ErrSubscriptionNotFound),
		errors.Is(err, beacon.ErrEventNotFound),
		errors.Is(err, beacon.ErrAttemptNotFound),
		errors.Is(err, catalog.ErrUnknownType):
		return http.StatusNotFound
	case errors.Is(err, beacon.ErrEventTypeNotFound),
		errors.Is(err, beacon.ErrInvalidEvent),
		errors.Is(err, beacon.ErrPayloadValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, beacon.ErrEventTypeDeprecated),
		errors.Is(err, beacon.ErrRedeliveryNotAllowed):
		return http.StatusConflict
	case errors.Is(err, beacon.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
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
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// queryTime parses an RFC 3339 query parameter. ok is false when the value
// is present but malformed.
func queryTime(r *http.Request, key string) (t *time.Time, ok bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, false
	}
	return &parsed, true
}
