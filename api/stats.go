package api

import (
	"net/http"

	"github.com/xraph/beacon/delivery"
)

type statsResponse struct {
	Attempts   delivery.Stats `json:"attempts"`
	QueueDepth int            `json:"queue_depth"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.beacon.Deliveries().Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Attempts:   stats,
		QueueDepth: h.beacon.QueueLen(),
	})
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.beacon.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
