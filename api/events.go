package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
)

type dispatchEventRequest struct {
	// ID is optional; supplying it makes retries of the same call idempotent.
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

func (h *Handler) dispatchEvent(w http.ResponseWriter, r *http.Request) {
	var req dispatchEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	evt := &event.Event{
		Type:    req.Type,
		Payload: req.Payload,
	}
	if req.ID != "" {
		evtID, err := id.ParseEventID(req.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event ID")
			return
		}
		evt.ID = evtID
	}
	if req.OccurredAt != nil {
		evt.OccurredAt = req.OccurredAt.UTC()
	}

	res, err := h.beacon.Dispatch(r.Context(), evt)
	if err != nil {
		// Attempts that missed the queue are still in the ledger; report
		// what was accepted alongside the error.
		var queueErr *beacon.DispatchQueueError
		if errors.As(err, &queueErr) && res != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":  err.Error(),
				"result": res,
			})
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	from, ok := queryTime(r, "from")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
		return
	}
	to, ok := queryTime(r, "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
		return
	}

	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "type"),
		From:   from,
		To:     to,
	}

	events, err := h.beacon.ListEvents(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, err := h.beacon.GetEvent(r.Context(), evtID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

func (h *Handler) listEventDeliveries(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	atts, err := h.beacon.Deliveries().List(r.Context(), delivery.ListOpts{
		Offset:  queryInt(r, "offset", 0),
		Limit:   queryInt(r, "limit", 50),
		EventID: evtID,
		Status:  delivery.Status(queryParam(r, "status")),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, atts)
}
