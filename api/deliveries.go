package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Status: delivery.Status(queryParam(r, "status")),
	}

	if raw := queryParam(r, "subscription_id"); raw != "" {
		subID, err := id.ParseSubscriptionID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subscription ID")
			return
		}
		opts.SubscriptionID = subID
	}
	if raw := queryParam(r, "event_id"); raw != "" {
		evtID, err := id.ParseEventID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event ID")
			return
		}
		opts.EventID = evtID
	}

	atts, err := h.beacon.Deliveries().List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, atts)
}

// getChain returns every attempt of one delivery, oldest first.
func (h *Handler) getChain(w http.ResponseWriter, r *http.Request) {
	dlvID, err := id.ParseDeliveryID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	chain, err := h.beacon.Deliveries().Chain(r.Context(), dlvID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chain)
}

func (h *Handler) redeliver(w http.ResponseWriter, r *http.Request) {
	dlvID, err := id.ParseDeliveryID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	att, err := h.beacon.Redeliver(r.Context(), dlvID)
	if err != nil {
		var queueErr *beacon.DispatchQueueError
		if !errors.As(err, &queueErr) || att == nil {
			h.writeServiceError(w, r, err)
			return
		}
		// The attempt is recorded; the sweep picks it up.
		h.logger.WarnContext(r.Context(), "redelivery not queued", "error", err)
	}

	writeJSON(w, http.StatusAccepted, att)
}

func (h *Handler) getAttempt(w http.ResponseWriter, r *http.Request) {
	attID, err := id.ParseAttemptID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt ID")
		return
	}

	att, err := h.beacon.Deliveries().Get(r.Context(), attID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, att)
}
