package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/beacon/catalog"
)

type registerEventTypeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Group       string            `json:"group,omitempty"`
	Schema      json.RawMessage   `json:"schema,omitempty"`
	Version     string            `json:"version,omitempty"`
	Example     json.RawMessage   `json:"example,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) registerEventType(w http.ResponseWriter, r *http.Request) {
	var req registerEventTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	def := catalog.Definition{
		Name:        req.Name,
		Description: req.Description,
		Group:       req.Group,
		Schema:      req.Schema,
		Version:     req.Version,
		Example:     req.Example,
	}

	et, err := h.beacon.Catalog().Register(def, req.Metadata)
	if err != nil {
		// Register only fails on a bad name or an uncompilable schema.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, et)
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	opts := catalog.ListOpts{
		Offset:            queryInt(r, "offset", 0),
		Limit:             queryInt(r, "limit", 50),
		Group:             queryParam(r, "group"),
		Pattern:           queryParam(r, "pattern"),
		IncludeDeprecated: queryParam(r, "include_deprecated") == "true",
	}

	writeJSON(w, http.StatusOK, h.beacon.Catalog().List(opts))
}

func (h *Handler) getEventType(w http.ResponseWriter, r *http.Request) {
	et, err := h.beacon.Catalog().Get(chi.URLParam(r, "name"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, et)
}

// deprecateEventType soft-deletes a type: later dispatches of it fail.
func (h *Handler) deprecateEventType(w http.ResponseWriter, r *http.Request) {
	if err := h.beacon.Catalog().Deprecate(chi.URLParam(r, "name")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
