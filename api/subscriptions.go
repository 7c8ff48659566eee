package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/subscription"
)

// subscriptionRequest is the body of create calls. Retry delays are Go
// duration strings such as "30s".
type subscriptionRequest struct {
	TargetURL            string            `json:"target_url"`
	Secret               string            `json:"secret,omitempty"`
	EventTypes           []string          `json:"event_types"`
	Headers              map[string]string `json:"headers,omitempty"`
	MaxRetries           *int              `json:"max_retries,omitempty"`
	BaseRetryDelay       string            `json:"base_retry_delay,omitempty"`
	BackoffMultiplier    *float64          `json:"backoff_multiplier,omitempty"`
	AutoDisableThreshold *int              `json:"auto_disable_threshold,omitempty"`
	RateLimit            *int              `json:"rate_limit,omitempty"`
	Description          string            `json:"description,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

func (req subscriptionRequest) input() (subscription.Input, error) {
	in := subscription.Input{
		TargetURL:            req.TargetURL,
		Secret:               req.Secret,
		EventTypes:           req.EventTypes,
		Headers:              req.Headers,
		MaxRetries:           req.MaxRetries,
		BackoffMultiplier:    req.BackoffMultiplier,
		AutoDisableThreshold: req.AutoDisableThreshold,
		RateLimit:            req.RateLimit,
		Description:          req.Description,
		Metadata:             req.Metadata,
	}
	if req.BaseRetryDelay != "" {
		d, err := time.ParseDuration(req.BaseRetryDelay)
		if err != nil {
			return in, &subscription.ConfigurationError{Field: "base_retry_delay", Message: "must be a duration such as 30s"}
		}
		in.BaseRetryDelay = &d
	}
	return in, nil
}

// updateSubscriptionRequest is the body of update calls. It has no secret
// field; secrets change only through the rotate-secret route.
type updateSubscriptionRequest struct {
	TargetURL            string            `json:"target_url,omitempty"`
	EventTypes           []string          `json:"event_types,omitempty"`
	Headers              map[string]string `json:"headers,omitempty"`
	MaxRetries           *int              `json:"max_retries,omitempty"`
	BaseRetryDelay       string            `json:"base_retry_delay,omitempty"`
	BackoffMultiplier    *float64          `json:"backoff_multiplier,omitempty"`
	AutoDisableThreshold *int              `json:"auto_disable_threshold,omitempty"`
	RateLimit            *int              `json:"rate_limit,omitempty"`
	Description          string            `json:"description,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

func (req updateSubscriptionRequest) patch() (subscription.Patch, error) {
	p := subscription.Patch{
		TargetURL:            req.TargetURL,
		EventTypes:           req.EventTypes,
		Headers:              req.Headers,
		MaxRetries:           req.MaxRetries,
		BackoffMultiplier:    req.BackoffMultiplier,
		AutoDisableThreshold: req.AutoDisableThreshold,
		RateLimit:            req.RateLimit,
		Description:          req.Description,
		Metadata:             req.Metadata,
	}
	if req.BaseRetryDelay != "" {
		d, err := time.ParseDuration(req.BaseRetryDelay)
		if err != nil {
			return p, &subscription.ConfigurationError{Field: "base_retry_delay", Message: "must be a duration such as 30s"}
		}
		p.BaseRetryDelay = &d
	}
	return p, nil
}

// createdSubscription is returned once on creation; it is the only response
// that carries the signing secret.
type createdSubscription struct {
	*subscription.Subscription
	Secret string `json:"secret"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	sub, err := h.beacon.Subscriptions().Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createdSubscription{Subscription: sub, Secret: sub.Secret})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	opts := subscription.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		EventType: queryParam(r, "event_type"),
	}
	switch queryParam(r, "active") {
	case "true":
		active := true
		opts.Active = &active
	case "false":
		active := false
		opts.Active = &active
	}

	subs, err := h.beacon.Subscriptions().List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.beacon.Subscriptions().Get(r.Context(), subID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	var req updateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch, err := req.patch()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	sub, err := h.beacon.Subscriptions().Update(r.Context(), subID, patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	if err := h.beacon.Subscriptions().Delete(r.Context(), subID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.beacon.Subscriptions().Activate(r.Context(), subID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deactivateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.beacon.Subscriptions().Deactivate(r.Context(), subID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	secret, err := h.beacon.Subscriptions().RotateSecret(r.Context(), subID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) listSubscriptionDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	opts := delivery.ListOpts{
		Offset:         queryInt(r, "offset", 0),
		Limit:          queryInt(r, "limit", 50),
		SubscriptionID: subID,
		Status:         delivery.Status(queryParam(r, "status")),
	}

	atts, err := h.beacon.Deliveries().List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, atts)
}

func subscriptionID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	subID, err := id.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return id.Nil, false
	}
	return subID, true
}
