package api

import (
	"encoding/json"
	"time"

	"github.com/xraph/beacon/delivery"
)

// ---------------------------------------------------------------------------
// Subscription requests
// ---------------------------------------------------------------------------

// CreateSubscriptionForgeRequest binds the body for POST /subscriptions.
type CreateSubscriptionForgeRequest struct {
	TargetURL            string            `description:"Webhook delivery URL (http or https)"      json:"target_url"`
	Secret               string            `description:"Signing secret; generated when empty"      json:"secret,omitempty"`
	EventTypes           []string          `description:"Exact event type names"                     json:"event_types"`
	Headers              map[string]string `description:"Custom HTTP headers"                        json:"headers,omitempty"`
	MaxRetries           *int              `description:"Retries after the first attempt"            json:"max_retries,omitempty"`
	BaseRetryDelay       string            `description:"First retry delay, e.g. 60s"                json:"base_retry_delay,omitempty"`
	BackoffMultiplier    *float64          `description:"Delay multiplier per retry"                 json:"backoff_multiplier,omitempty"`
	AutoDisableThreshold *int              `description:"Failed deliveries before auto-disable"      json:"auto_disable_threshold,omitempty"`
	RateLimit            *int              `description:"Requests per second limit, 0 for unlimited" json:"rate_limit,omitempty"`
	Description          string            `description:"Subscription description"                   json:"description,omitempty"`
	Metadata             map[string]string `description:"Arbitrary key-value metadata"               json:"metadata,omitempty"`
}

func (req *CreateSubscriptionForgeRequest) request() subscriptionRequest {
	return subscriptionRequest{
		TargetURL:            req.TargetURL,
		Secret:               req.Secret,
		EventTypes:           req.EventTypes,
		Headers:              req.Headers,
		MaxRetries:           req.MaxRetries,
		BaseRetryDelay:       req.BaseRetryDelay,
		BackoffMultiplier:    req.BackoffMultiplier,
		AutoDisableThreshold: req.AutoDisableThreshold,
		RateLimit:            req.RateLimit,
		Description:          req.Description,
		Metadata:             req.Metadata,
	}
}

// ListSubscriptionsForgeRequest binds query parameters for GET /subscriptions.
type ListSubscriptionsForgeRequest struct {
	EventType string `description:"Filter by event type"      query:"event_type"`
	Active    string `description:"Filter by active flag"     query:"active"`
	Offset    int    `description:"Pagination offset"         query:"offset"`
	Limit     int    `description:"Page size (default 50)"    query:"limit"`
}

// SubscriptionForgeRequest binds the path for single-subscription routes.
type SubscriptionForgeRequest struct {
	SubscriptionID string `description:"Subscription identifier" path:"subscriptionId"`
}

// UpdateSubscriptionForgeRequest binds path + body for PUT /subscriptions/:subscriptionId.
type UpdateSubscriptionForgeRequest struct {
	SubscriptionID       string            `description:"Subscription identifier"                  path:"subscriptionId"`
	TargetURL            string            `description:"Webhook delivery URL (http or https)"      json:"target_url,omitempty"`
	EventTypes           []string          `description:"Exact event type names"                     json:"event_types,omitempty"`
	Headers              map[string]string `description:"Custom HTTP headers"                        json:"headers,omitempty"`
	MaxRetries           *int              `description:"Retries after the first attempt"            json:"max_retries,omitempty"`
	BaseRetryDelay       string            `description:"First retry delay, e.g. 60s"                json:"base_retry_delay,omitempty"`
	BackoffMultiplier    *float64          `description:"Delay multiplier per retry"                 json:"backoff_multiplier,omitempty"`
	AutoDisableThreshold *int              `description:"Failed deliveries before auto-disable"      json:"auto_disable_threshold,omitempty"`
	RateLimit            *int              `description:"Requests per second limit, 0 for unlimited" json:"rate_limit,omitempty"`
	Description          string            `description:"Subscription description"                   json:"description,omitempty"`
	Metadata             map[string]string `description:"Arbitrary key-value metadata"               json:"metadata,omitempty"`
}

func (req *UpdateSubscriptionForgeRequest) request() updateSubscriptionRequest {
	return updateSubscriptionRequest{
		TargetURL:            req.TargetURL,
		EventTypes:           req.EventTypes,
		Headers:              req.Headers,
		MaxRetries:           req.MaxRetries,
		BaseRetryDelay:       req.BaseRetryDelay,
		BackoffMultiplier:    req.BackoffMultiplier,
		AutoDisableThreshold: req.AutoDisableThreshold,
		RateLimit:            req.RateLimit,
		Description:          req.Description,
		Metadata:             req.Metadata,
	}
}

// ListSubscriptionDeliveriesForgeRequest binds path + query for
// GET /subscriptions/:subscriptionId/deliveries.
type ListSubscriptionDeliveriesForgeRequest struct {
	SubscriptionID string `description:"Subscription identifier" path:"subscriptionId"`
	Status         string `description:"Filter by status"        query:"status"`
	Offset         int    `description:"Pagination offset"       query:"offset"`
	Limit          int    `description:"Page size (default 50)"  query:"limit"`
}

// ---------------------------------------------------------------------------
// Event requests
// ---------------------------------------------------------------------------

// DispatchEventForgeRequest binds the body for POST /events.
type DispatchEventForgeRequest struct {
	ID         string          `description:"Optional event identifier for idempotent retries" json:"id,omitempty"`
	Type       string          `description:"Event type name"                                  json:"type"`
	Payload    json.RawMessage `description:"Event payload (JSON object)"                      json:"payload"`
	OccurredAt *time.Time      `description:"When the event happened"                          json:"occurred_at,omitempty"`
}

// ListEventsForgeRequest binds query parameters for GET /events.
type ListEventsForgeRequest struct {
	Type   string `description:"Filter by event type"     query:"type"`
	From   string `description:"Created at or after (RFC3339)"  query:"from"`
	To     string `description:"Created at or before (RFC3339)" query:"to"`
	Offset int    `description:"Pagination offset"        query:"offset"`
	Limit  int    `description:"Page size (default 50)"   query:"limit"`
}

// GetEventForgeRequest binds the path for GET /events/:eventId.
type GetEventForgeRequest struct {
	EventID string `description:"Event identifier" path:"eventId"`
}

// ---------------------------------------------------------------------------
// Delivery requests
// ---------------------------------------------------------------------------

// ListDeliveriesForgeRequest binds query parameters for GET /deliveries.
type ListDeliveriesForgeRequest struct {
	SubscriptionID string `description:"Filter by subscription"  query:"subscription_id"`
	EventID        string `description:"Filter by event"         query:"event_id"`
	Status         string `description:"Filter by status"        query:"status"`
	Offset         int    `description:"Pagination offset"       query:"offset"`
	Limit          int    `description:"Page size (default 50)"  query:"limit"`
}

// DeliveryForgeRequest binds the path for chain and redeliver routes.
type DeliveryForgeRequest struct {
	DeliveryID string `description:"Delivery chain identifier" path:"deliveryId"`
}

// GetAttemptForgeRequest binds the path for GET /attempts/:attemptId.
type GetAttemptForgeRequest struct {
	AttemptID string `description:"Attempt identifier" path:"attemptId"`
}

// ---------------------------------------------------------------------------
// Event type requests
// ---------------------------------------------------------------------------

// RegisterEventTypeForgeRequest binds the body for POST /event-types.
type RegisterEventTypeForgeRequest struct {
	Name        string            `description:"Event type name (e.g. deal.won)"     json:"name"`
	Description string            `description:"Human-readable description"          json:"description"`
	Group       string            `description:"Grouping key"                        json:"group,omitempty"`
	Schema      json.RawMessage   `description:"JSON Schema for payload validation"  json:"schema,omitempty"`
	Version     string            `description:"Event type version"                  json:"version,omitempty"`
	Example     json.RawMessage   `description:"Example payload"                     json:"example,omitempty"`
	Metadata    map[string]string `description:"Arbitrary key-value metadata"        json:"metadata,omitempty"`
}

// ListEventTypesForgeRequest binds query parameters for GET /event-types.
type ListEventTypesForgeRequest struct {
	Group             string `description:"Filter by group"             query:"group"`
	Pattern           string `description:"Name glob, e.g. deal.*"      query:"pattern"`
	IncludeDeprecated string `description:"Include deprecated types"    query:"include_deprecated"`
	Offset            int    `description:"Pagination offset"           query:"offset"`
	Limit             int    `description:"Page size (default 50)"      query:"limit"`
}

// EventTypeForgeRequest binds the path for GET and DELETE /event-types/:name.
type EventTypeForgeRequest struct {
	Name string `description:"Event type name" path:"name"`
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// StatsForgeRequest is empty; GET /stats has no parameters.
type StatsForgeRequest struct{}

// StatsForgeResponse is the response for GET /stats.
type StatsForgeResponse struct {
	Attempts   delivery.Stats `json:"attempts"`
	QueueDepth int            `json:"queue_depth"`
}

// SecretForgeResponse is the response for POST /subscriptions/:subscriptionId/rotate-secret.
type SecretForgeResponse struct {
	Secret string `json:"secret"`
}
