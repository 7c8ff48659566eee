package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
	"github.com/xraph/beacon/subscription"
)

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:beacon_subscriptions"`

	ID                   string            `grove:"id,pk"                  bson:"_id"`
	TargetURL            string            `grove:"target_url"             bson:"target_url"`
	Secret               string            `grove:"secret"                 bson:"secret"`
	EventTypes           []string          `grove:"event_types"            bson:"event_types"`
	Headers              map[string]string `grove:"headers"                bson:"headers,omitempty"`
	IsActive             bool              `grove:"is_active"              bson:"is_active"`
	ConsecutiveFailures  int               `grove:"consecutive_failures"   bson:"consecutive_failures"`
	DisabledReason       string            `grove:"disabled_reason"        bson:"disabled_reason"`
	DisabledAt           *time.Time        `grove:"disabled_at"            bson:"disabled_at,omitempty"`
	MaxRetries           int               `grove:"max_retries"            bson:"max_retries"`
	BaseRetryDelayMs     int64             `grove:"base_retry_delay_ms"    bson:"base_retry_delay_ms"`
	BackoffMultiplier    float64           `grove:"backoff_multiplier"     bson:"backoff_multiplier"`
	AutoDisableThreshold int               `grove:"auto_disable_threshold" bson:"auto_disable_threshold"`
	RateLimit            int               `grove:"rate_limit"             bson:"rate_limit"`
	Description          string            `grove:"description"            bson:"description"`
	Metadata             map[string]string `grove:"metadata"               bson:"metadata,omitempty"`
	CreatedAt            time.Time         `grove:"created_at"             bson:"created_at"`
	UpdatedAt            time.Time         `grove:"updated_at"             bson:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                   sub.ID.String(),
		TargetURL:            sub.TargetURL,
		Secret:               sub.Secret,
		EventTypes:           sub.EventTypes,
		Headers:              sub.Headers,
		IsActive:             sub.IsActive,
		ConsecutiveFailures:  sub.ConsecutiveFailures,
		DisabledReason:       sub.DisabledReason,
		DisabledAt:           sub.DisabledAt,
		MaxRetries:           sub.MaxRetries,
		BaseRetryDelayMs:     sub.BaseRetryDelay.Milliseconds(),
		BackoffMultiplier:    sub.BackoffMultiplier,
		AutoDisableThreshold: sub.AutoDisableThreshold,
		RateLimit:            sub.RateLimit,
		Description:          sub.Description,
		Metadata:             sub.Metadata,
		CreatedAt:            sub.CreatedAt,
		UpdatedAt:            sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Policy: subscription.Policy{
			MaxRetries:           m.MaxRetries,
			BaseRetryDelay:       time.Duration(m.BaseRetryDelayMs) * time.Millisecond,
			BackoffMultiplier:    m.BackoffMultiplier,
			AutoDisableThreshold: m.AutoDisableThreshold,
		},
		ID:                  subID,
		TargetURL:           m.TargetURL,
		Secret:              m.Secret,
		EventTypes:          m.EventTypes,
		Headers:             m.Headers,
		IsActive:            m.IsActive,
		ConsecutiveFailures: m.ConsecutiveFailures,
		DisabledReason:      m.DisabledReason,
		DisabledAt:          m.DisabledAt,
		RateLimit:           m.RateLimit,
		Description:         m.Description,
		Metadata:            m.Metadata,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:beacon_events"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	Type       string    `grove:"type"        bson:"type"`
	Payload    []byte    `grove:"payload"     bson:"payload"`
	OccurredAt time.Time `grove:"occurred_at" bson:"occurred_at"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:         evt.ID.String(),
		Type:       evt.Type,
		Payload:    evt.Payload,
		OccurredAt: evt.OccurredAt,
		CreatedAt:  evt.CreatedAt,
		UpdatedAt:  evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         evtID,
		Type:       m.Type,
		Payload:    json.RawMessage(m.Payload),
		OccurredAt: m.OccurredAt,
	}, nil
}

// --- Delivery attempt models ---

type attemptModel struct {
	grove.BaseModel `grove:"table:beacon_delivery_attempts"`

	ID             string     `grove:"id,pk"           bson:"_id"`
	DeliveryID     string     `grove:"delivery_id"     bson:"delivery_id"`
	SubscriptionID string     `grove:"subscription_id" bson:"subscription_id"`
	EventID        string     `grove:"event_id"        bson:"event_id"`
	EventType      string     `grove:"event_type"      bson:"event_type"`
	AttemptNumber  int        `grove:"attempt_number"  bson:"attempt_number"`
	Status         string     `grove:"status"          bson:"status"`
	ScheduledAt    time.Time  `grove:"scheduled_at"    bson:"scheduled_at"`
	ExecutedAt     *time.Time `grove:"executed_at"     bson:"executed_at,omitempty"`
	ResponseCode   *int       `grove:"response_code"   bson:"response_code,omitempty"`
	ResponseBody   string     `grove:"response_body"   bson:"response_body"`
	DurationMs     int64      `grove:"duration_ms"     bson:"duration_ms"`
	ErrorMessage   string     `grove:"error_message"   bson:"error_message"`
	NextRetryAt    *time.Time `grove:"next_retry_at"   bson:"next_retry_at,omitempty"`
	CreatedAt      time.Time  `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"      bson:"updated_at"`
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		DeliveryID:     a.DeliveryID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		EventID:        a.EventID.String(),
		EventType:      a.EventType,
		AttemptNumber:  a.AttemptNumber,
		Status:         string(a.Status),
		ScheduledAt:    a.ScheduledAt,
		ExecutedAt:     a.ExecutedAt,
		ResponseCode:   a.ResponseCode,
		ResponseBody:   a.ResponseBody,
		DurationMs:     a.Duration.Milliseconds(),
		ErrorMessage:   a.ErrorMessage,
		NextRetryAt:    a.NextRetryAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	attID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	dlvID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}

	return &delivery.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             attID,
		DeliveryID:     dlvID,
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      m.EventType,
		AttemptNumber:  m.AttemptNumber,
		Status:         delivery.Status(m.Status),
		ScheduledAt:    m.ScheduledAt,
		ExecutedAt:     m.ExecutedAt,
		ResponseCode:   m.ResponseCode,
		ResponseBody:   m.ResponseBody,
		Duration:       time.Duration(m.DurationMs) * time.Millisecond,
		ErrorMessage:   m.ErrorMessage,
		NextRetryAt:    m.NextRetryAt,
	}, nil
}

// statusCount is one group of the CountByStatus aggregation.
type statusCount struct {
	Status string `bson:"_id"`
	Count  int64  `bson:"count"`
}
