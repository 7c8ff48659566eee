package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
	"github.com/xraph/beacon/subscription"
)

type subscriptionModel struct {
	bun.BaseModel `bun:"table:beacon_subscriptions,alias:s"`

	ID                   string            `bun:"id,pk"`
	TargetURL            string            `bun:"target_url,notnull"`
	Secret               string            `bun:"secret,notnull"`
	EventTypes           []string          `bun:"event_types"`
	Headers              map[string]string `bun:"headers"`
	IsActive             bool              `bun:"is_active,notnull"`
	ConsecutiveFailures  int               `bun:"consecutive_failures,notnull"`
	DisabledReason       string            `bun:"disabled_reason,notnull"`
	DisabledAt           *time.Time        `bun:"disabled_at"`
	MaxRetries           int               `bun:"max_retries,notnull"`
	BaseRetryDelayMs     int64             `bun:"base_retry_delay_ms,notnull"`
	BackoffMultiplier    float64           `bun:"backoff_multiplier,notnull"`
	AutoDisableThreshold int               `bun:"auto_disable_threshold,notnull"`
	RateLimit            int               `bun:"rate_limit,notnull"`
	Description          string            `bun:"description,notnull"`
	Metadata             map[string]string `bun:"metadata"`
	CreatedAt            time.Time         `bun:"created_at,notnull"`
	UpdatedAt            time.Time         `bun:"updated_at,notnull"`
}

// subscriptionTypeModel indexes subscriptions by event type so matching is
// a plain equality lookup on every dialect.
type subscriptionTypeModel struct {
	bun.BaseModel `bun:"table:beacon_subscription_event_types,alias:st"`

	SubscriptionID string `bun:"subscription_id,pk"`
	EventType      string `bun:"event_type,pk"`
}

type eventModel struct {
	bun.BaseModel `bun:"table:beacon_events,alias:e"`

	ID         string    `bun:"id,pk"`
	Type       string    `bun:"type,notnull"`
	Payload    string    `bun:"payload,notnull"`
	OccurredAt time.Time `bun:"occurred_at,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

type attemptModel struct {
	bun.BaseModel `bun:"table:beacon_delivery_attempts,alias:a"`

	ID             string     `bun:"id,pk"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	EventID        string     `bun:"event_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	AttemptNumber  int        `bun:"attempt_number,notnull"`
	Status         string     `bun:"status,notnull"`
	ScheduledAt    time.Time  `bun:"scheduled_at,notnull"`
	ExecutedAt     *time.Time `bun:"executed_at"`
	ResponseCode   *int       `bun:"response_code"`
	ResponseBody   string     `bun:"response_body,notnull"`
	DurationMs     int64      `bun:"duration_ms,notnull"`
	ErrorMessage   string     `bun:"error_message,notnull"`
	NextRetryAt    *time.Time `bun:"next_retry_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

type statusCountRow struct {
	Status string `bun:"status"`
	Count  int64  `bun:"count"`
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
		DisabledAt:           utcPtr(sub.DisabledAt),
		MaxRetries:           sub.MaxRetries,
		BaseRetryDelayMs:     sub.BaseRetryDelay.Milliseconds(),
		BackoffMultiplier:    sub.BackoffMultiplier,
		AutoDisableThreshold: sub.AutoDisableThreshold,
		RateLimit:            sub.RateLimit,
		Description:          sub.Description,
		Metadata:             sub.Metadata,
		CreatedAt:            sub.CreatedAt.UTC(),
		UpdatedAt:            sub.UpdatedAt.UTC(),
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

func typeRows(sub *subscriptionModel) []subscriptionTypeModel {
	rows := make([]subscriptionTypeModel, 0, len(sub.EventTypes))
	seen := make(map[string]bool, len(sub.EventTypes))
	for _, t := range sub.EventTypes {
		if seen[t] {
			continue
		}
		seen[t] = true
		rows = append(rows, subscriptionTypeModel{SubscriptionID: sub.ID, EventType: t})
	}
	return rows
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:         evt.ID.String(),
		Type:       evt.Type,
		Payload:    string(evt.Payload),
		OccurredAt: evt.OccurredAt.UTC(),
		CreatedAt:  evt.CreatedAt.UTC(),
		UpdatedAt:  evt.UpdatedAt.UTC(),
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

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		DeliveryID:     a.DeliveryID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		EventID:        a.EventID.String(),
		EventType:      a.EventType,
		AttemptNumber:  a.AttemptNumber,
		Status:         string(a.Status),
		ScheduledAt:    a.ScheduledAt.UTC(),
		ExecutedAt:     utcPtr(a.ExecutedAt),
		ResponseCode:   a.ResponseCode,
		ResponseBody:   a.ResponseBody,
		DurationMs:     a.Duration.Milliseconds(),
		ErrorMessage:   a.ErrorMessage,
		NextRetryAt:    utcPtr(a.NextRetryAt),
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
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

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
