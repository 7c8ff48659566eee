package delivery

import (
	"time"

	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
)

// Status is the lifecycle state of a delivery attempt.
//
//	pending → sending → success | failed
//	retrying → sending → success | failed
//
// A failed attempt with retries left is followed by a new attempt in the
// same chain created as retrying.
type Status string

const (
	// StatusPending is an attempt created by dispatch and not yet executed.
	StatusPending Status = "pending"

	// StatusSending is an attempt whose HTTP request is in flight.
	StatusSending Status = "sending"

	// StatusSuccess is a terminal attempt the subscriber accepted.
	StatusSuccess Status = "success"

	// StatusFailed is a terminal attempt that did not succeed.
	StatusFailed Status = "failed"

	// StatusRetrying is a scheduled retry waiting for NextRetryAt.
	StatusRetrying Status = "retrying"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSuccess, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// Claimable reports whether an attempt in this status may start sending.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusRetrying
}

// CancelledMessage is recorded on attempts cancelled because their
// subscription was deactivated or deleted before execution.
const CancelledMessage = "cancelled: subscription inactive"

// Attempt is one HTTP POST try of an event to a subscription. All attempts
// for one (event, subscription) delivery share a DeliveryID.
type Attempt struct {
	entity.Entity

	// ID is the unique TypeID for this attempt.
	ID id.ID `json:"id"`

	// DeliveryID identifies the chain. It is sent as delivery_id on the wire.
	DeliveryID id.ID `json:"delivery_id"`

	SubscriptionID id.ID  `json:"subscription_id"`
	EventID        id.ID  `json:"event_id"`
	EventType      string `json:"event_type"`

	// AttemptNumber starts at 1 and increases by one per retry in a chain.
	AttemptNumber int `json:"attempt_number"`

	Status Status `json:"status"`

	// ScheduledAt is when the attempt becomes due.
	ScheduledAt time.Time `json:"scheduled_at"`

	// ExecutedAt is when the attempt started sending.
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	ResponseCode *int `json:"response_code,omitempty"`

	// ResponseBody holds the truncated subscriber response for failures.
	ResponseBody string `json:"response_body,omitempty"`

	Duration time.Duration `json:"duration"`

	ErrorMessage string `json:"error_message,omitempty"`

	// NextRetryAt is set if and only if Status is StatusRetrying.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// NewAttempt returns the first pending attempt of a new delivery chain.
func NewAttempt(subID, evtID id.ID, eventType string) *Attempt {
	now := time.Now().UTC()
	return &Attempt{
		Entity:         entity.New(),
		ID:             id.NewAttemptID(),
		DeliveryID:     id.NewDeliveryID(),
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      eventType,
		AttemptNumber:  1,
		Status:         StatusPending,
		ScheduledAt:    now,
	}
}

// Next returns the retry that follows a in the same chain, due at due.
func (a *Attempt) Next(due time.Time) *Attempt {
	due = due.UTC()
	return &Attempt{
		Entity:         entity.New(),
		ID:             id.NewAttemptID(),
		DeliveryID:     a.DeliveryID,
		SubscriptionID: a.SubscriptionID,
		EventID:        a.EventID,
		EventType:      a.EventType,
		AttemptNumber:  a.AttemptNumber + 1,
		Status:         StatusRetrying,
		ScheduledAt:    due,
		NextRetryAt:    &due,
	}
}

// Result is the terminal outcome written by Store.FinishAttempt.
type Result struct {
	Status       Status
	ResponseCode *int
	ResponseBody string
	Duration     time.Duration
	ErrorMessage string
}

// ListOpts configures filtering and pagination for attempt listing.
type ListOpts struct {
	Offset int
	Limit  int

	SubscriptionID id.ID
	EventID        id.ID
	DeliveryID     id.ID
	Status         Status
}

// Stats counts attempts by status.
type Stats map[Status]int64
