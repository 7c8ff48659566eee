// Package subscription defines webhook subscriptions and the registry that
// manages them.
package subscription

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
)

// Policy holds the retry and auto-disable settings of a subscription.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means a single attempt.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`

	// BaseRetryDelay is the wait before the first retry.
	BaseRetryDelay time.Duration `json:"base_retry_delay" mapstructure:"base_retry_delay" yaml:"base_retry_delay"`

	// BackoffMultiplier scales the delay for each further retry.
	BackoffMultiplier float64 `json:"backoff_multiplier" mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`

	// AutoDisableThreshold is the number of consecutive failed attempts
	// after which the subscription is deactivated.
	AutoDisableThreshold int `json:"auto_disable_threshold" mapstructure:"auto_disable_threshold" yaml:"auto_disable_threshold"`
}

// DefaultPolicy returns the policy applied when a subscription does not set
// its own values.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           5,
		BaseRetryDelay:       60 * time.Second,
		BackoffMultiplier:    2.0,
		AutoDisableThreshold: 10,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return &ConfigurationError{Field: "max_retries", Message: "must not be negative"}
	case p.BaseRetryDelay <= 0:
		return &ConfigurationError{Field: "base_retry_delay", Message: "must be positive"}
	case p.BackoffMultiplier < 1:
		return &ConfigurationError{Field: "backoff_multiplier", Message: "must be at least 1"}
	case p.AutoDisableThreshold <= 0:
		return &ConfigurationError{Field: "auto_disable_threshold", Message: "must be positive"}
	}
	return nil
}

// Subscription is a consumer's registration to receive event types at a
// target URL.
type Subscription struct {
	entity.Entity
	Policy

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// TargetURL is the absolute HTTP(S) URL deliveries are posted to.
	TargetURL string `json:"target_url"`

	// Secret keys the HMAC signature. It is never serialized.
	Secret string `json:"-"`

	// EventTypes are the exact event type names this subscription receives.
	EventTypes []string `json:"event_types"`

	// Headers are sent with every delivery. Fixed delivery headers win on
	// collision.
	Headers map[string]string `json:"headers,omitempty"`

	// IsActive reports whether the subscription receives deliveries.
	IsActive bool `json:"is_active"`

	// ConsecutiveFailures counts failed attempts since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// DisabledReason explains an automatic deactivation.
	DisabledReason string `json:"disabled_reason,omitempty"`

	// DisabledAt is when the subscription was last auto-disabled.
	DisabledAt *time.Time `json:"disabled_at,omitempty"`

	// RateLimit caps deliveries per second to this subscription. Zero is
	// unlimited.
	RateLimit int `json:"rate_limit"`

	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Subscribes reports whether the subscription lists eventType. Matching is
// exact.
func (s *Subscription) Subscribes(eventType string) bool {
	return slices.Contains(s.EventTypes, eventType)
}

// ShouldDisable reports whether failures consecutive failures reach the
// auto-disable threshold.
func (s *Subscription) ShouldDisable(failures int) bool {
	return s.AutoDisableThreshold > 0 && failures >= s.AutoDisableThreshold
}

// AutoDisableReasonFormat formats the failure count into AutoDisableReason.
const AutoDisableReasonFormat = "auto-disabled after %d consecutive failures"

// AutoDisableReason is the DisabledReason recorded when a subscription is
// deactivated after failures consecutive failures.
func AutoDisableReason(failures int) string {
	return fmt.Sprintf(AutoDisableReasonFormat, failures)
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int

	// Active filters on IsActive when set.
	Active *bool

	// EventType keeps only subscriptions listing this type.
	EventType string
}
