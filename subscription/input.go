package subscription

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// Input holds the owner-supplied fields for creating a subscription. Nil
// pointers and empty values fall back to the service defaults.
type Input struct {
	TargetURL            string            `json:"target_url"`
	Secret               string            `json:"secret,omitempty"`
	EventTypes           []string          `json:"event_types"`
	Headers              map[string]string `json:"headers,omitempty"`
	MaxRetries           *int              `json:"max_retries,omitempty"`
	BaseRetryDelay       *time.Duration    `json:"base_retry_delay,omitempty"`
	BackoffMultiplier    *float64          `json:"backoff_multiplier,omitempty"`
	AutoDisableThreshold *int              `json:"auto_disable_threshold,omitempty"`
	RateLimit            *int              `json:"rate_limit,omitempty"`
	Description          string            `json:"description,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Patch holds the owner-editable fields of an existing subscription. Nil
// pointers and empty values leave the current value in place. The signing
// secret is not editable here; it changes only through RotateSecret.
type Patch struct {
	TargetURL            string            `json:"target_url,omitempty"`
	EventTypes           []string          `json:"event_types,omitempty"`
	Headers              map[string]string `json:"headers,omitempty"`
	MaxRetries           *int              `json:"max_retries,omitempty"`
	BaseRetryDelay       *time.Duration    `json:"base_retry_delay,omitempty"`
	BackoffMultiplier    *float64          `json:"backoff_multiplier,omitempty"`
	AutoDisableThreshold *int              `json:"auto_disable_threshold,omitempty"`
	RateLimit            *int              `json:"rate_limit,omitempty"`
	Description          string            `json:"description,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// ConfigurationError reports an invalid subscription field.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return "subscription configuration: " + e.Field + ": " + e.Message
}

// ErrThresholdNotAboveFailures is returned when an update would leave an
// active subscription with a failure streak at or above its auto-disable
// threshold. Stores return it when the check fails inside their atomic update.
var ErrThresholdNotAboveFailures = &ConfigurationError{
	Field:   "auto_disable_threshold",
	Message: "must exceed the current consecutive failure count",
}

// reservedHeaders are set by the executor on every delivery.
var reservedHeaders = []string{
	"Content-Type",
	"User-Agent",
	"X-Webhook-Signature",
	"X-Webhook-Event",
	"X-Webhook-Delivery",
}

// applyPolicy overlays the policy fields set in in onto p.
func (in Input) applyPolicy(p Policy) Policy {
	return overlayPolicy(p, in.MaxRetries, in.BaseRetryDelay, in.BackoffMultiplier, in.AutoDisableThreshold)
}

func (pt Patch) applyPolicy(p Policy) Policy {
	return overlayPolicy(p, pt.MaxRetries, pt.BaseRetryDelay, pt.BackoffMultiplier, pt.AutoDisableThreshold)
}

func overlayPolicy(p Policy, maxRetries *int, delay *time.Duration, multiplier *float64, threshold *int) Policy {
	if maxRetries != nil {
		p.MaxRetries = *maxRetries
	}
	if delay != nil {
		p.BaseRetryDelay = *delay
	}
	if multiplier != nil {
		p.BackoffMultiplier = *multiplier
	}
	if threshold != nil {
		p.AutoDisableThreshold = *threshold
	}
	return p
}

func validateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ConfigurationError{Field: "target_url", Message: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ConfigurationError{Field: "target_url", Message: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{Field: "target_url", Message: "scheme must be http or https"}
	}
	return nil
}

func validateEventTypes(types []string) error {
	if len(types) == 0 {
		return &ConfigurationError{Field: "event_types", Message: "at least one event type required"}
	}
	for _, t := range types {
		if strings.TrimSpace(t) == "" {
			return &ConfigurationError{Field: "event_types", Message: "event type must not be empty"}
		}
		if strings.ContainsAny(t, "*?") {
			return &ConfigurationError{Field: "event_types", Message: "wildcards are not supported: " + t}
		}
	}
	return nil
}

func validateHeaders(headers map[string]string) error {
	for k, v := range headers {
		if !httpguts.ValidHeaderFieldName(k) {
			return &ConfigurationError{Field: "headers", Message: "invalid header name " + k}
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return &ConfigurationError{Field: "headers", Message: "invalid value for header " + k}
		}
		canonical := http.CanonicalHeaderKey(k)
		for _, r := range reservedHeaders {
			if canonical == r {
				return &ConfigurationError{Field: "headers", Message: "header " + r + " is reserved"}
			}
		}
	}
	return nil
}

func validateRateLimit(limit *int) error {
	if limit != nil && *limit < 0 {
		return &ConfigurationError{Field: "rate_limit", Message: "must not be negative"}
	}
	return nil
}

func dedupe(types []string) []string {
	seen := make(map[string]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
