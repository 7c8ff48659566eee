package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/signature"
	"github.com/xraph/beacon/subscription"
)

// Delivery header names.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// Executor defaults.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxResponseBody = 1000
	DefaultUserAgent       = "Beacon/1.0"
)

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	EventType  string          `json:"event_type"`
	EventID    string          `json:"event_id"`
	Payload    json.RawMessage `json:"payload"`
	DeliveryID string          `json:"delivery_id"`
	Timestamp  string          `json:"timestamp"`
}

// Outcome is the classified result of one HTTP attempt.
type Outcome struct {
	Success      bool
	ResponseCode *int
	ResponseBody string
	Duration     time.Duration

	// Err is a *TransientDeliveryError when Success is false.
	Err error
}

// ErrorMessage returns the text recorded on the attempt for a failure.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Timeout bounds each HTTP request. Ignored when Client is set.
	Timeout time.Duration

	// MaxResponseBody caps the stored response body of failures.
	MaxResponseBody int

	UserAgent string

	// Client overrides the HTTP client. It should not follow redirects.
	Client *http.Client
}

// Executor performs one signed HTTP delivery. It never decides retry policy
// and never mutates the subscription.
type Executor struct {
	client  *http.Client
	signer  *signature.Signer
	maxBody int
	agent   string
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = DefaultMaxResponseBody
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return &Executor{
		client:  client,
		signer:  signature.NewSigner(),
		maxBody: cfg.MaxResponseBody,
		agent:   cfg.UserAgent,
	}
}

// BuildEnvelope serializes the delivery body for att.
func BuildEnvelope(evt *event.Event, att *Attempt, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		EventType:  evt.Type,
		EventID:    evt.ID.String(),
		Payload:    evt.Payload,
		DeliveryID: att.DeliveryID.String(),
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
	})
}

// Execute posts evt to sub for att and classifies the response.
func (x *Executor) Execute(ctx context.Context, sub *subscription.Subscription, evt *event.Event, att *Attempt) Outcome {
	body, err := BuildEnvelope(evt, att, time.Now())
	if err != nil {
		return Outcome{Err: &TransientDeliveryError{Err: fmt.Errorf("marshal envelope: %w", err)}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: &TransientDeliveryError{Err: fmt.Errorf("create request: %w", err)}}
	}

	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", x.agent)
	req.Header.Set(HeaderSignature, x.signer.Sign(sub.Secret, body))
	req.Header.Set(HeaderEvent, evt.Type)
	req.Header.Set(HeaderDelivery, att.DeliveryID.String())

	start := time.Now()
	resp, err := x.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination.
	elapsed := time.Since(start)
	if err != nil {
		return Outcome{
			Duration: elapsed,
			Err:      &TransientDeliveryError{Err: err},
		}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	out := Outcome{ResponseCode: &code, Duration: elapsed}

	if code >= 200 && code < 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, int64(x.maxBody)))
		out.Success = true
		return out
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, int64(x.maxBody)))
	out.ResponseBody = string(respBody)
	out.Err = &TransientDeliveryError{StatusCode: code}
	return out
}
