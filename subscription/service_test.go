package subscription_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/store/memory"
	"github.com/xraph/beacon/subscription"
)

func ctx() context.Context { return context.Background() }

func newService() (*subscription.Service, *memory.Store) {
	s := memory.New()
	return subscription.NewService(s, subscription.DefaultPolicy(), nil), s
}

func intPtr(v int) *int { return &v }

func TestSubscriptionServiceCreate(t *testing.T) {
	svc, _ := newService()

	sub, err := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://example.com/webhook",
		EventTypes: []string{"deal.won", "deal.won", "deal.lost"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if sub.ID.Prefix() != id.PrefixSubscription {
		t.Fatalf("unexpected ID %q", sub.ID)
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Fatalf("expected auto-generated secret, got %q", sub.Secret)
	}
	if !sub.IsActive {
		t.Fatal("expected active by default")
	}
	if len(sub.EventTypes) != 2 {
		t.Fatalf("expected duplicate event types removed, got %v", sub.EventTypes)
	}
	if sub.Policy != subscription.DefaultPolicy() {
		t.Fatalf("expected default policy, got %+v", sub.Policy)
	}
}

func TestSubscriptionServiceCreateValidation(t *testing.T) {
	svc, _ := newService()

	tests := []struct {
		name  string
		in    subscription.Input
		field string
	}{
		{"missing url", subscription.Input{EventTypes: []string{"a.b"}}, "target_url"},
		{"relative url", subscription.Input{TargetURL: "/hook", EventTypes: []string{"a.b"}}, "target_url"},
		{"ftp url", subscription.Input{TargetURL: "ftp://example.com", EventTypes: []string{"a.b"}}, "target_url"},
		{"no event types", subscription.Input{TargetURL: "https://example.com"}, "event_types"},
		{"wildcard", subscription.Input{TargetURL: "https://example.com", EventTypes: []string{"deal.*"}}, "event_types"},
		{"blank secret", subscription.Input{TargetURL: "https://example.com", EventTypes: []string{"a.b"}, Secret: "   "}, "secret"},
		{"negative retries", subscription.Input{TargetURL: "https://example.com", EventTypes: []string{"a.b"}, MaxRetries: intPtr(-1)}, "max_retries"},
		{"zero threshold", subscription.Input{TargetURL: "https://example.com", EventTypes: []string{"a.b"}, AutoDisableThreshold: intPtr(0)}, "auto_disable_threshold"},
		{"reserved header", subscription.Input{
			TargetURL:  "https://example.com",
			EventTypes: []string{"a.b"},
			Headers:    map[string]string{"x-webhook-signature": "forged"},
		}, "headers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx(), tt.in)
			var cfgErr *subscription.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Fatalf("field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestSubscriptionServiceGetUpdateDelete(t *testing.T) {
	svc, _ := newService()

	sub, err := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://example.com/webhook",
		EventTypes: []string{"record.created"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TargetURL != "https://example.com/webhook" {
		t.Fatalf("got URL %q", got.TargetURL)
	}

	delay := 5 * time.Second
	updated, err := svc.Update(ctx(), sub.ID, subscription.Patch{
		Description:    "Updated description",
		BaseRetryDelay: &delay,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Description != "Updated description" {
		t.Fatalf("expected updated description, got %q", updated.Description)
	}
	if updated.BaseRetryDelay != delay {
		t.Fatalf("base retry delay = %v", updated.BaseRetryDelay)
	}
	if updated.Secret != sub.Secret {
		t.Fatal("secret changed by unrelated update")
	}

	if err := svc.Delete(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	_, err = svc.Get(ctx(), sub.ID)
	if !errors.Is(err, beacon.ErrSubscriptionNotFound) {
		t.Fatalf("expected deleted, got %v", err)
	}
}

func TestSubscriptionServiceUpdateThresholdBelowFailures(t *testing.T) {
	svc, store := newService()

	sub, _ := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://example.com/webhook",
		EventTypes: []string{"a.b"},
	})
	for range 3 {
		if _, err := store.IncrementFailures(ctx(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}

	_, err := svc.Update(ctx(), sub.ID, subscription.Patch{AutoDisableThreshold: intPtr(3)})
	var cfgErr *subscription.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}

	if _, err := svc.Update(ctx(), sub.ID, subscription.Patch{AutoDisableThreshold: intPtr(4)}); err != nil {
		t.Fatal(err)
	}
}

func TestSubscriptionServiceUpdateKeepsSecret(t *testing.T) {
	svc, store := newService()

	sub, err := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://example.com/webhook",
		Secret:     "original",
		EventTypes: []string{"a.b"},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Update(ctx(), sub.ID, subscription.Patch{
		TargetURL:   "https://example.com/moved",
		Description: "moved",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Secret != "original" {
		t.Fatalf("secret after Update = %q", updated.Secret)
	}

	// A stale copy carrying another secret must not overwrite the stored one.
	stale := *updated
	stale.Secret = "hijacked"
	if err := store.UpdateSubscription(ctx(), &stale); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Secret != "original" {
		t.Fatalf("secret after store update = %q", got.Secret)
	}
	if got.TargetURL != "https://example.com/moved" {
		t.Fatalf("target URL = %q", got.TargetURL)
	}
}

func TestSubscriptionServiceUpdateThresholdRace(t *testing.T) {
	svc, store := newService()

	sub, _ := svc.Create(ctx(), subscription.Input{
		TargetURL:            "https://example.com/webhook",
		EventTypes:           []string{"a.b"},
		AutoDisableThreshold: intPtr(10),
	})
	for range 2 {
		if _, err := store.IncrementFailures(ctx(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}

	// The service read failures=2 and accepted threshold 3; a failure lands
	// before the write.
	stale, err := svc.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.IncrementFailures(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	stale.AutoDisableThreshold = 3
	err = store.UpdateSubscription(ctx(), stale)
	if !errors.Is(err, subscription.ErrThresholdNotAboveFailures) {
		t.Fatalf("expected ErrThresholdNotAboveFailures, got %v", err)
	}

	got, _ := svc.Get(ctx(), sub.ID)
	if got.AutoDisableThreshold != 10 || !got.IsActive {
		t.Fatalf("threshold=%d active=%v, want 10 and active", got.AutoDisableThreshold, got.IsActive)
	}

	// Inactive subscriptions accept any valid threshold.
	if _, err := svc.Deactivate(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	stale.AutoDisableThreshold = 2
	if err := store.UpdateSubscription(ctx(), stale); err != nil {
		t.Fatal(err)
	}
}

func TestSubscriptionServiceFindMatching(t *testing.T) {
	svc, _ := newService()

	a, _ := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://a.example.com",
		EventTypes: []string{"deal.won"},
	})
	b, _ := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://b.example.com",
		EventTypes: []string{"deal.won", "deal.lost"},
	})
	_, _ = svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://c.example.com",
		EventTypes: []string{"deal.lost"},
	})

	if _, err := svc.Deactivate(ctx(), b.ID); err != nil {
		t.Fatal(err)
	}

	subs, err := svc.FindMatching(ctx(), "deal.won")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ID.String() != a.ID.String() {
		t.Fatalf("expected only %s, got %d subscriptions", a.ID, len(subs))
	}

	// Exact match only.
	subs, _ = svc.FindMatching(ctx(), "deal")
	if len(subs) != 0 {
		t.Fatalf("expected no prefix match, got %d", len(subs))
	}
}

func TestSubscriptionServiceActivateResetsHealth(t *testing.T) {
	svc, store := newService()

	sub, _ := svc.Create(ctx(), subscription.Input{
		TargetURL:            "https://example.com/webhook",
		EventTypes:           []string{"a.b"},
		AutoDisableThreshold: intPtr(2),
	})

	for range 2 {
		if _, err := store.IncrementFailures(ctx(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := svc.Get(ctx(), sub.ID)
	if got.IsActive {
		t.Fatal("expected auto-disabled")
	}
	if got.DisabledReason != subscription.AutoDisableReason(2) {
		t.Fatalf("disabled reason = %q", got.DisabledReason)
	}

	got, err := svc.Activate(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsActive || got.ConsecutiveFailures != 0 || got.DisabledReason != "" || got.DisabledAt != nil {
		t.Fatalf("activation did not reset health: %+v", got)
	}
}

func TestSubscriptionServiceList(t *testing.T) {
	svc, _ := newService()

	for range 3 {
		_, _ = svc.Create(ctx(), subscription.Input{
			TargetURL:  "https://example.com/webhook",
			EventTypes: []string{"a.b"},
		})
	}
	other, _ := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://example.com/webhook",
		EventTypes: []string{"c.d"},
	})
	_, _ = svc.Deactivate(ctx(), other.ID)

	list, err := svc.List(ctx(), subscription.ListOpts{EventType: "a.b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}

	inactive := false
	list, _ = svc.List(ctx(), subscription.ListOpts{Active: &inactive})
	if len(list) != 1 {
		t.Fatalf("expected 1 inactive, got %d", len(list))
	}

	list, _ = svc.List(ctx(), subscription.ListOpts{Limit: 2})
	if len(list) != 2 {
		t.Fatalf("expected limit 2, got %d", len(list))
	}
}

func TestSubscriptionServiceRotateSecret(t *testing.T) {
	svc, _ := newService()

	sub, _ := svc.Create(ctx(), subscription.Input{
		TargetURL:  "https://example.com/webhook",
		EventTypes: []string{"a.b"},
	})

	oldSecret := sub.Secret
	newSecret, err := svc.RotateSecret(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if newSecret == oldSecret {
		t.Fatal("expected different secret after rotation")
	}

	got, _ := svc.Get(ctx(), sub.ID)
	if got.Secret != newSecret {
		t.Fatal("secret not persisted after rotation")
	}
}

func TestSubscriptionServiceRotateSecretNotFound(t *testing.T) {
	svc, _ := newService()

	_, err := svc.RotateSecret(ctx(), id.NewSubscriptionID())
	if !errors.Is(err, beacon.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
