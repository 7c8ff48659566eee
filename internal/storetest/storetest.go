// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/subscription"
)

// Factory returns an empty, migrated store.
type Factory func(t *testing.T) store.Store

// Run runs the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"SubscriptionCRUD", testSubscriptionCRUD},
		{"UpdateKeepsHealth", testUpdateKeepsHealth},
		{"UpdateKeepsSecret", testUpdateKeepsSecret},
		{"UpdateThresholdGuard", testUpdateThresholdGuard},
		{"FindMatching", testFindMatching},
		{"SetActiveResetsHealth", testSetActiveResetsHealth},
		{"IncrementFailuresDisables", testIncrementFailuresDisables},
		{"IncrementFailuresConcurrent", testIncrementFailuresConcurrent},
		{"Events", testEvents},
		{"AttemptLifecycle", testAttemptLifecycle},
		{"CancelAttempt", testCancelAttempt},
		{"ChainsAndPairs", testChainsAndPairs},
		{"ListDueAndStats", testListDueAndStats},
		{"DeleteCascades", testDeleteCascades},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func ctx() context.Context { return context.Background() }

// NewSubscription returns a valid active subscription for eventTypes.
func NewSubscription(eventTypes ...string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:     entity.New(),
		Policy:     subscription.DefaultPolicy(),
		ID:         id.NewSubscriptionID(),
		TargetURL:  "https://example.com/hook",
		Secret:     "whsec_storetest",
		EventTypes: eventTypes,
		Headers:    map[string]string{"X-Tenant": "acme"},
		IsActive:   true,
		Metadata:   map[string]string{"owner": "tests"},
	}
}

// NewEvent returns a valid event of eventType.
func NewEvent(eventType string) *event.Event {
	now := time.Now().UTC()
	return &event.Event{
		Entity:     entity.New(),
		ID:         id.NewEventID(),
		Type:       eventType,
		Payload:    json.RawMessage(`{"deal_id":"d1"}`),
		OccurredAt: now,
	}
}

func mustCreateSub(t *testing.T, s store.Store, sub *subscription.Subscription) {
	t.Helper()
	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}
}

func mustCreateAttempt(t *testing.T, s store.Store, att *delivery.Attempt) {
	t.Helper()
	if err := s.CreateAttempt(ctx(), att); err != nil {
		t.Fatal(err)
	}
}

func testSubscriptionCRUD(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won", "deal.lost")
	sub.RateLimit = 5
	mustCreateSub(t, s, sub)

	got, err := s.GetSubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TargetURL != sub.TargetURL || got.Secret != sub.Secret {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.EventTypes) != 2 || got.Headers["X-Tenant"] != "acme" || got.Metadata["owner"] != "tests" {
		t.Fatalf("collections not persisted: %+v", got)
	}
	if got.Policy != sub.Policy || got.RateLimit != 5 || !got.IsActive {
		t.Fatalf("policy not persisted: %+v", got)
	}

	if err := s.RotateSecret(ctx(), sub.ID, "whsec_rotated"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSubscription(ctx(), sub.ID)
	if got.Secret != "whsec_rotated" {
		t.Fatalf("secret = %q", got.Secret)
	}

	list, err := s.ListSubscriptions(ctx(), subscription.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(list))
	}

	if err := s.DeleteSubscription(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSubscription(ctx(), sub.ID); !errors.Is(err, beacon.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.DeleteSubscription(ctx(), sub.ID); !errors.Is(err, beacon.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound on second delete, got %v", err)
	}
}

func testUpdateKeepsHealth(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)

	if _, err := s.IncrementFailures(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	// A stale copy must not overwrite health fields.
	sub.TargetURL = "https://example.org/new"
	sub.EventTypes = []string{"record.created"}
	sub.ConsecutiveFailures = 0
	if err := s.UpdateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.TargetURL != "https://example.org/new" || !got.Subscribes("record.created") {
		t.Fatalf("owner fields not updated: %+v", got)
	}
	if got.ConsecutiveFailures != 1 {
		t.Fatalf("health overwritten: failures = %d", got.ConsecutiveFailures)
	}

	missing := NewSubscription("x.y")
	if err := s.UpdateSubscription(ctx(), missing); !errors.Is(err, beacon.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func testUpdateKeepsSecret(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)

	sub.Secret = "whsec_overwritten"
	sub.Description = "renamed"
	if err := s.UpdateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.Secret != "whsec_storetest" {
		t.Fatalf("secret = %q, want the stored one", got.Secret)
	}
	if got.Description != "renamed" {
		t.Fatalf("description = %q", got.Description)
	}
}

func testUpdateThresholdGuard(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)

	for range 3 {
		if _, err := s.IncrementFailures(ctx(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}

	sub.AutoDisableThreshold = 3
	sub.Description = "lowered"
	if err := s.UpdateSubscription(ctx(), sub); !errors.Is(err, subscription.ErrThresholdNotAboveFailures) {
		t.Fatalf("expected ErrThresholdNotAboveFailures, got %v", err)
	}
	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.AutoDisableThreshold != subscription.DefaultPolicy().AutoDisableThreshold || got.Description == "lowered" {
		t.Fatalf("rejected update was written: %+v", got)
	}

	sub.AutoDisableThreshold = 4
	if err := s.UpdateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	if err := s.SetActive(ctx(), sub.ID, false); err != nil {
		t.Fatal(err)
	}
	sub.AutoDisableThreshold = 1
	if err := s.UpdateSubscription(ctx(), sub); err != nil {
		t.Fatalf("inactive subscription should accept threshold: %v", err)
	}
}

func testFindMatching(t *testing.T, s store.Store) {
	a := NewSubscription("deal.won")
	b := NewSubscription("deal.won", "deal.lost")
	c := NewSubscription("deal.lost")
	d := NewSubscription("deal.won")
	for _, sub := range []*subscription.Subscription{a, b, c, d} {
		mustCreateSub(t, s, sub)
	}
	if err := s.SetActive(ctx(), d.ID, false); err != nil {
		t.Fatal(err)
	}

	subs, err := s.FindMatching(ctx(), "deal.won")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, sub := range subs {
		got[sub.ID.String()] = true
	}
	if len(got) != 2 || !got[a.ID.String()] || !got[b.ID.String()] {
		t.Fatalf("unexpected matches %v", got)
	}

	for _, eventType := range []string{"deal", "deal.w", "deal.won.extra", "*"} {
		subs, _ := s.FindMatching(ctx(), eventType)
		if len(subs) != 0 {
			t.Fatalf("%q matched %d subscriptions", eventType, len(subs))
		}
	}

	active := true
	list, _ := s.ListSubscriptions(ctx(), subscription.ListOpts{Active: &active, EventType: "deal.lost"})
	if len(list) != 2 {
		t.Fatalf("expected 2 active deal.lost subscriptions, got %d", len(list))
	}
}

func testSetActiveResetsHealth(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	sub.AutoDisableThreshold = 2
	mustCreateSub(t, s, sub)

	for range 2 {
		if _, err := s.IncrementFailures(ctx(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.SetActive(ctx(), sub.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSubscription(ctx(), sub.ID)
	if !got.IsActive || got.ConsecutiveFailures != 0 || got.DisabledReason != "" || got.DisabledAt != nil {
		t.Fatalf("activation did not reset health: %+v", got)
	}

	subs, _ := s.FindMatching(ctx(), "deal.won")
	if len(subs) != 1 {
		t.Fatalf("re-activated subscription not matched, got %d", len(subs))
	}

	if err := s.SetActive(ctx(), id.NewSubscriptionID(), true); !errors.Is(err, beacon.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func testIncrementFailuresDisables(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	sub.AutoDisableThreshold = 3
	mustCreateSub(t, s, sub)

	for i := 1; i <= 2; i++ {
		got, err := s.IncrementFailures(ctx(), sub.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ConsecutiveFailures != i || !got.IsActive {
			t.Fatalf("after %d failures: %+v", i, got)
		}
	}

	got, err := s.IncrementFailures(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatal("expected disabled at threshold")
	}
	if got.DisabledReason != subscription.AutoDisableReason(3) {
		t.Fatalf("reason = %q", got.DisabledReason)
	}
	if got.DisabledAt == nil {
		t.Fatal("expected DisabledAt")
	}

	subs, _ := s.FindMatching(ctx(), "deal.won")
	if len(subs) != 0 {
		t.Fatal("disabled subscription still matched")
	}

	if err := s.ResetFailures(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSubscription(ctx(), sub.ID)
	if got.ConsecutiveFailures != 0 || got.IsActive {
		t.Fatalf("reset should only clear the counter: %+v", got)
	}

	if _, err := s.IncrementFailures(ctx(), id.NewSubscriptionID()); !errors.Is(err, beacon.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func testIncrementFailuresConcurrent(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	sub.AutoDisableThreshold = 25
	mustCreateSub(t, s, sub)

	const n = 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.IncrementFailures(ctx(), sub.ID)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[got.ConsecutiveFailures] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d distinct counts, got %d", n, len(seen))
	}
	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.ConsecutiveFailures != n || got.IsActive {
		t.Fatalf("final state %+v", got)
	}
}

func testEvents(t *testing.T, s store.Store) {
	first := NewEvent("deal.won")
	if err := s.CreateEvent(ctx(), first); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx(), first); !errors.Is(err, beacon.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	second := NewEvent("deal.lost")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	if err := s.CreateEvent(ctx(), second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEvent(ctx(), first.ID)
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["deal_id"] != "d1" {
		t.Fatalf("payload not persisted: %s", got.Payload)
	}

	if _, err := s.GetEvent(ctx(), id.NewEventID()); !errors.Is(err, beacon.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	list, err := s.ListEvents(ctx(), event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID.String() != second.ID.String() {
		t.Fatalf("expected newest first, got %d events", len(list))
	}

	list, _ = s.ListEvents(ctx(), event.ListOpts{Type: "deal.won"})
	if len(list) != 1 {
		t.Fatalf("expected 1 deal.won event, got %d", len(list))
	}
}

func testAttemptLifecycle(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)
	evt := NewEvent("deal.won")

	att := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	mustCreateAttempt(t, s, att)

	claimed, err := s.ClaimAttempt(ctx(), att.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if claimed.Status != delivery.StatusSending || claimed.ExecutedAt == nil {
		t.Fatalf("claim result %+v", claimed)
	}

	if _, err := s.ClaimAttempt(ctx(), att.ID, time.Now()); !errors.Is(err, beacon.ErrAttemptNotClaimable) {
		t.Fatalf("expected ErrAttemptNotClaimable, got %v", err)
	}

	code := 500
	err = s.FinishAttempt(ctx(), att.ID, delivery.Result{
		Status:       delivery.StatusFailed,
		ResponseCode: &code,
		ResponseBody: "boom",
		Duration:     150 * time.Millisecond,
		ErrorMessage: "transient delivery error: HTTP 500",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAttempt(ctx(), att.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusFailed || got.ResponseCode == nil || *got.ResponseCode != 500 {
		t.Fatalf("finish not persisted: %+v", got)
	}
	if got.ResponseBody != "boom" || got.Duration != 150*time.Millisecond || got.NextRetryAt != nil {
		t.Fatalf("finish fields: %+v", got)
	}

	if err := s.FinishAttempt(ctx(), att.ID, delivery.Result{Status: delivery.StatusSuccess}); !errors.Is(err, beacon.ErrAttemptFinalized) {
		t.Fatalf("expected ErrAttemptFinalized, got %v", err)
	}

	if _, err := s.GetAttempt(ctx(), id.NewAttemptID()); !errors.Is(err, beacon.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func testCancelAttempt(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)
	evt := NewEvent("deal.won")

	first := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	mustCreateAttempt(t, s, first)
	retry := first.Next(time.Now().Add(time.Minute))
	mustCreateAttempt(t, s, retry)

	if err := s.CancelAttempt(ctx(), retry.ID, delivery.CancelledMessage); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetAttempt(ctx(), retry.ID)
	if got.Status != delivery.StatusFailed || got.ErrorMessage != delivery.CancelledMessage || got.NextRetryAt != nil {
		t.Fatalf("cancel result %+v", got)
	}

	if err := s.CancelAttempt(ctx(), retry.ID, delivery.CancelledMessage); !errors.Is(err, beacon.ErrAttemptNotClaimable) {
		t.Fatalf("expected ErrAttemptNotClaimable, got %v", err)
	}
}

func testChainsAndPairs(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)
	evt := NewEvent("deal.won")

	if _, err := s.LatestForPair(ctx(), evt.ID, sub.ID); !errors.Is(err, beacon.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}

	first := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	mustCreateAttempt(t, s, first)
	second := first.Next(time.Now().Add(time.Minute))
	mustCreateAttempt(t, s, second)

	// A second event to the same subscription has its own chain.
	other := delivery.NewAttempt(sub.ID, NewEvent("deal.won").ID, evt.Type)
	mustCreateAttempt(t, s, other)

	chain, err := s.ListChain(ctx(), first.DeliveryID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || chain[0].AttemptNumber != 1 || chain[1].AttemptNumber != 2 {
		t.Fatalf("unexpected chain %+v", chain)
	}

	latest, err := s.LatestForPair(ctx(), evt.ID, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID.String() != second.ID.String() {
		t.Fatalf("latest = attempt %d", latest.AttemptNumber)
	}

	bySub, _ := s.ListAttempts(ctx(), delivery.ListOpts{SubscriptionID: sub.ID})
	if len(bySub) != 3 {
		t.Fatalf("expected 3 attempts for subscription, got %d", len(bySub))
	}
	byChain, _ := s.ListAttempts(ctx(), delivery.ListOpts{DeliveryID: first.DeliveryID, Status: delivery.StatusRetrying})
	if len(byChain) != 1 {
		t.Fatalf("expected 1 retrying attempt in chain, got %d", len(byChain))
	}
	page, _ := s.ListAttempts(ctx(), delivery.ListOpts{Limit: 2})
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
}

func testListDueAndStats(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)
	evt := NewEvent("deal.won")

	due := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	due.ScheduledAt = time.Now().UTC().Add(-time.Minute)
	mustCreateAttempt(t, s, due)

	future := delivery.NewAttempt(sub.ID, NewEvent("deal.won").ID, evt.Type).Next(time.Now().Add(time.Hour))
	mustCreateAttempt(t, s, future)

	done := delivery.NewAttempt(sub.ID, NewEvent("deal.won").ID, evt.Type)
	done.ScheduledAt = time.Now().UTC().Add(-time.Hour)
	mustCreateAttempt(t, s, done)
	if _, err := s.ClaimAttempt(ctx(), done.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishAttempt(ctx(), done.ID, delivery.Result{Status: delivery.StatusSuccess}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListDue(ctx(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID.String() != due.ID.String() {
		t.Fatalf("expected only the due attempt, got %d", len(list))
	}

	stats, err := s.CountByStatus(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if stats[delivery.StatusPending] != 1 || stats[delivery.StatusRetrying] != 1 || stats[delivery.StatusSuccess] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func testDeleteCascades(t *testing.T, s store.Store) {
	sub := NewSubscription("deal.won")
	keep := NewSubscription("deal.won")
	mustCreateSub(t, s, sub)
	mustCreateSub(t, s, keep)
	evt := NewEvent("deal.won")

	gone := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	mustCreateAttempt(t, s, gone)
	kept := delivery.NewAttempt(keep.ID, evt.ID, evt.Type)
	mustCreateAttempt(t, s, kept)

	if err := s.DeleteSubscription(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetAttempt(ctx(), gone.ID); !errors.Is(err, beacon.ErrAttemptNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
	if _, err := s.LatestForPair(ctx(), evt.ID, sub.ID); !errors.Is(err, beacon.ErrAttemptNotFound) {
		t.Fatalf("expected pair removed, got %v", err)
	}
	if _, err := s.GetAttempt(ctx(), kept.ID); err != nil {
		t.Fatalf("other subscription's attempt removed: %v", err)
	}

	list, _ := s.ListDue(ctx(), time.Now().Add(time.Minute), 10)
	for _, att := range list {
		if att.SubscriptionID.String() == sub.ID.String() {
			t.Fatal("deleted subscription attempt still due")
		}
	}
}
