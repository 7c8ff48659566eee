// Package memory provides an in-memory Store implementation for tests and
// single-process deployments.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	beaconstore "github.com/xraph/beacon/store"
	"github.com/xraph/beacon/subscription"
)

// compile-time interface check.
var _ beaconstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. All reads return
// copies so callers may mutate them freely.
type Store struct {
	mu sync.RWMutex

	subscriptions map[string]*subscription.Subscription // keyed by ID string
	events        map[string]*event.Event               // keyed by ID string
	attempts      map[string]*delivery.Attempt          // keyed by ID string
	chains        map[string][]string                   // delivery ID → attempt IDs in order
	pairs         map[string]string                     // event|subscription → latest delivery ID

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Subscription),
		events:        make(map[string]*event.Event),
		attempts:      make(map[string]*delivery.Attempt),
		chains:        make(map[string][]string),
		pairs:         make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return beacon.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, beacon.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// UpdateSubscription writes the owner-editable fields of sub. The threshold
// check and the write share the store lock.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return beacon.ErrSubscriptionNotFound
	}

	if cur.IsActive && cur.ConsecutiveFailures >= sub.AutoDisableThreshold {
		return subscription.ErrThresholdNotAboveFailures
	}

	next := copySubscription(sub)
	next.Secret = cur.Secret
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	next.IsActive = cur.IsActive
	next.ConsecutiveFailures = cur.ConsecutiveFailures
	next.DisabledReason = cur.DisabledReason
	next.DisabledAt = cur.DisabledAt
	s.subscriptions[sub.ID.String()] = next
	return nil
}

// DeleteSubscription removes a subscription and its delivery attempts.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subID.String()
	if _, ok := s.subscriptions[key]; !ok {
		return beacon.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, key)

	for attKey, att := range s.attempts {
		if att.SubscriptionID.String() != key {
			continue
		}
		delete(s.attempts, attKey)
		delete(s.chains, att.DeliveryID.String())
		delete(s.pairs, pairKey(att.EventID, att.SubscriptionID))
	}
	return nil
}

// ListSubscriptions returns subscriptions, oldest first.
func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if opts.Active != nil && sub.IsActive != *opts.Active {
			continue
		}
		if opts.EventType != "" && !sub.Subscribes(opts.EventType) {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sortOldestFirst(result, func(sub *subscription.Subscription) (time.Time, string) {
		return sub.CreatedAt, sub.ID.String()
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// FindMatching returns the active subscriptions listing eventType.
func (s *Store) FindMatching(_ context.Context, eventType string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.IsActive && sub.Subscribes(eventType) {
			result = append(result, copySubscription(sub))
		}
	}
	sortOldestFirst(result, func(sub *subscription.Subscription) (time.Time, string) {
		return sub.CreatedAt, sub.ID.String()
	})
	return result, nil
}

// SetActive activates or deactivates a subscription.
func (s *Store) SetActive(_ context.Context, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return beacon.ErrSubscriptionNotFound
	}
	sub.IsActive = active
	if active {
		sub.ConsecutiveFailures = 0
		sub.DisabledReason = ""
		sub.DisabledAt = nil
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// RotateSecret replaces the signing secret.
func (s *Store) RotateSecret(_ context.Context, subID id.ID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return beacon.ErrSubscriptionNotFound
	}
	sub.Secret = secret
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetFailures sets ConsecutiveFailures to zero.
func (s *Store) ResetFailures(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return beacon.ErrSubscriptionNotFound
	}
	sub.ConsecutiveFailures = 0
	return nil
}

// IncrementFailures increments ConsecutiveFailures under the store lock and
// disables the subscription when it reaches the threshold.
func (s *Store) IncrementFailures(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, beacon.ErrSubscriptionNotFound
	}
	sub.ConsecutiveFailures++
	if sub.IsActive && sub.ShouldDisable(sub.ConsecutiveFailures) {
		now := time.Now().UTC()
		sub.IsActive = false
		sub.DisabledReason = subscription.AutoDisableReason(sub.ConsecutiveFailures)
		sub.DisabledAt = &now
	}
	sub.UpdatedAt = time.Now().UTC()
	return copySubscription(sub), nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event. Returns ErrDuplicateEvent on conflict.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[evt.ID.String()]; ok {
		return beacon.ErrDuplicateEvent
	}
	cp := *evt
	cp.Payload = slices.Clone(evt.Payload)
	s.events[evt.ID.String()] = &cp
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, beacon.ErrEventNotFound
	}
	cp := *evt
	return &cp, nil
}

// ListEvents returns events, newest first.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateAttempt persists a new attempt.
func (s *Store) CreateAttempt(_ context.Context, att *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := att.ID.String()
	s.attempts[key] = copyAttempt(att)
	chain := att.DeliveryID.String()
	s.chains[chain] = append(s.chains[chain], key)
	s.pairs[pairKey(att.EventID, att.SubscriptionID)] = chain
	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(_ context.Context, attID id.ID) (*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attempts[attID.String()]
	if !ok {
		return nil, beacon.ErrAttemptNotFound
	}
	return copyAttempt(att), nil
}

// ClaimAttempt moves a pending or retrying attempt to sending.
func (s *Store) ClaimAttempt(_ context.Context, attID id.ID, at time.Time) (*delivery.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attempts[attID.String()]
	if !ok {
		return nil, beacon.ErrAttemptNotFound
	}
	if !att.Status.Claimable() {
		return nil, beacon.ErrAttemptNotClaimable
	}
	at = at.UTC()
	att.Status = delivery.StatusSending
	att.ExecutedAt = &at
	att.NextRetryAt = nil
	att.UpdatedAt = at
	return copyAttempt(att), nil
}

// FinishAttempt moves a sending attempt to a terminal status.
func (s *Store) FinishAttempt(_ context.Context, attID id.ID, res delivery.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attempts[attID.String()]
	if !ok {
		return beacon.ErrAttemptNotFound
	}
	if att.Status != delivery.StatusSending {
		return beacon.ErrAttemptFinalized
	}
	att.Status = res.Status
	att.ResponseCode = res.ResponseCode
	att.ResponseBody = res.ResponseBody
	att.Duration = res.Duration
	att.ErrorMessage = res.ErrorMessage
	att.UpdatedAt = time.Now().UTC()
	return nil
}

// CancelAttempt moves a pending or retrying attempt to failed.
func (s *Store) CancelAttempt(_ context.Context, attID id.ID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attempts[attID.String()]
	if !ok {
		return beacon.ErrAttemptNotFound
	}
	if !att.Status.Claimable() {
		return beacon.ErrAttemptNotClaimable
	}
	att.Status = delivery.StatusFailed
	att.ErrorMessage = msg
	att.NextRetryAt = nil
	att.UpdatedAt = time.Now().UTC()
	return nil
}

// ListAttempts returns attempts matching opts, newest first.
func (s *Store) ListAttempts(_ context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Attempt, 0, len(s.attempts))
	for _, att := range s.attempts {
		if !matchAttemptOpts(att, opts) {
			continue
		}
		result = append(result, copyAttempt(att))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ListChain returns every attempt of a chain in attempt order.
func (s *Store) ListChain(_ context.Context, deliveryID id.ID) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.chains[deliveryID.String()]
	result := make([]*delivery.Attempt, 0, len(keys))
	for _, k := range keys {
		if att, ok := s.attempts[k]; ok {
			result = append(result, copyAttempt(att))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result, nil
}

// LatestForPair returns the last attempt of the newest chain for an
// (event, subscription) pair.
func (s *Store) LatestForPair(_ context.Context, evtID, subID id.ID) (*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.pairs[pairKey(evtID, subID)]
	if !ok {
		return nil, beacon.ErrAttemptNotFound
	}
	var latest *delivery.Attempt
	for _, k := range s.chains[chain] {
		att, ok := s.attempts[k]
		if !ok {
			continue
		}
		if latest == nil || att.AttemptNumber > latest.AttemptNumber {
			latest = att
		}
	}
	if latest == nil {
		return nil, beacon.ErrAttemptNotFound
	}
	return copyAttempt(latest), nil
}

// ListDue returns pending or retrying attempts due at or before before.
func (s *Store) ListDue(_ context.Context, before time.Time, limit int) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Attempt
	for _, att := range s.attempts {
		if !att.Status.Claimable() || att.ScheduledAt.After(before) {
			continue
		}
		result = append(result, copyAttempt(att))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// CountByStatus returns the number of attempts per status.
func (s *Store) CountByStatus(_ context.Context) (delivery.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(delivery.Stats)
	for _, att := range s.attempts {
		stats[att.Status]++
	}
	return stats, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func pairKey(evtID, subID id.ID) string {
	return evtID.String() + "|" + subID.String()
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.EventTypes = slices.Clone(sub.EventTypes)
	cp.Headers = maps.Clone(sub.Headers)
	cp.Metadata = maps.Clone(sub.Metadata)
	if sub.DisabledAt != nil {
		t := *sub.DisabledAt
		cp.DisabledAt = &t
	}
	return &cp
}

func copyAttempt(att *delivery.Attempt) *delivery.Attempt {
	cp := *att
	if att.ExecutedAt != nil {
		t := *att.ExecutedAt
		cp.ExecutedAt = &t
	}
	if att.NextRetryAt != nil {
		t := *att.NextRetryAt
		cp.NextRetryAt = &t
	}
	if att.ResponseCode != nil {
		c := *att.ResponseCode
		cp.ResponseCode = &c
	}
	return &cp
}

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func matchAttemptOpts(att *delivery.Attempt, opts delivery.ListOpts) bool {
	if !opts.SubscriptionID.IsNil() && att.SubscriptionID.String() != opts.SubscriptionID.String() {
		return false
	}
	if !opts.EventID.IsNil() && att.EventID.String() != opts.EventID.String() {
		return false
	}
	if !opts.DeliveryID.IsNil() && att.DeliveryID.String() != opts.DeliveryID.String() {
		return false
	}
	if opts.Status != "" && att.Status != opts.Status {
		return false
	}
	return true
}

func sortOldestFirst[T any](items []*T, key func(*T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, si := key(items[i])
		tj, sj := key(items[j])
		if ti.Equal(tj) {
			return si < sj
		}
		return ti.Before(tj)
	})
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
