package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
	"github.com/xraph/beacon/subscription"
)

// subscriptionModel is the JSON representation stored in Redis. Health
// fields live in the subscription's health hash.
type subscriptionModel struct {
	ID                   string            `json:"id"`
	TargetURL            string            `json:"target_url"`
	Secret               string            `json:"secret"`
	EventTypes           []string          `json:"event_types"`
	Headers              map[string]string `json:"headers,omitempty"`
	MaxRetries           int               `json:"max_retries"`
	BaseRetryDelay       string            `json:"base_retry_delay"`
	BackoffMultiplier    float64           `json:"backoff_multiplier"`
	AutoDisableThreshold int               `json:"auto_disable_threshold"`
	RateLimit            int               `json:"rate_limit"`
	Description          string            `json:"description,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                   sub.ID.String(),
		TargetURL:            sub.TargetURL,
		Secret:               sub.Secret,
		EventTypes:           sub.EventTypes,
		Headers:              sub.Headers,
		MaxRetries:           sub.MaxRetries,
		BaseRetryDelay:       sub.BaseRetryDelay.String(),
		BackoffMultiplier:    sub.BackoffMultiplier,
		AutoDisableThreshold: sub.AutoDisableThreshold,
		RateLimit:            sub.RateLimit,
		Description:          sub.Description,
		Metadata:             sub.Metadata,
		CreatedAt:            sub.CreatedAt,
		UpdatedAt:            sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel, h map[string]string) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	delay, err := time.ParseDuration(m.BaseRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("parse base retry delay %q: %w", m.BaseRetryDelay, err)
	}

	sub := &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Policy: subscription.Policy{
			MaxRetries:           m.MaxRetries,
			BaseRetryDelay:       delay,
			BackoffMultiplier:    m.BackoffMultiplier,
			AutoDisableThreshold: m.AutoDisableThreshold,
		},
		ID:          subID,
		TargetURL:   m.TargetURL,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Headers:     m.Headers,
		RateLimit:   m.RateLimit,
		Description: m.Description,
		Metadata:    m.Metadata,
	}
	if err := applyHealth(sub, h["active"], h["failures"], h["reason"], h["disabled_at"]); err != nil {
		return nil, err
	}
	return sub, nil
}

func applyHealth(sub *subscription.Subscription, active, failures, reason, disabledAt string) error {
	sub.IsActive = active == "1"
	if failures != "" {
		n, err := strconv.Atoi(failures)
		if err != nil {
			return fmt.Errorf("parse failures %q: %w", failures, err)
		}
		sub.ConsecutiveFailures = n
	}
	sub.DisabledReason = reason
	if disabledAt != "" {
		t, err := time.Parse(time.RFC3339Nano, disabledAt)
		if err != nil {
			return fmt.Errorf("parse disabled_at %q: %w", disabledAt, err)
		}
		sub.DisabledAt = &t
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// incrementFailuresScript atomically bumps the failure counter and
// disables the subscription when it reaches its threshold.
// KEYS[1] = health hash
// ARGV[1] = reason format, ARGV[2] = now (RFC3339Nano)
var incrementFailuresScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
local n = redis.call('HINCRBY', KEYS[1], 'failures', 1)
local threshold = tonumber(redis.call('HGET', KEYS[1], 'threshold') or '0')
if redis.call('HGET', KEYS[1], 'active') == '1' and threshold > 0 and n >= threshold then
    redis.call('HSET', KEYS[1], 'active', '0', 'reason', string.format(ARGV[1], n), 'disabled_at', ARGV[2])
end
return {n, redis.call('HGET', KEYS[1], 'active'), redis.call('HGET', KEYS[1], 'reason') or '', redis.call('HGET', KEYS[1], 'disabled_at') or ''}
`)

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	raw, err := marshal(m)
	if err != nil {
		return err
	}

	disabledAt := ""
	if sub.DisabledAt != nil {
		disabledAt = sub.DisabledAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, entityKey(prefixSubscription, m.ID), raw, 0)
		pipe.HSet(ctx, entityKey(prefixSubHealth, m.ID),
			"active", boolFlag(sub.IsActive),
			"failures", sub.ConsecutiveFailures,
			"threshold", sub.AutoDisableThreshold,
			"reason", sub.DisabledReason,
			"disabled_at", disabledAt,
		)
		pipe.ZAdd(ctx, zSubAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
		for _, t := range m.EventTypes {
			pipe.SAdd(ctx, sSubType+t, m.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("beacon/redis: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	return s.loadSubscription(ctx, subID.String())
}

func (s *Store) loadSubscription(ctx context.Context, subID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID), &m); err != nil {
		if isNotFound(err) {
			return nil, beacon.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("beacon/redis: get subscription: %w", err)
	}
	h, err := s.rdb.HGetAll(ctx, entityKey(prefixSubHealth, subID)).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: get subscription health: %w", err)
	}
	return fromSubscriptionModel(&m, h)
}

// UpdateSubscription rewrites the subscription document under WATCH on both
// the document and its health hash. The stored secret is kept, and a
// failure counted by IncrementFailures between the read and the EXEC aborts
// the transaction so the threshold guard is re-evaluated.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())
	healthKey := entityKey(prefixSubHealth, sub.ID.String())

	err := s.watch(ctx, key, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if isRedisNil(err) {
				return beacon.ErrSubscriptionNotFound
			}
			return err
		}
		var existing subscriptionModel
		if err := unmarshal(raw, &existing); err != nil {
			return err
		}

		h, err := tx.HMGet(ctx, healthKey, "active", "failures").Result()
		if err != nil {
			return err
		}
		active, _ := h[0].(string)
		failures := 0
		if f, ok := h[1].(string); ok && f != "" {
			if failures, err = strconv.Atoi(f); err != nil {
				return fmt.Errorf("parse failures %q: %w", f, err)
			}
		}
		if active == "1" && failures >= sub.AutoDisableThreshold {
			return subscription.ErrThresholdNotAboveFailures
		}

		m := toSubscriptionModel(sub)
		m.Secret = existing.Secret
		m.CreatedAt = existing.CreatedAt
		m.UpdatedAt = now()
		next, err := marshal(m)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			pipe.HSet(ctx, healthKey, "threshold", m.AutoDisableThreshold)
			for _, t := range existing.EventTypes {
				if !slices.Contains(m.EventTypes, t) {
					pipe.SRem(ctx, sSubType+t, m.ID)
				}
			}
			for _, t := range m.EventTypes {
				pipe.SAdd(ctx, sSubType+t, m.ID)
			}
			return nil
		})
		return err
	}, healthKey)
	if err != nil {
		if errors.Is(err, beacon.ErrSubscriptionNotFound) || errors.Is(err, subscription.ErrThresholdNotAboveFailures) {
			return err
		}
		return fmt.Errorf("beacon/redis: update subscription: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return beacon.ErrSubscriptionNotFound
		}
		return fmt.Errorf("beacon/redis: delete subscription get: %w", err)
	}

	attIDs, err := s.rdb.ZRange(ctx, zAttSub+m.ID, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("beacon/redis: delete subscription attempts: %w", err)
	}
	attempts := make([]*attemptModel, 0, len(attIDs))
	for _, attID := range attIDs {
		var am attemptModel
		if err := s.getEntity(ctx, entityKey(prefixAttempt, attID), &am); err != nil {
			if isNotFound(err) {
				continue
			}
			return fmt.Errorf("beacon/redis: delete subscription attempts: %w", err)
		}
		attempts = append(attempts, &am)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key, entityKey(prefixSubHealth, m.ID), zAttSub+m.ID)
		pipe.ZRem(ctx, zSubAll, m.ID)
		for _, t := range m.EventTypes {
			pipe.SRem(ctx, sSubType+t, m.ID)
		}
		for _, am := range attempts {
			pipe.Del(ctx, entityKey(prefixAttempt, am.ID), zAttChain+am.DeliveryID)
			pipe.ZRem(ctx, zAttAll, am.ID)
			pipe.ZRem(ctx, zAttEvt+am.EventID, am.ID)
			pipe.ZRem(ctx, zAttDue, am.ID)
			pipe.HDel(ctx, hPairs, pairField(am.EventID, am.SubscriptionID))
			pipe.HIncrBy(ctx, hStatusCounts, am.Status, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("beacon/redis: delete subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		sub, err := s.loadSubscription(ctx, subID)
		if err != nil {
			if err == beacon.ErrSubscriptionNotFound { //nolint:errorlint // sentinel returned unwrapped
				continue
			}
			return nil, err
		}
		if opts.Active != nil && sub.IsActive != *opts.Active {
			continue
		}
		if opts.EventType != "" && !sub.Subscribes(opts.EventType) {
			continue
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) FindMatching(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, sSubType+eventType).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: find matching: %w", err)
	}
	slices.Sort(ids)

	var result []*subscription.Subscription
	for _, subID := range ids {
		sub, err := s.loadSubscription(ctx, subID)
		if err != nil {
			if err == beacon.ErrSubscriptionNotFound { //nolint:errorlint // sentinel returned unwrapped
				continue
			}
			return nil, err
		}
		if sub.IsActive {
			result = append(result, sub)
		}
	}
	return result, nil
}

// setHealth writes health fields of an existing subscription.
func (s *Store) setHealth(ctx context.Context, subID id.ID, values ...any) error {
	n, err := s.rdb.Exists(ctx, entityKey(prefixSubscription, subID.String())).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return beacon.ErrSubscriptionNotFound
	}
	return s.rdb.HSet(ctx, entityKey(prefixSubHealth, subID.String()), values...).Err()
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	values := []any{"active", boolFlag(active)}
	if active {
		values = append(values, "failures", 0, "reason", "", "disabled_at", "")
	}
	if err := s.setHealth(ctx, subID, values...); err != nil {
		if err == beacon.ErrSubscriptionNotFound { //nolint:errorlint // sentinel returned unwrapped
			return err
		}
		return fmt.Errorf("beacon/redis: set active: %w", err)
	}
	return nil
}

func (s *Store) ResetFailures(ctx context.Context, subID id.ID) error {
	if err := s.setHealth(ctx, subID, "failures", 0); err != nil {
		if err == beacon.ErrSubscriptionNotFound { //nolint:errorlint // sentinel returned unwrapped
			return err
		}
		return fmt.Errorf("beacon/redis: reset failures: %w", err)
	}
	return nil
}

func (s *Store) RotateSecret(ctx context.Context, subID id.ID, secret string) error {
	key := entityKey(prefixSubscription, subID.String())
	err := s.watch(ctx, key, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if isRedisNil(err) {
				return beacon.ErrSubscriptionNotFound
			}
			return err
		}
		var m subscriptionModel
		if err := unmarshal(raw, &m); err != nil {
			return err
		}
		m.Secret = secret
		m.UpdatedAt = now()
		next, err := marshal(&m)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	})
	if err != nil {
		if err == beacon.ErrSubscriptionNotFound { //nolint:errorlint // sentinel returned unwrapped
			return err
		}
		return fmt.Errorf("beacon/redis: rotate secret: %w", err)
	}
	return nil
}

func (s *Store) IncrementFailures(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	res, err := incrementFailuresScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixSubHealth, subID.String())},
		subscription.AutoDisableReasonFormat, now().Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		if isRedisNil(err) {
			return nil, beacon.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("beacon/redis: increment failures: %w", err)
	}

	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, beacon.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("beacon/redis: increment failures get: %w", err)
	}

	// The script's snapshot is authoritative for this call.
	sub, err := fromSubscriptionModel(&m, nil)
	if err != nil {
		return nil, err
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("beacon/redis: increment failures: unexpected reply %v", res)
	}
	err = applyHealth(sub, fmt.Sprint(res[1]), fmt.Sprint(res[0]), fmt.Sprint(res[2]), fmt.Sprint(res[3]))
	if err != nil {
		return nil, err
	}
	return sub, nil
}
