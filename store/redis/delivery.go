package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
)

type attemptModel struct {
	ID             string     `json:"id"`
	DeliveryID     string     `json:"delivery_id"`
	SubscriptionID string     `json:"subscription_id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	AttemptNumber  int        `json:"attempt_number"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
	ResponseCode   *int       `json:"response_code,omitempty"`
	ResponseBody   string     `json:"response_body,omitempty"`
	DurationNs     int64      `json:"duration_ns"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
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
		DurationNs:     int64(a.Duration),
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
		Duration:       time.Duration(m.DurationNs),
		ErrorMessage:   m.ErrorMessage,
		NextRetryAt:    m.NextRetryAt,
	}, nil
}

func (s *Store) CreateAttempt(ctx context.Context, att *delivery.Attempt) error {
	m := toAttemptModel(att)
	raw, err := marshal(m)
	if err != nil {
		return err
	}

	created := goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, entityKey(prefixAttempt, m.ID), raw, 0)
		pipe.ZAdd(ctx, zAttAll, created)
		pipe.ZAdd(ctx, zAttSub+m.SubscriptionID, created)
		pipe.ZAdd(ctx, zAttEvt+m.EventID, created)
		pipe.ZAdd(ctx, zAttChain+m.DeliveryID, goredis.Z{Score: float64(m.AttemptNumber), Member: m.ID})
		if att.Status.Claimable() {
			pipe.ZAdd(ctx, zAttDue, goredis.Z{Score: scoreFromTime(m.ScheduledAt), Member: m.ID})
		}
		pipe.HSet(ctx, hPairs, pairField(m.EventID, m.SubscriptionID), m.DeliveryID)
		pipe.HIncrBy(ctx, hStatusCounts, m.Status, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("beacon/redis: create attempt: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*delivery.Attempt, error) {
	m, err := s.loadAttemptModel(ctx, attID.String())
	if err != nil {
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) loadAttemptModel(ctx context.Context, attID string) (*attemptModel, error) {
	var m attemptModel
	if err := s.getEntity(ctx, entityKey(prefixAttempt, attID), &m); err != nil {
		if isNotFound(err) {
			return nil, beacon.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("beacon/redis: get attempt: %w", err)
	}
	return &m, nil
}

// transition applies mutate to an attempt inside an optimistic transaction
// and keeps the due index and status counters in step.
func (s *Store) transition(ctx context.Context, attID string, mutate func(m *attemptModel) error) (*attemptModel, error) {
	key := entityKey(prefixAttempt, attID)
	var out *attemptModel

	err := s.watch(ctx, key, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if isRedisNil(err) {
				return beacon.ErrAttemptNotFound
			}
			return err
		}
		var m attemptModel
		if err := unmarshal(raw, &m); err != nil {
			return err
		}

		from := m.Status
		if err := mutate(&m); err != nil {
			return err
		}
		m.UpdatedAt = now()
		next, err := marshal(&m)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			if !delivery.Status(m.Status).Claimable() {
				pipe.ZRem(ctx, zAttDue, m.ID)
			}
			if from != m.Status {
				pipe.HIncrBy(ctx, hStatusCounts, from, -1)
				pipe.HIncrBy(ctx, hStatusCounts, m.Status, 1)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ClaimAttempt(ctx context.Context, attID id.ID, at time.Time) (*delivery.Attempt, error) {
	at = at.UTC()
	m, err := s.transition(ctx, attID.String(), func(m *attemptModel) error {
		if !delivery.Status(m.Status).Claimable() {
			return beacon.ErrAttemptNotClaimable
		}
		m.Status = string(delivery.StatusSending)
		m.ExecutedAt = &at
		m.NextRetryAt = nil
		return nil
	})
	if err != nil {
		return nil, wrapAttemptErr("claim attempt", err)
	}
	return fromAttemptModel(m)
}

func (s *Store) FinishAttempt(ctx context.Context, attID id.ID, res delivery.Result) error {
	_, err := s.transition(ctx, attID.String(), func(m *attemptModel) error {
		if delivery.Status(m.Status) != delivery.StatusSending {
			return beacon.ErrAttemptFinalized
		}
		m.Status = string(res.Status)
		m.ResponseCode = res.ResponseCode
		m.ResponseBody = res.ResponseBody
		m.DurationNs = int64(res.Duration)
		m.ErrorMessage = res.ErrorMessage
		return nil
	})
	return wrapAttemptErr("finish attempt", err)
}

func (s *Store) CancelAttempt(ctx context.Context, attID id.ID, msg string) error {
	_, err := s.transition(ctx, attID.String(), func(m *attemptModel) error {
		if !delivery.Status(m.Status).Claimable() {
			return beacon.ErrAttemptNotClaimable
		}
		m.Status = string(delivery.StatusFailed)
		m.ErrorMessage = msg
		m.NextRetryAt = nil
		return nil
	})
	return wrapAttemptErr("cancel attempt", err)
}

// wrapAttemptErr passes ledger sentinels through untouched.
func wrapAttemptErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, beacon.ErrAttemptNotFound),
		errors.Is(err, beacon.ErrAttemptNotClaimable),
		errors.Is(err, beacon.ErrAttemptFinalized):
		return err
	}
	return fmt.Errorf("beacon/redis: %s: %w", op, err)
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	var (
		ids []string
		err error
	)
	switch {
	case !opts.DeliveryID.IsNil():
		ids, err = s.rdb.ZRevRange(ctx, zAttChain+opts.DeliveryID.String(), 0, -1).Result()
	case !opts.SubscriptionID.IsNil():
		ids, err = s.rdb.ZRevRange(ctx, zAttSub+opts.SubscriptionID.String(), 0, -1).Result()
	case !opts.EventID.IsNil():
		ids, err = s.rdb.ZRevRange(ctx, zAttEvt+opts.EventID.String(), 0, -1).Result()
	default:
		ids, err = s.rdb.ZRevRange(ctx, zAttAll, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: list attempts: %w", err)
	}

	result := make([]*delivery.Attempt, 0, len(ids))
	for _, attID := range ids {
		m, err := s.loadAttemptModel(ctx, attID)
		if err != nil {
			if errors.Is(err, beacon.ErrAttemptNotFound) {
				continue
			}
			return nil, err
		}
		if !matchAttempt(m, opts) {
			continue
		}
		att, err := fromAttemptModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, att)
	}

	// Chain indexes are scored by attempt number; listings are by creation.
	if !opts.DeliveryID.IsNil() {
		sortNewestFirst(result)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func matchAttempt(m *attemptModel, opts delivery.ListOpts) bool {
	if !opts.SubscriptionID.IsNil() && m.SubscriptionID != opts.SubscriptionID.String() {
		return false
	}
	if !opts.EventID.IsNil() && m.EventID != opts.EventID.String() {
		return false
	}
	if !opts.DeliveryID.IsNil() && m.DeliveryID != opts.DeliveryID.String() {
		return false
	}
	if opts.Status != "" && m.Status != string(opts.Status) {
		return false
	}
	return true
}

func sortNewestFirst(atts []*delivery.Attempt) {
	slices.SortFunc(atts, func(a, b *delivery.Attempt) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
}

func (s *Store) ListChain(ctx context.Context, deliveryID id.ID) ([]*delivery.Attempt, error) {
	ids, err := s.rdb.ZRange(ctx, zAttChain+deliveryID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: list chain: %w", err)
	}
	return s.loadAttempts(ctx, ids)
}

func (s *Store) loadAttempts(ctx context.Context, ids []string) ([]*delivery.Attempt, error) {
	result := make([]*delivery.Attempt, 0, len(ids))
	for _, attID := range ids {
		m, err := s.loadAttemptModel(ctx, attID)
		if err != nil {
			if errors.Is(err, beacon.ErrAttemptNotFound) {
				continue
			}
			return nil, err
		}
		att, err := fromAttemptModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, att)
	}
	return result, nil
}

func (s *Store) LatestForPair(ctx context.Context, evtID, subID id.ID) (*delivery.Attempt, error) {
	chain, err := s.rdb.HGet(ctx, hPairs, pairField(evtID.String(), subID.String())).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, beacon.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("beacon/redis: latest for pair: %w", err)
	}

	ids, err := s.rdb.ZRevRange(ctx, zAttChain+chain, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: latest for pair: %w", err)
	}
	if len(ids) == 0 {
		return nil, beacon.ErrAttemptNotFound
	}
	m, err := s.loadAttemptModel(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) ListDue(ctx context.Context, before time.Time, limit int) ([]*delivery.Attempt, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zAttDue, negInf, scoreFromTime(before), limit)
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: list due: %w", err)
	}

	atts, err := s.loadAttempts(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := atts[:0]
	for _, att := range atts {
		if att.Status.Claimable() && !att.ScheduledAt.After(before) {
			result = append(result, att)
		}
	}
	return result, nil
}

func (s *Store) CountByStatus(ctx context.Context) (delivery.Stats, error) {
	counts, err := s.rdb.HGetAll(ctx, hStatusCounts).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: count by status: %w", err)
	}

	stats := make(delivery.Stats, len(counts))
	for status, raw := range counts {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("beacon/redis: parse status count %q: %w", raw, err)
		}
		if n > 0 {
			stats[delivery.Status(status)] = n
		}
	}
	return stats, nil
}
