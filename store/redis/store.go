// Package redis implements store.Store on Redis through Grove KV.
//
// Entities are JSON documents under per-type key prefixes. Sorted sets
// index listings, sets index subscriptions by event type, and subscription
// health lives in a separate hash so counters can be updated atomically
// without rewriting the document.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	beaconstore "github.com/xraph/beacon/store"
)

// compile-time interface check
var _ beaconstore.Store = (*Store)(nil)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 16

// Open score bounds for zRangeByScoreIDs.
var (
	negInf = math.Inf(-1)
	posInf = math.Inf(1)
)

// Store implements store.Store using Redis via Grove KV.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New creates a new Redis store backed by Grove KV.
func New(store *kv.Store) *Store {
	return &Store{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// NewFromClient creates a Redis store on a go-redis client without a Grove
// KV wrapper. Close closes the client.
func NewFromClient(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the KV store.
func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return s.rdb.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// scoreFromTime converts a time.Time to a sorted set score (unix seconds as float64).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// isNotFound checks if an error is a KV or Redis not-found sentinel.
func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound) || errors.Is(err, goredis.Nil)
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getEntity retrieves and decodes a JSON entity from a key.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	var (
		raw []byte
		err error
	)
	if s.kv != nil {
		raw, err = s.kv.GetRaw(ctx, key)
	} else {
		raw, err = s.rdb.Get(ctx, key).Bytes()
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: marshal entity: %w", err)
	}
	return raw, nil
}

func unmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("beacon/redis: unmarshal entity: %w", err)
	}
	return nil
}

// zRangeByScoreIDs returns member IDs from a sorted set within a score
// range, at most limit when limit > 0.
func (s *Store) zRangeByScoreIDs(ctx context.Context, key string, lo, hi float64, limit int) ([]string, error) {
	minStr := "-inf"
	maxStr := "+inf"
	if !math.IsInf(lo, -1) {
		minStr = strconv.FormatFloat(lo, 'f', -1, 64)
	}
	if !math.IsInf(hi, 1) {
		maxStr = strconv.FormatFloat(hi, 'f', -1, 64)
	}
	by := &goredis.ZRangeBy{Min: minStr, Max: maxStr}
	if limit > 0 {
		by.Count = int64(limit)
	}
	return s.rdb.ZRangeByScore(ctx, key, by).Result()
}

// watch runs fn in an optimistic transaction on key, retrying when another
// client modified key in between.
func (s *Store) watch(ctx context.Context, key string, fn func(tx *goredis.Tx) error, more ...string) error {
	keys := append([]string{key}, more...)
	for range maxTxRetries {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return goredis.TxFailedErr
}

// applyPagination applies offset and limit to a slice.
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

// reversed returns ids in reverse order, for newest-first listings.
func reversed(ids []string) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[len(ids)-1-i] = v
	}
	return out
}
