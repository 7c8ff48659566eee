package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/id"
)

var claimableStatuses = bson.A{string(delivery.StatusPending), string(delivery.StatusRetrying)}

// CreateAttempt persists a new attempt.
func (s *Store) CreateAttempt(ctx context.Context, att *delivery.Attempt) error {
	m := toAttemptModel(att)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: create attempt: %w", err)
	}

	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*delivery.Attempt, error) {
	var m attemptModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": attID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, beacon.ErrAttemptNotFound
		}

		return nil, fmt.Errorf("beacon/mongo: get attempt: %w", err)
	}

	return fromAttemptModel(&m)
}

// ClaimAttempt moves a pending or retrying attempt to sending.
// Uses FindOneAndUpdate for an atomic claim so one worker wins.
func (s *Store) ClaimAttempt(ctx context.Context, attID id.ID, at time.Time) (*delivery.Attempt, error) {
	at = at.UTC()

	filter := bson.M{
		"_id":    attID.String(),
		"status": bson.M{"$in": claimableStatuses},
	}

	update := bson.M{
		"$set": bson.M{
			"status":      string(delivery.StatusSending),
			"executed_at": at,
			"updated_at":  at,
		},
		"$unset": bson.M{"next_retry_at": ""},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m attemptModel

	err := s.mdb.Collection(colAttempts).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, s.missingOr(ctx, attID, beacon.ErrAttemptNotClaimable)
		}

		return nil, fmt.Errorf("beacon/mongo: claim attempt: %w", err)
	}

	return fromAttemptModel(&m)
}

// FinishAttempt moves a sending attempt to a terminal status.
func (s *Store) FinishAttempt(ctx context.Context, attID id.ID, res delivery.Result) error {
	r, err := s.mdb.NewUpdate((*attemptModel)(nil)).
		Filter(bson.M{"_id": attID.String(), "status": string(delivery.StatusSending)}).
		Set("status", string(res.Status)).
		Set("response_code", res.ResponseCode).
		Set("response_body", res.ResponseBody).
		Set("duration_ms", res.Duration.Milliseconds()).
		Set("error_message", res.ErrorMessage).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: finish attempt: %w", err)
	}

	if r.MatchedCount() == 0 {
		return s.missingOr(ctx, attID, beacon.ErrAttemptFinalized)
	}

	return nil
}

// CancelAttempt moves a pending or retrying attempt to failed.
func (s *Store) CancelAttempt(ctx context.Context, attID id.ID, msg string) error {
	r, err := s.mdb.NewUpdate((*attemptModel)(nil)).
		Filter(bson.M{"_id": attID.String(), "status": bson.M{"$in": claimableStatuses}}).
		Set("status", string(delivery.StatusFailed)).
		Set("error_message", msg).
		Set("next_retry_at", nil).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: cancel attempt: %w", err)
	}

	if r.MatchedCount() == 0 {
		return s.missingOr(ctx, attID, beacon.ErrAttemptNotClaimable)
	}

	return nil
}

// missingOr tells a missing attempt apart from one in the wrong status.
func (s *Store) missingOr(ctx context.Context, attID id.ID, otherwise error) error {
	n, err := s.mdb.NewFind((*attemptModel)(nil)).
		Filter(bson.M{"_id": attID.String()}).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: lookup attempt: %w", err)
	}

	if n == 0 {
		return beacon.ErrAttemptNotFound
	}

	return otherwise
}

// ListAttempts returns attempts newest first.
func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	var models []attemptModel

	filter := bson.M{}
	if !opts.SubscriptionID.IsNil() {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}

	if !opts.EventID.IsNil() {
		filter["event_id"] = opts.EventID.String()
	}

	if !opts.DeliveryID.IsNil() {
		filter["delivery_id"] = opts.DeliveryID.String()
	}

	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("beacon/mongo: list attempts: %w", err)
	}

	return fromAttemptModels(models)
}

// ListChain returns a delivery chain in attempt order.
func (s *Store) ListChain(ctx context.Context, deliveryID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"delivery_id": deliveryID.String()}).
		Sort(bson.D{{Key: "attempt_number", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("beacon/mongo: list chain: %w", err)
	}

	return fromAttemptModels(models)
}

// LatestForPair returns the last attempt of the newest chain for a pair.
func (s *Store) LatestForPair(ctx context.Context, evtID, subID id.ID) (*delivery.Attempt, error) {
	var models []attemptModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"event_id":        evtID.String(),
			"subscription_id": subID.String(),
		}).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "attempt_number", Value: -1}}).
		Limit(1).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("beacon/mongo: latest for pair: %w", err)
	}

	if len(models) == 0 {
		return nil, beacon.ErrAttemptNotFound
	}

	return fromAttemptModel(&models[0])
}

// ListDue returns claimable attempts scheduled at or before before.
func (s *Store) ListDue(ctx context.Context, before time.Time, limit int) ([]*delivery.Attempt, error) {
	var models []attemptModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":       bson.M{"$in": claimableStatuses},
			"scheduled_at": bson.M{"$lte": before.UTC()},
		}).
		Sort(bson.D{{Key: "scheduled_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("beacon/mongo: list due: %w", err)
	}

	return fromAttemptModels(models)
}

// CountByStatus groups attempts by status.
func (s *Store) CountByStatus(ctx context.Context) (delivery.Stats, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cur, err := s.mdb.Collection(colAttempts).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("beacon/mongo: count by status: %w", err)
	}

	var rows []statusCount
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("beacon/mongo: count by status: %w", err)
	}

	stats := make(delivery.Stats, len(rows))
	for _, r := range rows {
		stats[delivery.Status(r.Status)] = r.Count
	}

	return stats, nil
}

func fromAttemptModels(models []attemptModel) ([]*delivery.Attempt, error) {
	result := make([]*delivery.Attempt, 0, len(models))

	for i := range models {
		att, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, att)
	}

	return result, nil
}
