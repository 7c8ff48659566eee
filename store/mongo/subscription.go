package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, beacon.ErrSubscriptionNotFound
		}

		return nil, fmt.Errorf("beacon/mongo: get subscription: %w", err)
	}

	return fromSubscriptionModel(&m)
}

// UpdateSubscription writes the owner-editable fields. The filter carries
// the threshold guard so the check and the write are one document update.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{
			"_id": m.ID,
			"$or": bson.A{
				bson.M{"is_active": false},
				bson.M{"consecutive_failures": bson.M{"$lt": m.AutoDisableThreshold}},
			},
		}).
		Set("target_url", m.TargetURL).
		Set("event_types", m.EventTypes).
		Set("headers", m.Headers).
		Set("max_retries", m.MaxRetries).
		Set("base_retry_delay_ms", m.BaseRetryDelayMs).
		Set("backoff_multiplier", m.BackoffMultiplier).
		Set("auto_disable_threshold", m.AutoDisableThreshold).
		Set("rate_limit", m.RateLimit).
		Set("description", m.Description).
		Set("metadata", m.Metadata).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: update subscription: %w", err)
	}

	if res.MatchedCount() == 0 {
		if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
			return err
		}
		return subscription.ErrThresholdNotAboveFailures
	}

	return nil
}

// DeleteSubscription removes a subscription and its attempts.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	_, err := s.mdb.NewDelete((*attemptModel)(nil)).
		Many().
		Filter(bson.M{"subscription_id": subID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: delete subscription attempts: %w", err)
	}

	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: delete subscription: %w", err)
	}

	if res.DeletedCount() == 0 {
		return beacon.ErrSubscriptionNotFound
	}

	return nil
}

// ListSubscriptions returns subscriptions oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{}
	if opts.Active != nil {
		filter["is_active"] = *opts.Active
	}

	if opts.EventType != "" {
		filter["event_types"] = opts.EventType
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("beacon/mongo: list subscriptions: %w", err)
	}

	return fromSubscriptionModels(models)
}

// FindMatching returns active subscriptions listing eventType.
func (s *Store) FindMatching(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"event_types": eventType,
			"is_active":   true,
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("beacon/mongo: find matching: %w", err)
	}

	return fromSubscriptionModels(models)
}

// SetActive activates or deactivates a subscription.
func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	q := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("is_active", active).
		Set("updated_at", now())
	if active {
		q = q.Set("consecutive_failures", 0).
			Set("disabled_reason", "").
			Set("disabled_at", nil)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: set active: %w", err)
	}

	if res.MatchedCount() == 0 {
		return beacon.ErrSubscriptionNotFound
	}

	return nil
}

// RotateSecret replaces the signing secret.
func (s *Store) RotateSecret(ctx context.Context, subID id.ID, secret string) error {
	return s.setFields(ctx, subID, "rotate secret", bson.M{"secret": secret})
}

// ResetFailures zeroes the consecutive failure counter.
func (s *Store) ResetFailures(ctx context.Context, subID id.ID) error {
	return s.setFields(ctx, subID, "reset failures", bson.M{"consecutive_failures": 0})
}

func (s *Store) setFields(ctx context.Context, subID id.ID, op string, fields bson.M) error {
	q := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("updated_at", now())
	for k, v := range fields {
		q = q.Set(k, v)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("beacon/mongo: %s: %w", op, err)
	}

	if res.MatchedCount() == 0 {
		return beacon.ErrSubscriptionNotFound
	}

	return nil
}

// IncrementFailures bumps the failure counter and disables the subscription
// at its threshold in a single pipeline update.
func (s *Store) IncrementFailures(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	prefix, suffix, _ := strings.Cut(subscription.AutoDisableReasonFormat, "%d")
	t := now()

	pipeline := mongod.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "consecutive_failures", Value: bson.D{{Key: "$add", Value: bson.A{"$consecutive_failures", 1}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "_disable", Value: bson.D{{Key: "$and", Value: bson.A{
				"$is_active",
				bson.D{{Key: "$gt", Value: bson.A{"$auto_disable_threshold", 0}}},
				bson.D{{Key: "$gte", Value: bson.A{"$consecutive_failures", "$auto_disable_threshold"}}},
			}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "is_active", Value: bson.D{{Key: "$cond", Value: bson.A{"$_disable", false, "$is_active"}}}},
			{Key: "disabled_reason", Value: bson.D{{Key: "$cond", Value: bson.A{
				"$_disable",
				bson.D{{Key: "$concat", Value: bson.A{prefix, bson.D{{Key: "$toString", Value: "$consecutive_failures"}}, suffix}}},
				"$disabled_reason",
			}}}},
			{Key: "disabled_at", Value: bson.D{{Key: "$cond", Value: bson.A{"$_disable", t, "$disabled_at"}}}},
			{Key: "updated_at", Value: t},
		}}},
		{{Key: "$unset", Value: "_disable"}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m subscriptionModel

	err := s.mdb.Collection(colSubscriptions).
		FindOneAndUpdate(ctx, bson.M{"_id": subID.String()}, pipeline, opts).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, beacon.ErrSubscriptionNotFound
		}

		return nil, fmt.Errorf("beacon/mongo: increment failures: %w", err)
	}

	return fromSubscriptionModel(&m)
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}
