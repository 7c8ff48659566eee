// Package sqlite implements store.Store on SQLite through Grove ORM.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	beaconstore "github.com/xraph/beacon/store"
	"github.com/xraph/beacon/subscription"
)

// compile-time interface check
var _ beaconstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("beacon/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", beacon.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, beacon.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription writes the owner-editable columns. The secret and health
// columns are left alone; SQLite serializes writers, so the threshold guard
// sees the committed failure count.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("target_url = ?", m.TargetURL).
		Set("event_types = ?", m.EventTypes).
		Set("headers = ?", m.Headers).
		Set("max_retries = ?", m.MaxRetries).
		Set("base_retry_delay_ms = ?", m.BaseRetryDelayMs).
		Set("backoff_multiplier = ?", m.BackoffMultiplier).
		Set("auto_disable_threshold = ?", m.AutoDisableThreshold).
		Set("rate_limit = ?", m.RateLimit).
		Set("description = ?", m.Description).
		Set("metadata = ?", m.Metadata).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", m.ID).
		Where("(NOT is_active OR consecutive_failures < ?)", m.AutoDisableThreshold).
		Exec(ctx)
	if err := expectRow(res, err, errNoRowUpdated); !errors.Is(err, errNoRowUpdated) {
		return err
	}
	if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
		return err
	}
	return subscription.ErrThresholdNotAboveFailures
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	_, err := s.sdb.NewDelete((*attemptModel)(nil)).
		Where("subscription_id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)

	if opts.Active != nil {
		q = q.Where("is_active = ?", *opts.Active)
	}
	if opts.EventType != "" {
		q = q.Where("EXISTS (SELECT 1 FROM json_each(event_types) WHERE value = ?)", opts.EventType)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) FindMatching(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.sdb.NewSelect(&models).
		Where("EXISTS (SELECT 1 FROM json_each(event_types) WHERE value = ?)", eventType).
		Where("is_active = 1").
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	now := time.Now().UTC()
	q := s.sdb.NewUpdate((*subscriptionModel)(nil))
	if active {
		q = q.Set("is_active = 1").
			Set("consecutive_failures = 0").
			Set("disabled_reason = ''").
			Set("disabled_at = NULL")
	} else {
		q = q.Set("is_active = 0")
	}
	res, err := q.
		Set("updated_at = ?", now).
		Where("id = ?", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) RotateSecret(ctx context.Context, subID id.ID, secret string) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("secret = ?", secret).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) ResetFailures(ctx context.Context, subID id.ID) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("consecutive_failures = 0").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) IncrementFailures(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	// SQLite serializes writers, so the UPDATE observes every prior increment.
	var models []subscriptionModel
	err := s.sdb.NewRaw(`
		UPDATE beacon_subscriptions
		SET consecutive_failures = consecutive_failures + 1,
		    is_active = is_active AND NOT (auto_disable_threshold > 0 AND consecutive_failures + 1 >= auto_disable_threshold),
		    disabled_reason = CASE
		        WHEN is_active AND auto_disable_threshold > 0 AND consecutive_failures + 1 >= auto_disable_threshold
		        THEN replace(?2, '%d', CAST(consecutive_failures + 1 AS TEXT))
		        ELSE disabled_reason END,
		    disabled_at = CASE
		        WHEN is_active AND auto_disable_threshold > 0 AND consecutive_failures + 1 >= auto_disable_threshold
		        THEN ?3
		        ELSE disabled_at END,
		    updated_at = ?3
		WHERE id = ?1
		RETURNING *
	`, subID.String(), subscription.AutoDisableReasonFormat, time.Now().UTC()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, beacon.ErrSubscriptionNotFound
	}
	return fromSubscriptionModel(&models[0])
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return expectRow(res, err, beacon.ErrDuplicateEvent)
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, beacon.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models)

	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) CreateAttempt(ctx context.Context, att *delivery.Attempt) error {
	m := toAttemptModel(att)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", attID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, beacon.ErrAttemptNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) ClaimAttempt(ctx context.Context, attID id.ID, at time.Time) (*delivery.Attempt, error) {
	var models []attemptModel
	err := s.sdb.NewRaw(`
		UPDATE beacon_delivery_attempts
		SET status = 'sending', executed_at = ?2, next_retry_at = NULL, updated_at = ?2
		WHERE id = ?1 AND status IN ('pending', 'retrying')
		RETURNING *
	`, attID.String(), at.UTC()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, s.missingOr(ctx, attID, beacon.ErrAttemptNotClaimable)
	}
	return fromAttemptModel(&models[0])
}

func (s *Store) FinishAttempt(ctx context.Context, attID id.ID, res delivery.Result) error {
	r, err := s.sdb.NewUpdate((*attemptModel)(nil)).
		Set("status = ?", string(res.Status)).
		Set("response_code = ?", res.ResponseCode).
		Set("response_body = ?", res.ResponseBody).
		Set("duration_ms = ?", res.Duration.Milliseconds()).
		Set("error_message = ?", res.ErrorMessage).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", attID.String()).
		Where("status = 'sending'").
		Exec(ctx)
	if err := expectRow(r, err, errNoRow); !errors.Is(err, errNoRow) {
		return err
	}
	return s.missingOr(ctx, attID, beacon.ErrAttemptFinalized)
}

func (s *Store) CancelAttempt(ctx context.Context, attID id.ID, msg string) error {
	r, err := s.sdb.NewUpdate((*attemptModel)(nil)).
		Set("status = ?", string(delivery.StatusFailed)).
		Set("error_message = ?", msg).
		Set("next_retry_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", attID.String()).
		Where("status IN ('pending', 'retrying')").
		Exec(ctx)
	if err := expectRow(r, err, errNoRow); !errors.Is(err, errNoRow) {
		return err
	}
	return s.missingOr(ctx, attID, beacon.ErrAttemptNotClaimable)
}

// missingOr tells a missing attempt apart from one in the wrong status.
func (s *Store) missingOr(ctx context.Context, attID id.ID, otherwise error) error {
	n, err := s.sdb.NewSelect((*attemptModel)(nil)).
		Where("id = ?", attID.String()).
		Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return beacon.ErrAttemptNotFound
	}
	return otherwise
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.sdb.NewSelect(&models)

	if !opts.SubscriptionID.IsNil() {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if !opts.EventID.IsNil() {
		q = q.Where("event_id = ?", opts.EventID.String())
	}
	if !opts.DeliveryID.IsNil() {
		q = q.Where("delivery_id = ?", opts.DeliveryID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) ListChain(ctx context.Context, deliveryID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.sdb.NewSelect(&models).
		Where("delivery_id = ?", deliveryID.String()).
		OrderExpr("attempt_number ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) LatestForPair(ctx context.Context, evtID, subID id.ID) (*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.sdb.NewSelect(&models).
		Where("event_id = ?", evtID.String()).
		Where("subscription_id = ?", subID.String()).
		OrderExpr("created_at DESC, attempt_number DESC").
		Limit(1).
		Scan(ctx); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, beacon.ErrAttemptNotFound
	}
	return fromAttemptModel(&models[0])
}

func (s *Store) ListDue(ctx context.Context, before time.Time, limit int) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.sdb.NewSelect(&models).
		Where("status IN ('pending', 'retrying')").
		Where("scheduled_at <= ?", before.UTC()).
		OrderExpr("scheduled_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) CountByStatus(ctx context.Context) (delivery.Stats, error) {
	var rows []statusCountRow
	err := s.sdb.NewRaw(`
		SELECT status, COUNT(*) AS count
		FROM beacon_delivery_attempts
		GROUP BY status
	`).Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	stats := make(delivery.Stats, len(rows))
	for _, r := range rows {
		stats[delivery.Status(r.Status)] = r.Count
	}
	return stats, nil
}

func fromAttemptModels(models []attemptModel) ([]*delivery.Attempt, error) {
	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		att, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = att
	}
	return result, nil
}

// ==================== Helpers ====================

// errNoRow marks an update that matched nothing.
var errNoRow = errors.New("beacon/sqlite: no row affected")

// expectRow returns notFound when res affected no rows.
// errNoRowUpdated marks a guarded UPDATE that matched nothing.
var errNoRowUpdated = errors.New("no row updated")

func expectRow(res sql.Result, err, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
