// Package postgres implements store.Store on PostgreSQL through Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("beacon/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", beacon.ErrMigrationFailed, err)
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
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
// columns are left alone, and the threshold guard is evaluated against the
// row as the UPDATE locks it.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("target_url = $1", m.TargetURL).
		Set("event_types = $2", m.EventTypes).
		Set("headers = $3::jsonb", jsonObject(m.Headers)).
		Set("max_retries = $4", m.MaxRetries).
		Set("base_retry_delay_ms = $5", m.BaseRetryDelayMs).
		Set("backoff_multiplier = $6", m.BackoffMultiplier).
		Set("auto_disable_threshold = $7", m.AutoDisableThreshold).
		Set("rate_limit = $8", m.RateLimit).
		Set("description = $9", m.Description).
		Set("metadata = $10::jsonb", jsonObject(m.Metadata)).
		Set("updated_at = $11", time.Now().UTC()).
		Where("id = $12", m.ID).
		Where("(NOT is_active OR consecutive_failures < $13)", m.AutoDisableThreshold).
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
	_, err := s.pg.NewDelete((*attemptModel)(nil)).
		Where("subscription_id = $1", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Active != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("is_active = $%d", argIdx), *opts.Active)
	}
	if opts.EventType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("$%d = ANY(event_types)", argIdx), opts.EventType)
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
	if err := s.pg.NewSelect(&models).
		Where("$1 = ANY(event_types)", eventType).
		Where("is_active = true").
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	now := time.Now().UTC()
	q := s.pg.NewUpdate((*subscriptionModel)(nil))
	if active {
		q = q.Set("is_active = true").
			Set("consecutive_failures = 0").
			Set("disabled_reason = ''").
			Set("disabled_at = NULL")
	} else {
		q = q.Set("is_active = false")
	}
	res, err := q.
		Set("updated_at = $1", now).
		Where("id = $2", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) RotateSecret(ctx context.Context, subID id.ID, secret string) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("secret = $1", secret).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) ResetFailures(ctx context.Context, subID id.ID) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("consecutive_failures = 0").
		Set("updated_at = $1", time.Now().UTC()).
		Where("id = $2", subID.String()).
		Exec(ctx)
	return expectRow(res, err, beacon.ErrSubscriptionNotFound)
}

func (s *Store) IncrementFailures(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	// The row lock taken by UPDATE serializes concurrent increments.
	var models []subscriptionModel
	err := s.pg.NewRaw(`
		UPDATE beacon_subscriptions
		SET consecutive_failures = consecutive_failures + 1,
		    is_active = is_active AND NOT (auto_disable_threshold > 0 AND consecutive_failures + 1 >= auto_disable_threshold),
		    disabled_reason = CASE
		        WHEN is_active AND auto_disable_threshold > 0 AND consecutive_failures + 1 >= auto_disable_threshold
		        THEN replace($2, '%d', (consecutive_failures + 1)::text)
		        ELSE disabled_reason END,
		    disabled_at = CASE
		        WHEN is_active AND auto_disable_threshold > 0 AND consecutive_failures + 1 >= auto_disable_threshold
		        THEN $3::timestamptz
		        ELSE disabled_at END,
		    updated_at = $3::timestamptz
		WHERE id = $1
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
	res, err := s.pg.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return expectRow(res, err, beacon.ErrDuplicateEvent)
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", attID.String()).
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
	err := s.pg.NewRaw(`
		UPDATE beacon_delivery_attempts
		SET status = 'sending', executed_at = $2, next_retry_at = NULL, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'retrying')
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
	r, err := s.pg.NewUpdate((*attemptModel)(nil)).
		Set("status = $1", string(res.Status)).
		Set("response_code = $2", res.ResponseCode).
		Set("response_body = $3", res.ResponseBody).
		Set("duration_ms = $4", res.Duration.Milliseconds()).
		Set("error_message = $5", res.ErrorMessage).
		Set("updated_at = $6", time.Now().UTC()).
		Where("id = $7", attID.String()).
		Where("status = 'sending'").
		Exec(ctx)
	if err := expectRow(r, err, errNoRow); !errors.Is(err, errNoRow) {
		return err
	}
	return s.missingOr(ctx, attID, beacon.ErrAttemptFinalized)
}

func (s *Store) CancelAttempt(ctx context.Context, attID id.ID, msg string) error {
	r, err := s.pg.NewUpdate((*attemptModel)(nil)).
		Set("status = $1", string(delivery.StatusFailed)).
		Set("error_message = $2", msg).
		Set("next_retry_at = NULL").
		Set("updated_at = $3", time.Now().UTC()).
		Where("id = $4", attID.String()).
		Where("status IN ('pending', 'retrying')").
		Exec(ctx)
	if err := expectRow(r, err, errNoRow); !errors.Is(err, errNoRow) {
		return err
	}
	return s.missingOr(ctx, attID, beacon.ErrAttemptNotClaimable)
}

// missingOr tells a missing attempt apart from one in the wrong status.
func (s *Store) missingOr(ctx context.Context, attID id.ID, otherwise error) error {
	n, err := s.pg.NewSelect((*attemptModel)(nil)).
		Where("id = $1", attID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.SubscriptionID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("subscription_id = $%d", argIdx), opts.SubscriptionID.String())
	}
	if !opts.EventID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("event_id = $%d", argIdx), opts.EventID.String())
	}
	if !opts.DeliveryID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("delivery_id = $%d", argIdx), opts.DeliveryID.String())
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
	if err := s.pg.NewSelect(&models).
		Where("delivery_id = $1", deliveryID.String()).
		OrderExpr("attempt_number ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) LatestForPair(ctx context.Context, evtID, subID id.ID) (*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", evtID.String()).
		Where("subscription_id = $2", subID.String()).
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
	q := s.pg.NewSelect(&models).
		Where("status IN ('pending', 'retrying')").
		Where("scheduled_at <= $1", before.UTC()).
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
	err := s.pg.NewRaw(`
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
var errNoRow = errors.New("beacon/postgres: no row affected")

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

// jsonObject encodes a string map for a JSONB parameter.
func jsonObject(m map[string]string) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
