// Package bunstore implements store.Store with the Bun ORM. The queries stay
// within the SQL shared by PostgreSQL and SQLite so either dialect works.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	beaconstore "github.com/xraph/beacon/store"
	"github.com/xraph/beacon/subscription"
)

// compile-time interface check
var _ beaconstore.Store = (*Store)(nil)

var claimable = []string{string(delivery.StatusPending), string(delivery.StatusRetrying)}

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*subscriptionModel)(nil),
		(*subscriptionTypeModel)(nil),
		(*eventModel)(nil),
		(*attemptModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("%w: %w", beacon.ErrMigrationFailed, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_beacon_sub_types_type ON beacon_subscription_event_types (event_type)",
		"CREATE INDEX IF NOT EXISTS idx_beacon_events_created ON beacon_events (created_at)",
		"CREATE INDEX IF NOT EXISTS idx_beacon_events_type ON beacon_events (type)",
		"CREATE INDEX IF NOT EXISTS idx_beacon_attempts_due ON beacon_delivery_attempts (status, scheduled_at)",
		"CREATE INDEX IF NOT EXISTS idx_beacon_attempts_pair ON beacon_delivery_attempts (event_id, subscription_id)",
		"CREATE INDEX IF NOT EXISTS idx_beacon_attempts_subscription ON beacon_delivery_attempts (subscription_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_beacon_attempts_chain ON beacon_delivery_attempts (delivery_id, attempt_number)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: %w", beacon.ErrMigrationFailed, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return err
		}
		return insertTypes(ctx, tx, m)
	})
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, beacon.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription writes the owner-editable fields. The secret and health
// columns are left alone so a stale copy cannot undo a rotation or a
// concurrent failure count. The threshold guard runs in the same UPDATE.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(m).
			Column(
				"target_url", "event_types", "headers",
				"max_retries", "base_retry_delay_ms", "backoff_multiplier",
				"auto_disable_threshold", "rate_limit", "description", "metadata",
				"updated_at",
			).
			WherePK().
			Where("(NOT is_active OR consecutive_failures < ?)", m.AutoDisableThreshold).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			exists, err := tx.NewSelect().
				Model((*subscriptionModel)(nil)).
				Where("id = ?", m.ID).
				Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return beacon.ErrSubscriptionNotFound
			}
			return subscription.ErrThresholdNotAboveFailures
		}

		if _, err := tx.NewDelete().
			Model((*subscriptionTypeModel)(nil)).
			Where("subscription_id = ?", m.ID).
			Exec(ctx); err != nil {
			return err
		}
		return insertTypes(ctx, tx, m)
	})
}

// DeleteSubscription removes a subscription together with its attempts.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*attemptModel)(nil)).
			Where("subscription_id = ?", subID.String()).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*subscriptionTypeModel)(nil)).
			Where("subscription_id = ?", subID.String()).
			Exec(ctx); err != nil {
			return err
		}

		res, err := tx.NewDelete().
			Model((*subscriptionModel)(nil)).
			Where("id = ?", subID.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return beacon.ErrSubscriptionNotFound
		}
		return nil
	})
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().
		Model(&models).
		OrderExpr("s.created_at ASC, s.id ASC")

	if opts.Active != nil {
		q = q.Where("s.is_active = ?", *opts.Active)
	}
	if opts.EventType != "" {
		q = q.Where("s.id IN (?)", s.typeQuery(opts.EventType))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

// FindMatching returns active subscriptions listing eventType exactly.
func (s *Store) FindMatching(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.db.NewSelect().
		Model(&models).
		Where("s.is_active = ?", true).
		Where("s.id IN (?)", s.typeQuery(eventType)).
		OrderExpr("s.created_at ASC, s.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) typeQuery(eventType string) *bun.SelectQuery {
	return s.db.NewSelect().
		Model((*subscriptionTypeModel)(nil)).
		Column("subscription_id").
		Where("event_type = ?", eventType)
}

// SetActive toggles a subscription. Activation also clears its health state.
func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	q := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", subID.String())
	if active {
		q = q.Set("consecutive_failures = 0").
			Set("disabled_reason = ''").
			Set("disabled_at = NULL")
	}
	return expectSubscription(q.Exec(ctx))
}

func (s *Store) RotateSecret(ctx context.Context, subID id.ID, secret string) error {
	return expectSubscription(s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("secret = ?", secret).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", subID.String()).
		Exec(ctx))
}

func (s *Store) ResetFailures(ctx context.Context, subID id.ID) error {
	return expectSubscription(s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("consecutive_failures = 0").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", subID.String()).
		Exec(ctx))
}

// disableCond is true when the next failure reaches an enabled threshold.
const disableCond = "is_active AND auto_disable_threshold > 0 AND consecutive_failures + 1 >= auto_disable_threshold"

// IncrementFailures bumps the counter and applies the auto-disable rule in
// one UPDATE, then reads the row back inside the same transaction. The row
// lock taken by the UPDATE keeps concurrent callers from observing the same
// count.
func (s *Store) IncrementFailures(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	t := time.Now().UTC()
	m := new(subscriptionModel)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*subscriptionModel)(nil)).
			Set("is_active = CASE WHEN "+disableCond+" THEN ? ELSE is_active END", false).
			Set("disabled_reason = CASE WHEN "+disableCond+" THEN replace(?, '%d', CAST(consecutive_failures + 1 AS TEXT)) ELSE disabled_reason END",
				subscription.AutoDisableReasonFormat).
			Set("disabled_at = CASE WHEN "+disableCond+" THEN ? ELSE disabled_at END", t).
			Set("consecutive_failures = consecutive_failures + 1").
			Set("updated_at = ?", t).
			Where("id = ?", subID.String()).
			Exec(ctx)
		if err := expectSubscription(res, err); err != nil {
			return err
		}

		return tx.NewSelect().
			Model(m).
			Where("id = ?", subID.String()).
			Limit(1).
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func insertTypes(ctx context.Context, tx bun.Tx, m *subscriptionModel) error {
	rows := typeRows(m)
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func expectSubscription(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return beacon.ErrSubscriptionNotFound
	}
	return nil
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

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	res, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return beacon.ErrDuplicateEvent
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", evtID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, beacon.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().
		Model(&models).
		OrderExpr("e.created_at DESC, e.id DESC")

	if opts.Type != "" {
		q = q.Where("e.type = ?", opts.Type)
	}
	if opts.From != nil {
		q = q.Where("e.created_at >= ?", opts.From.UTC())
	}
	if opts.To != nil {
		q = q.Where("e.created_at <= ?", opts.To.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) CreateAttempt(ctx context.Context, att *delivery.Attempt) error {
	_, err := s.db.NewInsert().Model(toAttemptModel(att)).Exec(ctx)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", attID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, beacon.ErrAttemptNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

// ClaimAttempt moves a pending or retrying attempt to sending. The status
// guard in the WHERE clause lets exactly one claimer win.
func (s *Store) ClaimAttempt(ctx context.Context, attID id.ID, at time.Time) (*delivery.Attempt, error) {
	at = at.UTC()
	m := new(attemptModel)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*attemptModel)(nil)).
			Set("status = ?", string(delivery.StatusSending)).
			Set("executed_at = ?", at).
			Set("next_retry_at = NULL").
			Set("updated_at = ?", at).
			Where("id = ?", attID.String()).
			Where("status IN (?)", bun.In(claimable)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missingOr(ctx, tx, attID, beacon.ErrAttemptNotClaimable)
		}

		return tx.NewSelect().
			Model(m).
			Where("id = ?", attID.String()).
			Limit(1).
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return fromAttemptModel(m)
}

// FinishAttempt records the outcome of a sending attempt.
func (s *Store) FinishAttempt(ctx context.Context, attID id.ID, r delivery.Result) error {
	res, err := s.db.NewUpdate().
		Model((*attemptModel)(nil)).
		Set("status = ?", string(r.Status)).
		Set("response_code = ?", r.ResponseCode).
		Set("response_body = ?", r.ResponseBody).
		Set("duration_ms = ?", r.Duration.Milliseconds()).
		Set("error_message = ?", r.ErrorMessage).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", attID.String()).
		Where("status = ?", string(delivery.StatusSending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missingOr(ctx, s.db, attID, beacon.ErrAttemptFinalized)
	}
	return nil
}

// CancelAttempt fails a pending or retrying attempt without sending it.
func (s *Store) CancelAttempt(ctx context.Context, attID id.ID, msg string) error {
	res, err := s.db.NewUpdate().
		Model((*attemptModel)(nil)).
		Set("status = ?", string(delivery.StatusFailed)).
		Set("error_message = ?", msg).
		Set("next_retry_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", attID.String()).
		Where("status IN (?)", bun.In(claimable)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missingOr(ctx, s.db, attID, beacon.ErrAttemptNotClaimable)
	}
	return nil
}

// missingOr tells a missing attempt apart from one in the wrong status.
func missingOr(ctx context.Context, db bun.IDB, attID id.ID, otherwise error) error {
	exists, err := db.NewSelect().
		Model((*attemptModel)(nil)).
		Where("id = ?", attID.String()).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return beacon.ErrAttemptNotFound
	}
	return otherwise
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.db.NewSelect().
		Model(&models).
		OrderExpr("a.created_at DESC, a.id DESC")

	if !opts.SubscriptionID.IsNil() {
		q = q.Where("a.subscription_id = ?", opts.SubscriptionID.String())
	}
	if !opts.EventID.IsNil() {
		q = q.Where("a.event_id = ?", opts.EventID.String())
	}
	if !opts.DeliveryID.IsNil() {
		q = q.Where("a.delivery_id = ?", opts.DeliveryID.String())
	}
	if opts.Status != "" {
		q = q.Where("a.status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) ListChain(ctx context.Context, deliveryID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel
	err := s.db.NewSelect().
		Model(&models).
		Where("a.delivery_id = ?", deliveryID.String()).
		OrderExpr("a.attempt_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

// LatestForPair returns the last attempt of the newest chain for a pair.
func (s *Store) LatestForPair(ctx context.Context, evtID, subID id.ID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.db.NewSelect().
		Model(m).
		Where("a.event_id = ?", evtID.String()).
		Where("a.subscription_id = ?", subID.String()).
		OrderExpr("a.created_at DESC, a.attempt_number DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, beacon.ErrAttemptNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

// ListDue returns claimable attempts scheduled at or before before, oldest
// first.
func (s *Store) ListDue(ctx context.Context, before time.Time, limit int) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.db.NewSelect().
		Model(&models).
		Where("a.status IN (?)", bun.In(claimable)).
		Where("a.scheduled_at <= ?", before.UTC()).
		OrderExpr("a.scheduled_at ASC, a.id ASC")
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
	err := s.db.NewSelect().
		Model((*attemptModel)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
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
