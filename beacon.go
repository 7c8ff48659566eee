package beacon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/beacon/catalog"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/health"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
	"github.com/xraph/beacon/observability"
	"github.com/xraph/beacon/queue"
	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/subscription"
)

// Beacon is the root webhook delivery engine.
type Beacon struct {
	config     Config
	store      store.Store
	catalog    *catalog.Catalog
	subSvc     *subscription.Service
	deliveries *DeliveryService
	health     *health.Monitor
	engine     *delivery.Engine
	httpClient *http.Client
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	onDisabled health.DisabledFunc
	logger     *slog.Logger
}

// New creates a new Beacon with the given options.
func New(opts ...Option) (*Beacon, error) {
	b := &Beacon{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if err := b.config.Defaults.Validate(); err != nil {
		return nil, err
	}
	if err := b.wireServices(); err != nil {
		return nil, err
	}
	return b, nil
}

// wireServices initializes the internal services after options have been applied.
func (b *Beacon) wireServices() error {
	if b.catalog == nil {
		b.catalog = catalog.New(b.logger)
	}

	b.subSvc = subscription.NewService(b.store, b.config.Defaults, b.logger)
	b.deliveries = &DeliveryService{store: b.store}

	healthOpts := []health.Option{health.WithLogger(b.logger)}
	if b.metrics != nil {
		healthOpts = append(healthOpts, health.WithRecorder(b.metrics))
	}
	if b.onDisabled != nil {
		healthOpts = append(healthOpts, health.WithOnDisabled(b.onDisabled))
	}
	b.health = health.NewMonitor(b.store, healthOpts...)

	b.engine = delivery.NewEngine(b.store, b.health, delivery.EngineConfig{
		Workers:         b.config.Workers,
		QueueSize:       b.config.QueueSize,
		SweepInterval:   b.config.SweepInterval,
		SweepBatchSize:  b.config.SweepBatchSize,
		SweepGrace:      b.config.SweepGrace,
		ShutdownTimeout: b.config.ShutdownTimeout,
		MaxRetryDelay:   b.config.MaxRetryDelay,
		Executor: delivery.ExecutorConfig{
			Timeout:         b.config.RequestTimeout,
			MaxResponseBody: b.config.MaxResponseBody,
			UserAgent:       b.config.UserAgent,
			Client:          b.httpClient,
		},
		Metrics: b.metrics,
		Tracer:  b.tracer,
	}, b.logger)

	if b.metrics != nil {
		err := b.metrics.RegisterGauges(
			func() int64 { return int64(b.engine.QueueLen()) },
			func(ctx context.Context) (map[string]int64, error) {
				stats, err := b.store.CountByStatus(ctx)
				if err != nil {
					return nil, err
				}
				out := make(map[string]int64, len(stats))
				for status, n := range stats {
					out[status.String()] = n
				}
				return out, nil
			},
		)
		if err != nil {
			return fmt.Errorf("beacon: register gauges: %w", err)
		}
	}
	return nil
}

// Start begins the delivery engine. Attempts left pending or retrying by a
// previous process are picked up by the first sweep.
func (b *Beacon) Start(ctx context.Context) {
	b.engine.Start(ctx)
}

// Stop gracefully shuts down the delivery engine. Dispatch fails with
// ErrEngineStopped afterwards.
func (b *Beacon) Stop(ctx context.Context) error {
	return b.engine.Stop(ctx)
}

// DispatchResult summarizes the fan-out of one event.
type DispatchResult struct {
	EventID id.ID `json:"event_id"`

	// Matched is the number of active subscriptions for the event type.
	Matched int `json:"matched"`

	// Created is the number of new delivery chains.
	Created int `json:"created"`

	// Queued is the number of attempts handed to the work queue.
	Queued int `json:"queued"`

	// Duplicate reports that the event had been dispatched before.
	Duplicate bool `json:"duplicate"`
}

// Dispatch persists an event and fans it out to every active subscription
// of its type. It returns as soon as the attempts are queued and never
// waits for HTTP outcomes.
//
// Dispatching the same event again is safe: subscriptions that already
// have a delivery chain for it get no new attempt, and chains still
// pending are resubmitted. When the work queue rejects attempts the error
// is a *DispatchQueueError and the caller may retry the dispatch.
func (b *Beacon) Dispatch(ctx context.Context, evt *event.Event) (*DispatchResult, error) {
	if evt == nil {
		return nil, ErrInvalidEvent
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := b.checkCatalog(evt); err != nil {
		return nil, err
	}

	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.CreatedAt.IsZero() {
		evt.Entity = entity.New()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = evt.CreatedAt
	}

	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.StartDispatchSpan(ctx, evt.ID.String(), evt.Type)
		defer span.End()
	}

	res := &DispatchResult{EventID: evt.ID}

	if err := b.store.CreateEvent(ctx, evt); err != nil {
		if !errors.Is(err, ErrDuplicateEvent) {
			return nil, fmt.Errorf("beacon: persist event: %w", err)
		}
		res.Duplicate = true
	}

	subs, err := b.subSvc.FindMatching(ctx, evt.Type)
	if err != nil {
		return nil, fmt.Errorf("beacon: find subscriptions: %w", err)
	}
	res.Matched = len(subs)

	pending := make([]id.ID, 0, len(subs))
	for _, sub := range subs {
		latest, err := b.store.LatestForPair(ctx, evt.ID, sub.ID)
		switch {
		case err == nil:
			if latest.Status == delivery.StatusPending {
				pending = append(pending, latest.ID)
			}
			continue
		case !errors.Is(err, ErrAttemptNotFound):
			return nil, fmt.Errorf("beacon: lookup delivery: %w", err)
		}

		att := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
		if err := b.store.CreateAttempt(ctx, att); err != nil {
			return nil, fmt.Errorf("beacon: create attempt: %w", err)
		}
		res.Created++
		pending = append(pending, att.ID)
	}

	b.metrics.RecordDispatch(ctx, evt.Type, res.Created)

	qerr := b.submit(ctx, evt.ID, pending, res)

	b.logger.DebugContext(ctx, "event dispatched",
		"event_id", evt.ID.String(),
		"type", evt.Type,
		"matched", res.Matched,
		"created", res.Created,
		"queued", res.Queued,
		"duplicate", res.Duplicate,
	)
	if qerr != nil {
		return res, qerr
	}
	return res, nil
}

// submit hands attempts to the work queue. Rejected attempts stay pending
// in the ledger for the sweep or a repeated dispatch.
func (b *Beacon) submit(ctx context.Context, evtID id.ID, attIDs []id.ID, res *DispatchResult) error {
	var (
		rejected int
		cause    error
	)
	for _, attID := range attIDs {
		if err := b.engine.Submit(attID); err != nil {
			rejected++
			cause = err
			continue
		}
		res.Queued++
	}
	if rejected == 0 {
		return nil
	}

	b.metrics.RecordQueueRejected(ctx, rejected)
	sentinel := ErrDispatchQueueFull
	if errors.Is(cause, queue.ErrClosed) {
		sentinel = ErrEngineStopped
	}
	b.logger.WarnContext(ctx, "deliveries not queued",
		"event_id", evtID.String(),
		"rejected", rejected,
		"error", cause,
	)
	return &DispatchQueueError{EventID: evtID, Rejected: rejected, Err: sentinel}
}

func (b *Beacon) checkCatalog(evt *event.Event) error {
	err := b.catalog.Check(evt.Type, evt.Payload, b.config.StrictCatalog)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrUnknownType):
		return fmt.Errorf("%w: %s", ErrEventTypeNotFound, evt.Type)
	case errors.Is(err, catalog.ErrDeprecated):
		return fmt.Errorf("%w: %s", ErrEventTypeDeprecated, evt.Type)
	case errors.Is(err, catalog.ErrInvalidPayload):
		return fmt.Errorf("%w: %w", ErrPayloadValidationFailed, err)
	default:
		return err
	}
}

// Publish builds an event of eventType from payload and dispatches it.
func (b *Beacon) Publish(ctx context.Context, eventType string, payload any) (*DispatchResult, error) {
	evt, err := event.New(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return b.Dispatch(ctx, evt)
}

// Redeliver starts a new delivery chain for the (event, subscription) pair
// of a failed chain. Only the newest chain of a pair can be redelivered,
// its last attempt must have failed and the subscription must be active.
//
// The MaxRetries+1 attempt bound applies per chain. Each redelivery opens a
// fresh chain with its own DeliveryID, so a pair that was redelivered k times
// can hold up to (k+1)·(MaxRetries+1) attempts.
func (b *Beacon) Redeliver(ctx context.Context, deliveryID id.ID) (*delivery.Attempt, error) {
	chain, err := b.store.ListChain(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrAttemptNotFound
	}
	last := chain[len(chain)-1]
	if last.Status != delivery.StatusFailed {
		return nil, fmt.Errorf("%w: last attempt is %s", ErrRedeliveryNotAllowed, last.Status)
	}

	latest, err := b.store.LatestForPair(ctx, last.EventID, last.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if latest.DeliveryID.String() != deliveryID.String() {
		return nil, fmt.Errorf("%w: superseded by delivery %s", ErrRedeliveryNotAllowed, latest.DeliveryID)
	}

	sub, err := b.store.GetSubscription(ctx, last.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive {
		return nil, fmt.Errorf("%w: subscription inactive", ErrRedeliveryNotAllowed)
	}

	att := delivery.NewAttempt(sub.ID, last.EventID, last.EventType)
	if err := b.store.CreateAttempt(ctx, att); err != nil {
		return nil, fmt.Errorf("beacon: create attempt: %w", err)
	}

	b.logger.InfoContext(ctx, "delivery redelivered",
		"delivery_id", deliveryID.String(),
		"new_delivery_id", att.DeliveryID.String(),
		"subscription_id", sub.ID.String(),
	)

	res := &DispatchResult{EventID: att.EventID}
	if err := b.submit(ctx, att.EventID, []id.ID{att.ID}, res); err != nil {
		return att, err
	}
	return att, nil
}

// GetEvent returns a dispatched event.
func (b *Beacon) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	return b.store.GetEvent(ctx, evtID)
}

// ListEvents returns dispatched events, newest first.
func (b *Beacon) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	return b.store.ListEvents(ctx, opts)
}

// Subscriptions returns the subscription registry.
func (b *Beacon) Subscriptions() *subscription.Service {
	return b.subSvc
}

// Deliveries returns the delivery history service.
func (b *Beacon) Deliveries() *DeliveryService {
	return b.deliveries
}

// Catalog returns the event type catalog.
func (b *Beacon) Catalog() *catalog.Catalog {
	return b.catalog
}

// Health returns the subscription health monitor.
func (b *Beacon) Health() *health.Monitor {
	return b.health
}

// Store returns the underlying store.
func (b *Beacon) Store() store.Store {
	return b.store
}

// QueueLen returns the number of attempts waiting for a worker.
func (b *Beacon) QueueLen() int {
	return b.engine.QueueLen()
}

// Sweep resubmits due attempts from the ledger immediately.
func (b *Beacon) Sweep(ctx context.Context) (int, error) {
	return b.engine.Sweep(ctx)
}

// Ping checks the store.
func (b *Beacon) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.store.Ping(ctx)
}
