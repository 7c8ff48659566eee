package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/observability"
	"github.com/xraph/beacon/queue"
	"github.com/xraph/beacon/ratelimit"
	"github.com/xraph/beacon/subscription"
)

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	SchedulerStore
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Workers         int
	QueueSize       int
	SweepInterval   time.Duration
	SweepBatchSize  int
	SweepGrace      time.Duration
	ShutdownTimeout time.Duration
	MaxRetryDelay   time.Duration
	Executor        ExecutorConfig
	Metrics         *observability.Metrics
	Tracer          *observability.Tracer
}

func (c *EngineConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 100
	}
	if c.SweepGrace < 0 {
		c.SweepGrace = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Engine is the delivery worker pool. Workers drain a bounded queue of
// attempt IDs; retries re-enter the queue through timers; a sweep loop
// re-submits due attempts found in the ledger.
type Engine struct {
	store     EngineStore
	queue     *queue.Queue[id.ID]
	executor  *Executor
	scheduler *Scheduler
	limiter   *ratelimit.Limiter
	config    EngineConfig
	logger    *slog.Logger

	mu        sync.Mutex
	started   bool
	quit      chan struct{}
	stopOnce  sync.Once
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, health HealthNotifier, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()

	q := queue.New[id.ID](cfg.QueueSize)
	return &Engine{
		store:     store,
		queue:     q,
		executor:  NewExecutor(cfg.Executor),
		scheduler: NewScheduler(store, health, q, cfg.MaxRetryDelay, logger),
		limiter:   ratelimit.New(),
		config:    cfg,
		logger:    logger,
		quit:      make(chan struct{}),
	}
}

// Submit enqueues an attempt for immediate execution without blocking. It
// returns queue.ErrFull or queue.ErrClosed when the attempt was not queued.
func (e *Engine) Submit(attID id.ID) error {
	return e.queue.Submit(attID)
}

// QueueLen returns the number of attempts waiting for a worker.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Limiter returns the per-subscription rate limiter.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// Start launches the workers and the sweep loop. The sweep loop also ends
// when ctx is cancelled; workers run until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancelRun = cancel

	for range e.config.Workers {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.worker(runCtx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweepLoop(ctx, runCtx)
	}()
}

// Stop stops accepting work and waits for in-flight attempts. Attempts
// still running after ShutdownTimeout (or when ctx ends) have their
// requests cancelled. Queued and scheduled attempts stay in the ledger and
// are picked up by the sweep on the next start.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.quit)
		e.queue.Close()
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	e.mu.Lock()
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.mu.Unlock()
	<-done
	return ctx.Err()
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-e.quit:
			return
		case attID, ok := <-e.queue.C():
			if !ok {
				return
			}
			e.process(ctx, attID)
		}
	}
}

// sweepLoop periodically re-submits due attempts from the ledger.
func (e *Engine) sweepLoop(ctx, runCtx context.Context) {
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	e.sweepOnce(runCtx)
	for {
		select {
		case <-e.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(runCtx)
		}
	}
}

func (e *Engine) sweepOnce(ctx context.Context) {
	if _, err := e.Sweep(ctx); err != nil {
		e.logger.ErrorContext(ctx, "sweep failed", "error", err)
	}
	if err := e.config.Metrics.Refresh(ctx); err != nil {
		e.logger.WarnContext(ctx, "refresh gauges failed", "error", err)
	}
}

// Sweep submits pending and retrying attempts that have been due for longer
// than the sweep grace period. It returns the number submitted. Duplicate
// submissions are harmless because execution claims the attempt first.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	before := time.Now().UTC().Add(-e.config.SweepGrace)
	due, err := e.store.ListDue(ctx, before, e.config.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, att := range due {
		if err := e.queue.Submit(att.ID); err != nil {
			if errors.Is(err, queue.ErrFull) {
				e.logger.DebugContext(ctx, "sweep stopped: queue full", "submitted", submitted)
			}
			break
		}
		submitted++
	}
	if submitted > 0 {
		e.logger.DebugContext(ctx, "sweep resubmitted attempts", "count", submitted)
	}
	return submitted, nil
}

// process executes one attempt: guard, claim, send, then hand the outcome
// to the scheduler.
func (e *Engine) process(ctx context.Context, attID id.ID) {
	att, err := e.store.GetAttempt(ctx, attID)
	if err != nil {
		// Deleted together with its subscription.
		e.logger.DebugContext(ctx, "attempt not loaded", "attempt_id", attID.String(), "error", err)
		return
	}
	if !att.Status.Claimable() {
		return
	}
	if att.NextRetryAt != nil && att.NextRetryAt.After(time.Now()) {
		// Submitted early by a sweep race; wait for the timer.
		_ = e.queue.SubmitAt(att.ID, *att.NextRetryAt)
		return
	}

	sub, err := e.store.GetSubscription(ctx, att.SubscriptionID)
	if errors.Is(err, subscription.ErrNotFound) {
		e.cancel(ctx, att, "subscription deleted")
		return
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "get subscription failed",
			"attempt_id", att.ID.String(), "subscription_id", att.SubscriptionID.String(), "error", err)
		return
	}

	if sub.RateLimit > 0 {
		if err := e.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); err != nil {
			return
		}
		// The subscription may have changed while waiting.
		sub, err = e.store.GetSubscription(ctx, att.SubscriptionID)
		if errors.Is(err, subscription.ErrNotFound) {
			e.cancel(ctx, att, "subscription deleted")
			return
		}
		if err != nil {
			return
		}
	}

	if !sub.IsActive {
		e.cancel(ctx, att, "subscription inactive")
		return
	}

	evt, err := e.store.GetEvent(ctx, att.EventID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get event failed",
			"attempt_id", att.ID.String(), "event_id", att.EventID.String(), "error", err)
		return
	}

	claimed, err := e.store.ClaimAttempt(ctx, att.ID, time.Now().UTC())
	if err != nil {
		e.logger.DebugContext(ctx, "claim skipped", "attempt_id", att.ID.String(), "error", err)
		return
	}

	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx,
			claimed.ID.String(), claimed.DeliveryID.String(), claimed.EventID.String(),
			claimed.SubscriptionID.String(), claimed.AttemptNumber)
	}

	out := e.executor.Execute(ctx, sub, evt, claimed)

	status := StatusSuccess
	if !out.Success {
		status = StatusFailed
	}
	e.config.Metrics.RecordDelivery(ctx, status.String(), out.Duration)

	if span != nil {
		code := 0
		if out.ResponseCode != nil {
			code = *out.ResponseCode
		}
		e.config.Tracer.EndDeliverySpan(span, code, out.Duration, out.ErrorMessage())
	}

	e.logger.DebugContext(ctx, "attempt executed",
		"attempt_id", claimed.ID.String(),
		"delivery_id", claimed.DeliveryID.String(),
		"attempt", claimed.AttemptNumber,
		"status", status.String(),
		"duration", out.Duration,
	)

	// The outcome is recorded even when shutdown cancelled the request.
	if _, err := e.scheduler.Handle(context.WithoutCancel(ctx), sub, claimed, out); err != nil {
		e.logger.ErrorContext(ctx, "record outcome failed",
			"attempt_id", claimed.ID.String(), "error", err)
	}
}

// cancel ends an attempt that must not be sent. why is logged only; the
// recorded message is always CancelledMessage.
func (e *Engine) cancel(ctx context.Context, att *Attempt, why string) {
	if err := e.store.CancelAttempt(ctx, att.ID, CancelledMessage); err != nil {
		e.logger.DebugContext(ctx, "cancel skipped", "attempt_id", att.ID.String(), "error", err)
		return
	}
	e.config.Metrics.RecordDelivery(ctx, "cancelled", 0)
	e.logger.InfoContext(ctx, "attempt cancelled",
		"attempt_id", att.ID.String(),
		"subscription_id", att.SubscriptionID.String(),
		"reason", why,
	)
}
