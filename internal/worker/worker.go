package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/metrics"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

// SyncWorker drains the action queue against registered handlers. One drain
// pass runs at a time; each pass snapshots the pending set and works through
// it in creation order, stopping early if connectivity drops.
type SyncWorker struct {
	store          domain.Store
	registry       *Registry
	monitor        domain.ConnectivityMonitor
	retry          RetryPolicy
	handlerTimeout time.Duration
	pace           *rate.Limiter
	logger         *zerolog.Logger

	draining atomic.Bool
	kick     chan struct{}
}

// NewSyncWorker builds a worker with sane defaults.
func NewSyncWorker(store domain.Store, registry *Registry, monitor domain.ConnectivityMonitor, cfg config.SyncConfig, logger *zerolog.Logger) *SyncWorker {
	retry := PolicyFromConfig(cfg)
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	handlerTimeout := time.Duration(cfg.HandlerTimeoutSeconds) * time.Second
	if handlerTimeout == 0 {
		handlerTimeout = 30 * time.Second
	}

	var pace *rate.Limiter
	if cfg.PaceRPS > 0 {
		burst := cfg.PaceBurst
		if burst <= 0 {
			burst = 1
		}
		pace = rate.NewLimiter(rate.Limit(cfg.PaceRPS), burst)
	}

	return &SyncWorker{
		store:          store,
		registry:       registry,
		monitor:        monitor,
		retry:          retry,
		handlerTimeout: handlerTimeout,
		pace:           pace,
		logger:         logger,
		kick:           make(chan struct{}, 1),
	}
}

// Kick requests a drain pass. Safe from any goroutine; requests coalesce
// while a pass is pending.
func (w *SyncWorker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// IsDraining reports whether a drain pass is currently running.
func (w *SyncWorker) IsDraining() bool {
	return w.draining.Load()
}

// Start runs the drain loop until ctx is cancelled. Wakes on an explicit
// kick, on the offline->online edge, and on its own backoff timer.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().
		Int("max_retries", w.retry.MaxRetries).
		Dur("handler_timeout", w.handlerTimeout).
		Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	edges, unsubscribe := w.monitor.Subscribe()
	defer unsubscribe()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	// Catch up on any backlog that survived a restart.
	w.Kick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		case online := <-edges:
			// Connectivity restored is new information: drain now,
			// backoff timers notwithstanding. The offline edge needs no
			// action, the pass guard checks connectivity itself.
			if !online {
				continue
			}
			w.logger.Info().Msg("connectivity restored, draining")
		case <-timer.C:
		}

		delay := w.drain(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if delay > 0 {
			timer.Reset(delay)
		}
	}
}

// drain runs one pass over the pending set. It returns how long to wait
// before the next scheduled pass, or 0 when no follow-up is needed.
func (w *SyncWorker) drain(ctx context.Context) time.Duration {
	if !w.monitor.IsOnline() {
		return 0
	}
	if !w.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer w.draining.Store(false)

	actions, err := w.store.PendingActions(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to load pending actions")
		return 0
	}
	if len(actions) == 0 {
		metrics.SetQueueDepth(0)
		return 0
	}

	w.logger.Info().Int("pending", len(actions)).Msg("drain pass started")
	start := time.Now()

	for i, action := range actions {
		if ctx.Err() != nil {
			return 0
		}
		if !w.monitor.IsOnline() {
			w.logger.Info().Int("remaining", len(actions)-i).Msg("offline mid-pass, stopping drain")
			break
		}
		if w.pace != nil {
			if err := w.pace.Wait(ctx); err != nil {
				return 0
			}
		}
		w.processAction(ctx, action)
	}

	metrics.ObserveDrain(time.Since(start).Seconds())

	remaining, err := w.store.PendingActions(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to reload pending actions")
		return 0
	}
	metrics.SetQueueDepth(len(remaining))

	if len(remaining) == 0 || !w.monitor.IsOnline() {
		return 0
	}

	// Back off keyed on the worst retry count still pending, so a
	// persistently failing remote is probed gently while fresh failures
	// still recover fast.
	maxRetry := 0
	for _, a := range remaining {
		if a.RetryCount > maxRetry {
			maxRetry = a.RetryCount
		}
	}
	delay := w.retry.NextDelay(maxRetry + 1)
	w.logger.Info().
		Int("remaining", len(remaining)).
		Dur("next_attempt_in", delay).
		Msg("drain pass left items pending")
	return delay
}

func (w *SyncWorker) processAction(ctx context.Context, action *models.QueuedAction) {
	handler, ok := w.registry.Get(action.Type)
	if !ok {
		w.logger.Error().
			Str("action_id", action.ID).
			Str("type", action.Type).
			Msg("no handler registered, dead lettering")
		w.moveToDeadLetter(ctx, action, models.DeadLetterHandlerMissing,
			fmt.Sprintf("no handler registered for type %q", action.Type))
		return
	}

	err := w.invoke(ctx, handler, action)
	if err == nil {
		if err := w.store.RemoveAction(ctx, action.ID); err != nil {
			w.logger.Error().Err(err).Str("action_id", action.ID).Msg("failed to remove synced action")
			return
		}
		metrics.IncProcessed(action.Type, metrics.ResultSynced)
		w.logger.Info().Str("action_id", action.ID).Str("type", action.Type).Msg("action synced")
		return
	}

	attempt := action.RetryCount + 1
	if attempt >= w.retry.MaxRetries {
		w.logger.Warn().Err(err).
			Str("action_id", action.ID).
			Str("type", action.Type).
			Int("attempts", attempt).
			Msg("retries exhausted, dead lettering")
		action.RetryCount = attempt
		w.moveToDeadLetter(ctx, action, models.DeadLetterRetriesExhausted, err.Error())
		return
	}

	if uerr := w.store.UpdateActionRetry(ctx, action.ID, attempt, err.Error()); uerr != nil {
		// Leave the stored action untouched; the next pass retries it from
		// the old count.
		w.logger.Error().Err(uerr).Str("action_id", action.ID).Msg("failed to record retry")
		return
	}
	metrics.IncProcessed(action.Type, metrics.ResultRetry)
	w.logger.Warn().Err(err).
		Str("action_id", action.ID).
		Str("type", action.Type).
		Int("retry_count", attempt).
		Msg("action failed, will retry")
}

// invoke runs the handler under the configured timeout, converting panics
// into ordinary failed attempts so one bad handler cannot take down a pass.
func (w *SyncWorker) invoke(ctx context.Context, handler Handler, action *models.QueuedAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	hctx := ctx
	if w.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, w.handlerTimeout)
		defer cancel()
	}
	return handler(hctx, action.Payload)
}

func (w *SyncWorker) moveToDeadLetter(ctx context.Context, action *models.QueuedAction, reason, lastError string) {
	letter := &models.DeadLetterAction{
		ID:         action.ID,
		Type:       action.Type,
		Payload:    action.Payload,
		RetryCount: action.RetryCount,
		Reason:     reason,
		LastError:  &lastError,
		CreatedAt:  action.CreatedAt,
		FailedAt:   time.Now().UTC(),
	}

	// Push before remove: a crash in between leaves the action in both
	// collections, and the dead letter upsert absorbs the rerun.
	if err := w.store.PushDeadLetter(ctx, letter); err != nil {
		w.logger.Error().Err(err).Str("action_id", action.ID).Msg("failed to push dead letter, keeping action pending")
		return
	}
	if err := w.store.RemoveAction(ctx, action.ID); err != nil {
		w.logger.Error().Err(err).Str("action_id", action.ID).Msg("failed to remove dead lettered action")
	}
	metrics.IncProcessed(action.Type, metrics.ResultDeadLetter)
	metrics.IncDeadLetter(reason)
}
