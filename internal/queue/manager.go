package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/database"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/metrics"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/network"
)

// ErrPayloadTooLarge rejects enqueue requests whose payload exceeds
// models.MaxPayloadBytes. Photos travel through the pending photo
// collection, not the action payload.
var ErrPayloadTooLarge = errors.New("action payload too large")

// DrainTrigger is the slice of the sync worker the manager needs: wake it
// up, and know whether a pass is running.
type DrainTrigger interface {
	Kick()
	IsDraining() bool
}

// Manager is the write side of the action queue. It persists new work and
// wakes the worker when a drain is worthwhile.
type Manager struct {
	store   domain.Store
	monitor domain.ConnectivityMonitor
	worker  DrainTrigger
	logger  *zerolog.Logger
}

func NewManager(store domain.Store, monitor domain.ConnectivityMonitor, worker DrainTrigger, logger *zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		monitor: monitor,
		worker:  worker,
		logger:  logger,
	}
}

// QueueAction persists an action and returns once the write is durable.
// payload may be any JSON-marshalable value, or raw JSON bytes. If the
// device is online and no drain is running, the worker is kicked.
func (m *Manager) QueueAction(ctx context.Context, actionType string, payload interface{}) (*models.QueuedAction, error) {
	if actionType == "" {
		return nil, errors.New("action type is required")
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action payload: %w", err)
	}
	if len(raw) > models.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(raw))
	}

	action := &models.QueuedAction{
		ID:        uuid.NewString(),
		Type:      actionType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.EnqueueAction(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to enqueue action: %w", err)
	}

	metrics.IncEnqueued(actionType)
	if count, err := m.store.CountPendingActions(ctx); err == nil {
		metrics.SetQueueDepth(count)
	}

	m.logger.Info().
		Str("action_id", action.ID).
		Str("type", actionType).
		Int("payload_bytes", len(raw)).
		Msg("action queued")

	if m.monitor.IsOnline() && !m.worker.IsDraining() {
		m.worker.Kick()
	}
	return action, nil
}

// ExecuteWithOfflineFallback tries the direct call when online and queues
// the action instead when offline or when the call dies on the wire. A
// server-side rejection is the caller's problem and is never queued.
func (m *Manager) ExecuteWithOfflineFallback(ctx context.Context, actionType string, payload interface{}, direct func(ctx context.Context) error) (bool, error) {
	if !m.monitor.IsOnline() {
		if _, err := m.QueueAction(ctx, actionType, payload); err != nil {
			return false, err
		}
		return true, nil
	}

	err := direct(ctx)
	if err == nil {
		return false, nil
	}
	if !network.IsNetworkError(err) {
		return false, err
	}

	m.logger.Warn().Err(err).Str("type", actionType).Msg("direct call failed on the wire, queueing for replay")
	if _, qerr := m.QueueAction(ctx, actionType, payload); qerr != nil {
		return false, qerr
	}
	return true, nil
}

// RemoveFromQueue drops one pending action, an administrative escape hatch.
func (m *Manager) RemoveFromQueue(ctx context.Context, id string) error {
	if err := m.store.RemoveAction(ctx, id); err != nil {
		return err
	}
	if count, err := m.store.CountPendingActions(ctx); err == nil {
		metrics.SetQueueDepth(count)
	}
	m.logger.Info().Str("action_id", id).Msg("action removed from queue")
	return nil
}

// ClearQueue drops every pending action and returns how many were removed.
func (m *Manager) ClearQueue(ctx context.Context) (int, error) {
	count, err := m.store.ClearActions(ctx)
	if err != nil {
		return 0, err
	}
	metrics.SetQueueDepth(0)
	m.logger.Warn().Int("removed", count).Msg("queue cleared")
	return count, nil
}

// ReplayDeadLetter moves a terminal action back into the queue with a fresh
// retry budget. The original creation time is kept so replays land in their
// original order relative to other pending work.
func (m *Manager) ReplayDeadLetter(ctx context.Context, id string) error {
	letter, err := m.store.GetDeadLetter(ctx, id)
	if err != nil {
		return err
	}

	action := &models.QueuedAction{
		ID:        letter.ID,
		Type:      letter.Type,
		Payload:   letter.Payload,
		CreatedAt: letter.CreatedAt,
	}

	// Enqueue before removing the letter: a crash in between leaves both
	// records, which the dead letter upsert reconciles if the replay fails
	// again.
	if err := m.store.EnqueueAction(ctx, action); err != nil {
		return fmt.Errorf("failed to requeue dead letter: %w", err)
	}
	if err := m.store.RemoveDeadLetter(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to remove replayed dead letter: %w", err)
	}

	m.logger.Info().Str("action_id", id).Str("type", letter.Type).Msg("dead letter replayed")

	if m.monitor.IsOnline() && !m.worker.IsDraining() {
		m.worker.Kick()
	}
	return nil
}

// ReplayAllDeadLetters requeues every dead letter, oldest first, and
// returns how many were moved.
func (m *Manager) ReplayAllDeadLetters(ctx context.Context) (int, error) {
	letters, err := m.store.DeadLetters(ctx, 0)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for i := len(letters) - 1; i >= 0; i-- {
		if err := m.ReplayDeadLetter(ctx, letters[i].ID); err != nil {
			return replayed, fmt.Errorf("failed to replay %s: %w", letters[i].ID, err)
		}
		replayed++
	}
	return replayed, nil
}

// Status is the introspection surface for UI badges and the status API.
type Status struct {
	Online         bool       `json:"online"`
	Draining       bool       `json:"draining"`
	PendingActions int        `json:"pending_actions"`
	DeadLetters    int        `json:"dead_letters"`
	UnsyncedPhotos int        `json:"unsynced_photos"`
	LastBackupAt   *time.Time `json:"last_backup_at,omitempty"`
}

// Status reports queue and connectivity state in one read.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	pending, err := m.store.CountPendingActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending actions: %w", err)
	}
	dead, err := m.store.CountDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	photos, err := m.store.UnsyncedPhotos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced photos: %w", err)
	}

	status := &Status{
		Online:         m.monitor.IsOnline(),
		Draining:       m.worker.IsDraining(),
		PendingActions: pending,
		DeadLetters:    dead,
		UnsyncedPhotos: len(photos),
	}

	if setting, err := m.store.GetSetting(ctx, database.SettingLastBackupAt); err == nil {
		if at, perr := time.Parse(time.RFC3339, setting.Value); perr == nil {
			status.LastBackupAt = &at
		}
	}
	return status, nil
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, errors.New("payload is required")
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
