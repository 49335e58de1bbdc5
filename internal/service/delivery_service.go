package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/events"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/network"
)

var (
	ErrInvalidStatus    = errors.New("unknown delivery status")
	ErrInvalidPhotoType = errors.New("unknown photo type")
	ErrEmptyPhoto       = errors.New("photo data is empty")
	ErrPhotoTooLarge    = errors.New("photo exceeds the size limit")
	ErrPhotoBacklogFull = errors.New("pending photo backlog is full")
)

// DeliveryService drives the offline-first delivery flow: reads go through
// the local cache, writes go direct when the fleet API is reachable and
// into the action queue when it is not.
type DeliveryService struct {
	store      domain.Store
	remote     domain.FleetClient
	queue      domain.ActionQueuer
	monitor    domain.ConnectivityMonitor
	compressor domain.ImageCompressor
	eventBus   domain.EventPublisher
	driverID   string
	logger     *zerolog.Logger
}

func NewDeliveryService(
	store domain.Store,
	remote domain.FleetClient,
	queue domain.ActionQueuer,
	monitor domain.ConnectivityMonitor,
	compressor domain.ImageCompressor,
	eventBus domain.EventPublisher,
	driverID string,
	logger *zerolog.Logger,
) *DeliveryService {
	return &DeliveryService{
		store:      store,
		remote:     remote,
		queue:      queue,
		monitor:    monitor,
		compressor: compressor,
		eventBus:   eventBus,
		driverID:   driverID,
		logger:     logger,
	}
}

// GetDelivery returns the freshest view of a delivery. A snapshot carrying
// unsynced local edits shadows the remote document until the queue drains;
// otherwise the remote copy is fetched when online and cached for offline
// reads.
func (s *DeliveryService) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	cached, cachedErr := s.store.GetDelivery(ctx, id)
	if cachedErr == nil && cached.SyncStatus != models.SyncStatusSynced {
		return decodeSnapshot(cached)
	}

	if s.monitor.IsOnline() {
		delivery, err := s.remote.GetDelivery(ctx, id)
		if err == nil {
			s.cacheDelivery(ctx, delivery, models.SyncStatusSynced)
			return delivery, nil
		}
		if !network.IsNetworkError(err) {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("delivery_id", id).Msg("remote fetch failed, serving cached snapshot")
	}

	if cachedErr != nil {
		return nil, cachedErr
	}
	return decodeSnapshot(cached)
}

// ListAssignedDeliveries refreshes the assignment list from the fleet API
// when reachable and falls back to cached snapshots otherwise. Snapshots
// with unsynced local edits keep their local state in the result.
func (s *DeliveryService) ListAssignedDeliveries(ctx context.Context) ([]*models.Delivery, error) {
	if !s.monitor.IsOnline() {
		return s.cachedDeliveries(ctx)
	}

	assigned, err := s.remote.ListAssignedDeliveries(ctx, s.driverID)
	if err != nil {
		if network.IsNetworkError(err) {
			s.logger.Warn().Err(err).Msg("assignment refresh failed, serving cached snapshots")
			return s.cachedDeliveries(ctx)
		}
		return nil, err
	}

	out := make([]*models.Delivery, 0, len(assigned))
	for _, delivery := range assigned {
		if cached, cacheErr := s.store.GetDelivery(ctx, delivery.ID); cacheErr == nil && cached.SyncStatus != models.SyncStatusSynced {
			if local, decErr := decodeSnapshot(cached); decErr == nil {
				out = append(out, local)
				continue
			}
		}
		s.cacheDelivery(ctx, delivery, models.SyncStatusSynced)
		out = append(out, delivery)
	}
	return out, nil
}

// UnsyncedDeliveries lists cached deliveries whose local edits still await
// replay against the fleet API.
func (s *DeliveryService) UnsyncedDeliveries(ctx context.Context) ([]*models.Delivery, error) {
	snapshots, err := s.store.DeliveriesBySyncStatus(ctx, models.SyncStatusPending)
	if err != nil {
		return nil, err
	}
	return decodeSnapshots(snapshots, s.logger), nil
}

// AcceptDelivery confirms an assignment. The returned flag reports whether
// the confirmation was queued for later replay instead of sent directly.
func (s *DeliveryService) AcceptDelivery(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, errors.New("delivery id is required")
	}

	now := time.Now().UTC()
	payload := models.AcceptDeliveryPayload{DeliveryID: deliveryID, AcceptedAt: now}
	queued, err := s.queue.ExecuteWithOfflineFallback(ctx, models.ActionAcceptDelivery, payload, func(ctx context.Context) error {
		return s.remote.AcceptDelivery(ctx, deliveryID)
	})
	if err != nil {
		return false, err
	}

	s.markLocalStatus(ctx, deliveryID, models.DeliveryAccepted, queued)
	s.publishEvent(events.EventDeliveryAccepted, events.DeliveryEventPayload{
		DeliveryID: deliveryID,
		Status:     models.DeliveryAccepted,
		Queued:     queued,
		OccurredAt: now,
	})
	return queued, nil
}

// UpdateStatus moves a delivery through its lifecycle. The local snapshot
// reflects the new status immediately; sync status records whether the
// fleet API has confirmed it yet.
func (s *DeliveryService) UpdateStatus(ctx context.Context, deliveryID, status, note string) (bool, error) {
	if deliveryID == "" {
		return false, errors.New("delivery id is required")
	}
	if !ValidStatus(status) {
		return false, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	payload := models.UpdateStatusPayload{DeliveryID: deliveryID, Status: status, Note: note}
	queued, err := s.queue.ExecuteWithOfflineFallback(ctx, models.ActionUpdateStatus, payload, func(ctx context.Context) error {
		return s.remote.UpdateDeliveryStatus(ctx, deliveryID, status, note)
	})
	if err != nil {
		return false, err
	}

	s.markLocalStatus(ctx, deliveryID, status, queued)
	s.publishEvent(events.EventStatusChanged, events.DeliveryEventPayload{
		DeliveryID: deliveryID,
		Status:     status,
		Note:       note,
		Queued:     queued,
		OccurredAt: time.Now().UTC(),
	})
	return queued, nil
}

// ReportIncident files an incident against a delivery, queueing it when
// the fleet API is unreachable.
func (s *DeliveryService) ReportIncident(ctx context.Context, incident *models.IncidentReport) (bool, error) {
	if incident == nil || incident.DeliveryID == "" {
		return false, errors.New("incident needs a delivery id")
	}
	if incident.ReportedAt.IsZero() {
		incident.ReportedAt = time.Now().UTC()
	}

	queued, err := s.queue.ExecuteWithOfflineFallback(ctx, models.ActionReportIncident, incident, func(ctx context.Context) error {
		return s.remote.ReportIncident(ctx, incident)
	})
	if err != nil {
		return false, err
	}

	s.publishEvent(events.EventIncidentReported, events.DeliveryEventPayload{
		DeliveryID: incident.DeliveryID,
		Kind:       incident.Kind,
		Queued:     queued,
		OccurredAt: incident.ReportedAt,
	})
	return queued, nil
}

// RecordLocation sends a position ping, queueing it when offline. DriverID
// and RecordedAt default from service state when left empty.
func (s *DeliveryService) RecordLocation(ctx context.Context, ping *models.LocationPing) (bool, error) {
	if ping == nil {
		return false, errors.New("location ping is required")
	}
	if ping.DriverID == "" {
		ping.DriverID = s.driverID
	}
	if ping.RecordedAt.IsZero() {
		ping.RecordedAt = time.Now().UTC()
	}

	queued, err := s.queue.ExecuteWithOfflineFallback(ctx, models.ActionUpdateLocation, ping, func(ctx context.Context) error {
		return s.remote.UpdateLocation(ctx, ping)
	})
	if err != nil {
		return false, err
	}

	s.publishEvent(events.EventLocationRecorded, events.DeliveryEventPayload{
		Queued:     queued,
		OccurredAt: ping.RecordedAt,
	})
	return queued, nil
}

// AttachPhoto persists a captured image and enqueues its upload. The photo
// travels through the pending photo collection; only a small reference
// payload enters the action queue.
func (s *DeliveryService) AttachPhoto(ctx context.Context, deliveryID, photoType string, data []byte, metadata json.RawMessage) (*models.PendingPhoto, error) {
	if deliveryID == "" {
		return nil, errors.New("delivery id is required")
	}
	if !ValidPhotoType(photoType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhotoType, photoType)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPhoto
	}
	if len(data) > models.MaxPhotoBytes {
		return nil, ErrPhotoTooLarge
	}

	unsynced, err := s.store.UnsyncedPhotos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending photos: %w", err)
	}
	if len(unsynced) >= models.MaxPendingPhotos {
		return nil, ErrPhotoBacklogFull
	}

	stored, compressed := data, false
	if s.compressor != nil {
		stored, compressed = s.compressor.Compress(data)
	}

	photo := &models.PendingPhoto{
		ID:         uuid.NewString(),
		DeliveryID: deliveryID,
		PhotoType:  photoType,
		Data:       stored,
		Metadata:   metadata,
		Compressed: compressed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SavePhoto(ctx, photo); err != nil {
		return nil, fmt.Errorf("failed to persist photo: %w", err)
	}

	if _, err := s.queue.QueueAction(ctx, models.ActionUploadPhoto, models.UploadPhotoPayload{
		PhotoID:    photo.ID,
		DeliveryID: deliveryID,
		PhotoType:  photoType,
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue photo upload: %w", err)
	}

	s.publishEvent(events.EventPhotoAttached, events.DeliveryEventPayload{
		DeliveryID: deliveryID,
		PhotoID:    photo.ID,
		Queued:     true,
		OccurredAt: photo.CreatedAt,
	})
	return photo, nil
}

// ValidStatus reports whether status is a known delivery lifecycle state.
func ValidStatus(status string) bool {
	switch status {
	case models.DeliveryAccepted, models.DeliveryPickedUp, models.DeliveryInTransit,
		models.DeliveryDelivered, models.DeliveryFailed:
		return true
	}
	return false
}

// ValidPhotoType reports whether photoType is an accepted attachment kind.
func ValidPhotoType(photoType string) bool {
	switch photoType {
	case models.PhotoTypeProofOfDelivery, models.PhotoTypeIncident, models.PhotoTypeSignature:
		return true
	}
	return false
}

// markLocalStatus rewrites the cached snapshot so reads reflect the change
// before the fleet API confirms it.
func (s *DeliveryService) markLocalStatus(ctx context.Context, deliveryID, status string, queued bool) {
	delivery := &models.Delivery{ID: deliveryID}
	if cached, err := s.store.GetDelivery(ctx, deliveryID); err == nil {
		if decoded, decErr := decodeSnapshot(cached); decErr == nil {
			delivery = decoded
		}
	}

	delivery.Status = status
	if status == models.DeliveryDelivered && delivery.DeliveredAt == nil {
		now := time.Now().UTC()
		delivery.DeliveredAt = &now
	}

	syncStatus := models.SyncStatusSynced
	if queued {
		syncStatus = models.SyncStatusPending
	}
	s.cacheDelivery(ctx, delivery, syncStatus)
}

func (s *DeliveryService) cacheDelivery(ctx context.Context, delivery *models.Delivery, syncStatus string) {
	data, err := json.Marshal(delivery)
	if err != nil {
		s.logger.Error().Err(err).Str("delivery_id", delivery.ID).Msg("marshal delivery snapshot error")
		return
	}

	snapshot := &models.CachedDelivery{ID: delivery.ID, Data: data, SyncStatus: syncStatus}
	if err := s.store.UpsertDelivery(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Str("delivery_id", delivery.ID).Msg("cache delivery error")
	}
}

func (s *DeliveryService) cachedDeliveries(ctx context.Context) ([]*models.Delivery, error) {
	snapshots, err := s.store.ListDeliveries(ctx)
	if err != nil {
		return nil, err
	}
	return decodeSnapshots(snapshots, s.logger), nil
}

func (s *DeliveryService) publishEvent(eventType string, payload events.DeliveryEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("delivery_id", payload.DeliveryID).Msg("publish event error")
	}
}

func decodeSnapshot(cached *models.CachedDelivery) (*models.Delivery, error) {
	var delivery models.Delivery
	if err := json.Unmarshal(cached.Data, &delivery); err != nil {
		return nil, fmt.Errorf("failed to decode cached delivery %s: %w", cached.ID, err)
	}
	return &delivery, nil
}

func decodeSnapshots(snapshots []*models.CachedDelivery, logger *zerolog.Logger) []*models.Delivery {
	deliveries := make([]*models.Delivery, 0, len(snapshots))
	for _, snapshot := range snapshots {
		delivery, err := decodeSnapshot(snapshot)
		if err != nil {
			logger.Warn().Str("delivery_id", snapshot.ID).Msg("skipping undecodable delivery snapshot")
			continue
		}
		deliveries = append(deliveries, delivery)
	}
	return deliveries
}
