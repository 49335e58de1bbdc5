package domain

import (
	"context"
	"errors"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

// ErrNotFound is returned by Store implementations when a lookup misses.
var ErrNotFound = errors.New("record not found")

// Store is the durable local store backing the agent. All collections
// survive restarts; implementations decide the medium (SQLite, Redis,
// memory for tests).
type Store interface {
	// Queued actions, drained FIFO by CreatedAt.
	EnqueueAction(ctx context.Context, action *models.QueuedAction) error
	GetAction(ctx context.Context, id string) (*models.QueuedAction, error)
	PendingActions(ctx context.Context) ([]*models.QueuedAction, error)
	CountPendingActions(ctx context.Context) (int, error)
	UpdateActionRetry(ctx context.Context, id string, retryCount int, lastError string) error
	RemoveAction(ctx context.Context, id string) error
	ClearActions(ctx context.Context) (int, error)

	// Dead letter, terminal failures kept for inspection and replay.
	PushDeadLetter(ctx context.Context, action *models.DeadLetterAction) error
	GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterAction, error)
	DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetterAction, error)
	CountDeadLetters(ctx context.Context) (int, error)
	RemoveDeadLetter(ctx context.Context, id string) error
	ClearDeadLetters(ctx context.Context) (int, error)

	// Cached deliveries.
	UpsertDelivery(ctx context.Context, delivery *models.CachedDelivery) error
	GetDelivery(ctx context.Context, id string) (*models.CachedDelivery, error)
	ListDeliveries(ctx context.Context) ([]*models.CachedDelivery, error)
	DeliveriesBySyncStatus(ctx context.Context, status string) ([]*models.CachedDelivery, error)
	UpdateDeliverySyncStatus(ctx context.Context, id, status string) error
	RemoveDelivery(ctx context.Context, id string) error

	// Pending photos.
	SavePhoto(ctx context.Context, photo *models.PendingPhoto) error
	GetPhoto(ctx context.Context, id string) (*models.PendingPhoto, error)
	PhotosByDelivery(ctx context.Context, deliveryID string) ([]*models.PendingPhoto, error)
	UnsyncedPhotos(ctx context.Context) ([]*models.PendingPhoto, error)
	MarkPhotoSynced(ctx context.Context, id string) error
	RemovePhoto(ctx context.Context, id string) error

	// Settings.
	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	Settings(ctx context.Context) ([]*models.Setting, error)
	DeleteSetting(ctx context.Context, key string) error

	Close() error
}

// ConnectivityMonitor reports whether the fleet API is reachable and
// notifies subscribers on every state change.
type ConnectivityMonitor interface {
	IsOnline() bool
	SetOnline(online bool)
	Subscribe() (<-chan bool, func())
}

// ActionQueuer enqueues actions for later replay against the fleet API.
type ActionQueuer interface {
	QueueAction(ctx context.Context, actionType string, payload interface{}) (*models.QueuedAction, error)
	ExecuteWithOfflineFallback(ctx context.Context, actionType string, payload interface{}, direct func(ctx context.Context) error) (queued bool, err error)
}

// FleetClient talks to the fleet API on behalf of a driver.
type FleetClient interface {
	Ping(ctx context.Context) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	ListAssignedDeliveries(ctx context.Context, driverID string) ([]*models.Delivery, error)
	AcceptDelivery(ctx context.Context, deliveryID string) error
	UpdateDeliveryStatus(ctx context.Context, deliveryID, status, note string) error
	UpdateLocation(ctx context.Context, ping *models.LocationPing) error
	ReportIncident(ctx context.Context, incident *models.IncidentReport) error
	UploadPhoto(ctx context.Context, photo *models.PendingPhoto) error
}

// ImageCompressor shrinks a captured photo before it is persisted.
// It never fails: when the source cannot be decoded or re-encoding does
// not help, the original bytes come back with applied=false.
type ImageCompressor interface {
	Compress(data []byte) (out []byte, applied bool)
}

// EventPublisher fans domain events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
