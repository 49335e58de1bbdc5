package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

// MemoryStore keeps every collection in plain maps. Nothing survives a
// restart; it exists for tests and for running the agent without a disk.
type MemoryStore struct {
	mu         sync.RWMutex
	actions    map[string]*models.QueuedAction
	deadLetter map[string]*models.DeadLetterAction
	deliveries map[string]*models.CachedDelivery
	photos     map[string]*models.PendingPhoto
	settings   map[string]*models.Setting
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions:    make(map[string]*models.QueuedAction),
		deadLetter: make(map[string]*models.DeadLetterAction),
		deliveries: make(map[string]*models.CachedDelivery),
		photos:     make(map[string]*models.PendingPhoto),
		settings:   make(map[string]*models.Setting),
	}
}

func (m *MemoryStore) Close() error {
	return nil
}

// Queued actions

func (m *MemoryStore) EnqueueAction(_ context.Context, action *models.QueuedAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	m.actions[action.ID] = copyAction(action)
	return nil
}

func (m *MemoryStore) GetAction(_ context.Context, id string) (*models.QueuedAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	action, ok := m.actions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyAction(action), nil
}

func (m *MemoryStore) PendingActions(_ context.Context) ([]*models.QueuedAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	actions := make([]*models.QueuedAction, 0, len(m.actions))
	for _, a := range m.actions {
		actions = append(actions, copyAction(a))
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].ID < actions[j].ID
		}
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
	return actions, nil
}

func (m *MemoryStore) CountPendingActions(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actions), nil
}

func (m *MemoryStore) UpdateActionRetry(_ context.Context, id string, retryCount int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return domain.ErrNotFound
	}
	action.RetryCount = retryCount
	action.LastError = &lastError
	return nil
}

func (m *MemoryStore) RemoveAction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.actions, id)
	return nil
}

func (m *MemoryStore) ClearActions(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.actions)
	m.actions = make(map[string]*models.QueuedAction)
	return count, nil
}

// Dead letter

func (m *MemoryStore) PushDeadLetter(_ context.Context, action *models.DeadLetterAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if action.FailedAt.IsZero() {
		action.FailedAt = time.Now().UTC()
	}
	m.deadLetter[action.ID] = copyDeadLetter(action)
	return nil
}

func (m *MemoryStore) GetDeadLetter(_ context.Context, id string) (*models.DeadLetterAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	letter, ok := m.deadLetter[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyDeadLetter(letter), nil
}

func (m *MemoryStore) DeadLetters(_ context.Context, limit int) ([]*models.DeadLetterAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	letters := make([]*models.DeadLetterAction, 0, len(m.deadLetter))
	for _, d := range m.deadLetter {
		letters = append(letters, copyDeadLetter(d))
	}
	sort.Slice(letters, func(i, j int) bool {
		return letters[i].FailedAt.After(letters[j].FailedAt)
	})
	if limit > 0 && len(letters) > limit {
		letters = letters[:limit]
	}
	return letters, nil
}

func (m *MemoryStore) CountDeadLetters(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.deadLetter), nil
}

func (m *MemoryStore) RemoveDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadLetter[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.deadLetter, id)
	return nil
}

func (m *MemoryStore) ClearDeadLetters(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.deadLetter)
	m.deadLetter = make(map[string]*models.DeadLetterAction)
	return count, nil
}

// Cached deliveries

func (m *MemoryStore) UpsertDelivery(_ context.Context, delivery *models.CachedDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.deliveries[delivery.ID]; ok {
		delivery.CreatedAt = existing.CreatedAt
	} else if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = now
	}
	delivery.UpdatedAt = now
	m.deliveries[delivery.ID] = copyDelivery(delivery)
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id string) (*models.CachedDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyDelivery(delivery), nil
}

func (m *MemoryStore) ListDeliveries(_ context.Context) ([]*models.CachedDelivery, error) {
	return m.filterDeliveries(func(*models.CachedDelivery) bool { return true })
}

func (m *MemoryStore) DeliveriesBySyncStatus(_ context.Context, status string) ([]*models.CachedDelivery, error) {
	return m.filterDeliveries(func(d *models.CachedDelivery) bool { return d.SyncStatus == status })
}

func (m *MemoryStore) filterDeliveries(keep func(*models.CachedDelivery) bool) ([]*models.CachedDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var deliveries []*models.CachedDelivery
	for _, d := range m.deliveries {
		if keep(d) {
			deliveries = append(deliveries, copyDelivery(d))
		}
	}
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].UpdatedAt.After(deliveries[j].UpdatedAt)
	})
	return deliveries, nil
}

func (m *MemoryStore) UpdateDeliverySyncStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delivery, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	delivery.SyncStatus = status
	delivery.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) RemoveDelivery(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.deliveries, id)
	return nil
}

// Pending photos

func (m *MemoryStore) SavePhoto(_ context.Context, photo *models.PendingPhoto) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	m.photos[photo.ID] = copyPhoto(photo)
	return nil
}

func (m *MemoryStore) GetPhoto(_ context.Context, id string) (*models.PendingPhoto, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	photo, ok := m.photos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPhoto(photo), nil
}

func (m *MemoryStore) PhotosByDelivery(_ context.Context, deliveryID string) ([]*models.PendingPhoto, error) {
	return m.filterPhotos(func(p *models.PendingPhoto) bool { return p.DeliveryID == deliveryID })
}

func (m *MemoryStore) UnsyncedPhotos(_ context.Context) ([]*models.PendingPhoto, error) {
	return m.filterPhotos(func(p *models.PendingPhoto) bool { return !p.Synced })
}

func (m *MemoryStore) filterPhotos(keep func(*models.PendingPhoto) bool) ([]*models.PendingPhoto, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var photos []*models.PendingPhoto
	for _, p := range m.photos {
		if keep(p) {
			photos = append(photos, copyPhoto(p))
		}
	}
	sort.Slice(photos, func(i, j int) bool {
		return photos[i].CreatedAt.Before(photos[j].CreatedAt)
	})
	return photos, nil
}

func (m *MemoryStore) MarkPhotoSynced(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	photo, ok := m.photos[id]
	if !ok {
		return domain.ErrNotFound
	}
	photo.Synced = true
	return nil
}

func (m *MemoryStore) RemovePhoto(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.photos[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.photos, id)
	return nil
}

// Settings

func (m *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = &models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) GetSetting(_ context.Context, key string) (*models.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	setting, ok := m.settings[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *setting
	return &clone, nil
}

func (m *MemoryStore) Settings(_ context.Context) ([]*models.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	settings := make([]*models.Setting, 0, len(m.settings))
	for _, s := range m.settings {
		clone := *s
		settings = append(settings, &clone)
	}
	sort.Slice(settings, func(i, j int) bool {
		return settings[i].Key < settings[j].Key
	})
	return settings, nil
}

func (m *MemoryStore) DeleteSetting(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settings[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.settings, key)
	return nil
}

// Copy helpers. Callers get and hand over private clones so nothing outside
// the store can alias its maps or byte slices.

func copyAction(action *models.QueuedAction) *models.QueuedAction {
	clone := *action
	clone.Payload = append([]byte(nil), action.Payload...)
	if action.LastError != nil {
		lastErr := *action.LastError
		clone.LastError = &lastErr
	}
	return &clone
}

func copyDeadLetter(letter *models.DeadLetterAction) *models.DeadLetterAction {
	clone := *letter
	clone.Payload = append([]byte(nil), letter.Payload...)
	if letter.LastError != nil {
		lastErr := *letter.LastError
		clone.LastError = &lastErr
	}
	return &clone
}

func copyDelivery(delivery *models.CachedDelivery) *models.CachedDelivery {
	clone := *delivery
	clone.Data = append([]byte(nil), delivery.Data...)
	return &clone
}

func copyPhoto(photo *models.PendingPhoto) *models.PendingPhoto {
	clone := *photo
	clone.Data = append([]byte(nil), photo.Data...)
	clone.Metadata = append([]byte(nil), photo.Metadata...)
	return &clone
}
