package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

// Redis hash per collection, one field per record id. Meant for hosts that
// already run a persistent (appendonly) Redis; the sqlite store stays the
// default backend.
const (
	keyActions    = "queued_actions"
	keyDeadLetter = "dead_letter"
	keyDeliveries = "cached_deliveries"
	keyPhotos     = "pending_photos"
	keySettings   = "settings"
)

type RedisStore struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	return redis.NewClient(options)
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// PingContext lets readiness probes check the backend connection.
func (r *RedisStore) PingContext(ctx context.Context) error {
	return Ping(ctx, r.client)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Queued actions

func (r *RedisStore) EnqueueAction(ctx context.Context, action *models.QueuedAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	return setHashJSON(ctx, r.client, keyActions, action.ID, action)
}

func (r *RedisStore) GetAction(ctx context.Context, id string) (*models.QueuedAction, error) {
	action := &models.QueuedAction{}
	if err := getHashJSON(ctx, r.client, keyActions, id, action); err != nil {
		return nil, err
	}
	return action, nil
}

func (r *RedisStore) PendingActions(ctx context.Context) ([]*models.QueuedAction, error) {
	values, err := r.client.HGetAll(ctx, keyActions).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending actions from redis: %w", err)
	}

	actions := make([]*models.QueuedAction, 0, len(values))
	for _, raw := range values {
		a := &models.QueuedAction{}
		if err := json.Unmarshal([]byte(raw), a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queued action: %w", err)
		}
		actions = append(actions, a)
	}

	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].ID < actions[j].ID
		}
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
	return actions, nil
}

func (r *RedisStore) CountPendingActions(ctx context.Context) (int, error) {
	count, err := r.client.HLen(ctx, keyActions).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions in redis: %w", err)
	}
	return int(count), nil
}

func (r *RedisStore) UpdateActionRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	action, err := r.GetAction(ctx, id)
	if err != nil {
		return err
	}
	action.RetryCount = retryCount
	action.LastError = &lastError
	return setHashJSON(ctx, r.client, keyActions, id, action)
}

func (r *RedisStore) RemoveAction(ctx context.Context, id string) error {
	return delHashField(ctx, r.client, keyActions, id)
}

func (r *RedisStore) ClearActions(ctx context.Context) (int, error) {
	return clearHash(ctx, r.client, keyActions)
}

// Dead letter

func (r *RedisStore) PushDeadLetter(ctx context.Context, action *models.DeadLetterAction) error {
	if action.FailedAt.IsZero() {
		action.FailedAt = time.Now().UTC()
	}
	return setHashJSON(ctx, r.client, keyDeadLetter, action.ID, action)
}

func (r *RedisStore) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterAction, error) {
	letter := &models.DeadLetterAction{}
	if err := getHashJSON(ctx, r.client, keyDeadLetter, id, letter); err != nil {
		return nil, err
	}
	return letter, nil
}

func (r *RedisStore) DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetterAction, error) {
	values, err := r.client.HGetAll(ctx, keyDeadLetter).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters from redis: %w", err)
	}

	letters := make([]*models.DeadLetterAction, 0, len(values))
	for _, raw := range values {
		d := &models.DeadLetterAction{}
		if err := json.Unmarshal([]byte(raw), d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		letters = append(letters, d)
	}

	sort.Slice(letters, func(i, j int) bool {
		return letters[i].FailedAt.After(letters[j].FailedAt)
	})
	if limit > 0 && len(letters) > limit {
		letters = letters[:limit]
	}
	return letters, nil
}

func (r *RedisStore) CountDeadLetters(ctx context.Context) (int, error) {
	count, err := r.client.HLen(ctx, keyDeadLetter).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters in redis: %w", err)
	}
	return int(count), nil
}

func (r *RedisStore) RemoveDeadLetter(ctx context.Context, id string) error {
	return delHashField(ctx, r.client, keyDeadLetter, id)
}

func (r *RedisStore) ClearDeadLetters(ctx context.Context) (int, error) {
	return clearHash(ctx, r.client, keyDeadLetter)
}

// Cached deliveries

func (r *RedisStore) UpsertDelivery(ctx context.Context, delivery *models.CachedDelivery) error {
	now := time.Now().UTC()
	existing, err := r.GetDelivery(ctx, delivery.ID)
	switch {
	case err == nil:
		delivery.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		if delivery.CreatedAt.IsZero() {
			delivery.CreatedAt = now
		}
	default:
		return err
	}
	delivery.UpdatedAt = now
	return setHashJSON(ctx, r.client, keyDeliveries, delivery.ID, delivery)
}

func (r *RedisStore) GetDelivery(ctx context.Context, id string) (*models.CachedDelivery, error) {
	delivery := &models.CachedDelivery{}
	if err := getHashJSON(ctx, r.client, keyDeliveries, id, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

func (r *RedisStore) ListDeliveries(ctx context.Context) ([]*models.CachedDelivery, error) {
	deliveries, err := r.allDeliveries(ctx)
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *RedisStore) DeliveriesBySyncStatus(ctx context.Context, status string) ([]*models.CachedDelivery, error) {
	all, err := r.allDeliveries(ctx)
	if err != nil {
		return nil, err
	}
	var filtered []*models.CachedDelivery
	for _, d := range all {
		if d.SyncStatus == status {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (r *RedisStore) allDeliveries(ctx context.Context) ([]*models.CachedDelivery, error) {
	values, err := r.client.HGetAll(ctx, keyDeliveries).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get deliveries from redis: %w", err)
	}

	deliveries := make([]*models.CachedDelivery, 0, len(values))
	for _, raw := range values {
		d := &models.CachedDelivery{}
		if err := json.Unmarshal([]byte(raw), d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].UpdatedAt.After(deliveries[j].UpdatedAt)
	})
	return deliveries, nil
}

func (r *RedisStore) UpdateDeliverySyncStatus(ctx context.Context, id, status string) error {
	delivery, err := r.GetDelivery(ctx, id)
	if err != nil {
		return err
	}
	delivery.SyncStatus = status
	delivery.UpdatedAt = time.Now().UTC()
	return setHashJSON(ctx, r.client, keyDeliveries, id, delivery)
}

func (r *RedisStore) RemoveDelivery(ctx context.Context, id string) error {
	return delHashField(ctx, r.client, keyDeliveries, id)
}

// Pending photos

// redisPhoto re-exposes the image bytes that PendingPhoto hides from its
// JSON form.
type redisPhoto struct {
	models.PendingPhoto
	Data []byte `json:"data"`
}

func (r *RedisStore) SavePhoto(ctx context.Context, photo *models.PendingPhoto) error {
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	return setHashJSON(ctx, r.client, keyPhotos, photo.ID, &redisPhoto{PendingPhoto: *photo, Data: photo.Data})
}

func (r *RedisStore) GetPhoto(ctx context.Context, id string) (*models.PendingPhoto, error) {
	rp := &redisPhoto{}
	if err := getHashJSON(ctx, r.client, keyPhotos, id, rp); err != nil {
		return nil, err
	}
	photo := rp.PendingPhoto
	photo.Data = rp.Data
	return &photo, nil
}

func (r *RedisStore) PhotosByDelivery(ctx context.Context, deliveryID string) ([]*models.PendingPhoto, error) {
	return r.filterPhotos(ctx, func(p *models.PendingPhoto) bool {
		return p.DeliveryID == deliveryID
	})
}

func (r *RedisStore) UnsyncedPhotos(ctx context.Context) ([]*models.PendingPhoto, error) {
	return r.filterPhotos(ctx, func(p *models.PendingPhoto) bool {
		return !p.Synced
	})
}

func (r *RedisStore) filterPhotos(ctx context.Context, keep func(*models.PendingPhoto) bool) ([]*models.PendingPhoto, error) {
	values, err := r.client.HGetAll(ctx, keyPhotos).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get photos from redis: %w", err)
	}

	var photos []*models.PendingPhoto
	for _, raw := range values {
		rp := &redisPhoto{}
		if err := json.Unmarshal([]byte(raw), rp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal photo: %w", err)
		}
		photo := rp.PendingPhoto
		photo.Data = rp.Data
		if keep(&photo) {
			photos = append(photos, &photo)
		}
	}

	sort.Slice(photos, func(i, j int) bool {
		return photos[i].CreatedAt.Before(photos[j].CreatedAt)
	})
	return photos, nil
}

func (r *RedisStore) MarkPhotoSynced(ctx context.Context, id string) error {
	photo, err := r.GetPhoto(ctx, id)
	if err != nil {
		return err
	}
	photo.Synced = true
	return setHashJSON(ctx, r.client, keyPhotos, id, &redisPhoto{PendingPhoto: *photo, Data: photo.Data})
}

func (r *RedisStore) RemovePhoto(ctx context.Context, id string) error {
	return delHashField(ctx, r.client, keyPhotos, id)
}

// Settings

func (r *RedisStore) SetSetting(ctx context.Context, key, value string) error {
	setting := &models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return setHashJSON(ctx, r.client, keySettings, key, setting)
}

func (r *RedisStore) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	setting := &models.Setting{}
	if err := getHashJSON(ctx, r.client, keySettings, key, setting); err != nil {
		return nil, err
	}
	return setting, nil
}

func (r *RedisStore) Settings(ctx context.Context) ([]*models.Setting, error) {
	values, err := r.client.HGetAll(ctx, keySettings).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings from redis: %w", err)
	}

	settings := make([]*models.Setting, 0, len(values))
	for _, raw := range values {
		s := &models.Setting{}
		if err := json.Unmarshal([]byte(raw), s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal setting: %w", err)
		}
		settings = append(settings, s)
	}

	sort.Slice(settings, func(i, j int) bool {
		return settings[i].Key < settings[j].Key
	})
	return settings, nil
}

func (r *RedisStore) DeleteSetting(ctx context.Context, key string) error {
	return delHashField(ctx, r.client, keySettings, key)
}

// hash helpers

func setHashJSON(ctx context.Context, client *redis.Client, key, field string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", key, err)
	}
	if err := client.HSet(ctx, key, field, data).Err(); err != nil {
		return fmt.Errorf("failed to write %s record to redis: %w", key, err)
	}
	return nil
}

func getHashJSON(ctx context.Context, client *redis.Client, key, field string, out interface{}) error {
	raw, err := client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s record from redis: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s record: %w", key, err)
	}
	return nil
}

func delHashField(ctx context.Context, client *redis.Client, key, field string) error {
	removed, err := client.HDel(ctx, key, field).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s record from redis: %w", key, err)
	}
	if removed == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func clearHash(ctx context.Context, client *redis.Client, key string) (int, error) {
	count, err := client.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records in redis: %w", key, err)
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return 0, fmt.Errorf("failed to clear %s in redis: %w", key, err)
	}
	return int(count), nil
}
