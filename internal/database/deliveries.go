package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

func (db *DB) UpsertDelivery(ctx context.Context, delivery *models.CachedDelivery) error {
	now := time.Now()
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = now
	}
	delivery.UpdatedAt = now

	query := `INSERT INTO cached_deliveries (id, data, sync_status, retry_count, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                data = excluded.data,
                sync_status = excluded.sync_status,
                retry_count = excluded.retry_count,
                updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query,
		delivery.ID,
		[]byte(delivery.Data),
		delivery.SyncStatus,
		delivery.RetryCount,
		delivery.CreatedAt.UTC(),
		delivery.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery: %w", err)
	}
	return nil
}

func (db *DB) GetDelivery(ctx context.Context, id string) (*models.CachedDelivery, error) {
	query := `SELECT id, data, sync_status, retry_count, created_at, updated_at
              FROM cached_deliveries WHERE id = ?`
	d := &models.CachedDelivery{}
	var data []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &data, &d.SyncStatus, &d.RetryCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	d.Data = data
	return d, nil
}

func (db *DB) ListDeliveries(ctx context.Context) ([]*models.CachedDelivery, error) {
	query := `SELECT id, data, sync_status, retry_count, created_at, updated_at
              FROM cached_deliveries ORDER BY updated_at DESC`
	return db.queryDeliveries(ctx, query)
}

func (db *DB) DeliveriesBySyncStatus(ctx context.Context, status string) ([]*models.CachedDelivery, error) {
	query := `SELECT id, data, sync_status, retry_count, created_at, updated_at
              FROM cached_deliveries WHERE sync_status = ? ORDER BY updated_at DESC`
	return db.queryDeliveries(ctx, query, status)
}

func (db *DB) queryDeliveries(ctx context.Context, query string, args ...interface{}) ([]*models.CachedDelivery, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.CachedDelivery
	for rows.Next() {
		d := &models.CachedDelivery{}
		var data []byte
		if err := rows.Scan(&d.ID, &data, &d.SyncStatus, &d.RetryCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.Data = data
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (db *DB) UpdateDeliverySyncStatus(ctx context.Context, id, status string) error {
	query := `UPDATE cached_deliveries SET sync_status = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update delivery sync status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) RemoveDelivery(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM cached_deliveries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove delivery: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
