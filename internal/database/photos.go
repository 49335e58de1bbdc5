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

func (db *DB) SavePhoto(ctx context.Context, photo *models.PendingPhoto) error {
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now()
	}
	query := `INSERT INTO pending_photos (id, delivery_id, photo_type, data, metadata, compressed, synced, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		photo.ID,
		photo.DeliveryID,
		photo.PhotoType,
		photo.Data,
		[]byte(photo.Metadata),
		photo.Compressed,
		photo.Synced,
		photo.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save photo: %w", err)
	}
	return nil
}

func (db *DB) GetPhoto(ctx context.Context, id string) (*models.PendingPhoto, error) {
	query := `SELECT id, delivery_id, photo_type, data, metadata, compressed, synced, created_at
              FROM pending_photos WHERE id = ?`
	p := &models.PendingPhoto{}
	var metadata []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.DeliveryID, &p.PhotoType, &p.Data, &metadata, &p.Compressed, &p.Synced, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	p.Metadata = metadata
	return p, nil
}

func (db *DB) PhotosByDelivery(ctx context.Context, deliveryID string) ([]*models.PendingPhoto, error) {
	query := `SELECT id, delivery_id, photo_type, data, metadata, compressed, synced, created_at
              FROM pending_photos WHERE delivery_id = ? ORDER BY created_at ASC`
	return db.queryPhotos(ctx, query, deliveryID)
}

func (db *DB) UnsyncedPhotos(ctx context.Context) ([]*models.PendingPhoto, error) {
	query := `SELECT id, delivery_id, photo_type, data, metadata, compressed, synced, created_at
              FROM pending_photos WHERE synced = 0 ORDER BY created_at ASC`
	return db.queryPhotos(ctx, query)
}

func (db *DB) queryPhotos(ctx context.Context, query string, args ...interface{}) ([]*models.PendingPhoto, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query photos: %w", err)
	}
	defer rows.Close()

	var photos []*models.PendingPhoto
	for rows.Next() {
		p := &models.PendingPhoto{}
		var metadata []byte
		if err := rows.Scan(&p.ID, &p.DeliveryID, &p.PhotoType, &p.Data, &metadata, &p.Compressed, &p.Synced, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		p.Metadata = metadata
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func (db *DB) MarkPhotoSynced(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `UPDATE pending_photos SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark photo synced: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) RemovePhoto(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM pending_photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove photo: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
