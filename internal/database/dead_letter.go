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

// PushDeadLetter upserts so a replayed action that fails again lands back
// under the same id instead of tripping the primary key.
func (db *DB) PushDeadLetter(ctx context.Context, action *models.DeadLetterAction) error {
	if action.FailedAt.IsZero() {
		action.FailedAt = time.Now()
	}
	query := `INSERT INTO dead_letter (id, type, payload, retry_count, reason, last_error, created_at, failed_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                retry_count = excluded.retry_count,
                reason = excluded.reason,
                last_error = excluded.last_error,
                failed_at = excluded.failed_at`
	_, err := db.ExecContext(ctx, query,
		action.ID,
		action.Type,
		[]byte(action.Payload),
		action.RetryCount,
		action.Reason,
		action.LastError,
		action.CreatedAt.UTC(),
		action.FailedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

func (db *DB) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterAction, error) {
	query := `SELECT id, type, payload, retry_count, reason, last_error, created_at, failed_at
              FROM dead_letter WHERE id = ?`
	d := &models.DeadLetterAction{}
	var payload []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Type, &payload, &d.RetryCount, &d.Reason, &d.LastError, &d.CreatedAt, &d.FailedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	d.Payload = payload
	return d, nil
}

// DeadLetters returns terminal failures, newest first. limit <= 0 means all.
func (db *DB) DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetterAction, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, type, payload, retry_count, reason, last_error, created_at, failed_at
              FROM dead_letter ORDER BY failed_at DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*models.DeadLetterAction
	for rows.Next() {
		d := &models.DeadLetterAction{}
		var payload []byte
		if err := rows.Scan(&d.ID, &d.Type, &payload, &d.RetryCount, &d.Reason, &d.LastError, &d.CreatedAt, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		d.Payload = payload
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

func (db *DB) CountDeadLetters(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

func (db *DB) RemoveDeadLetter(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM dead_letter WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove dead letter: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) ClearDeadLetters(ctx context.Context) (int, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM dead_letter`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear dead letters: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
