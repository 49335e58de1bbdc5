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

func (db *DB) EnqueueAction(ctx context.Context, action *models.QueuedAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	query := `INSERT INTO queued_actions (id, type, payload, retry_count, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		action.ID,
		action.Type,
		[]byte(action.Payload),
		action.RetryCount,
		action.LastError,
		action.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue action: %w", err)
	}
	return nil
}

func (db *DB) GetAction(ctx context.Context, id string) (*models.QueuedAction, error) {
	query := `SELECT id, type, payload, retry_count, last_error, created_at
              FROM queued_actions WHERE id = ?`
	return scanAction(db.QueryRowContext(ctx, query, id))
}

// PendingActions returns the whole queue, oldest first.
func (db *DB) PendingActions(ctx context.Context) ([]*models.QueuedAction, error) {
	query := `SELECT id, type, payload, retry_count, last_error, created_at
              FROM queued_actions ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.QueuedAction
	for rows.Next() {
		a := &models.QueuedAction{}
		var payload []byte
		if err := rows.Scan(&a.ID, &a.Type, &payload, &a.RetryCount, &a.LastError, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queued action: %w", err)
		}
		a.Payload = payload
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (db *DB) CountPendingActions(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_actions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return count, nil
}

func (db *DB) UpdateActionRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	query := `UPDATE queued_actions SET retry_count = ?, last_error = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update action retry state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) RemoveAction(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove action: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) ClearActions(ctx context.Context) (int, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM queued_actions`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear actions: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func scanAction(row *sql.Row) (*models.QueuedAction, error) {
	a := &models.QueuedAction{}
	var payload []byte
	err := row.Scan(&a.ID, &a.Type, &payload, &a.RetryCount, &a.LastError, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queued action: %w", err)
	}
	a.Payload = payload
	return a, nil
}
