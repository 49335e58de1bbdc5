package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

func TestDeadLetterCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	lastErr := "503 service unavailable"
	now := time.Now()

	older := &models.DeadLetterAction{
		ID:         "d1",
		Type:       models.ActionUpdateStatus,
		Payload:    []byte(`{"status":"delivered"}`),
		RetryCount: 5,
		Reason:     models.DeadLetterRetriesExhausted,
		LastError:  &lastErr,
		CreatedAt:  now.Add(-2 * time.Hour),
		FailedAt:   now.Add(-time.Hour),
	}
	newer := &models.DeadLetterAction{
		ID:        "d2",
		Type:      "unknown_type",
		Payload:   []byte(`{}`),
		Reason:    models.DeadLetterHandlerMissing,
		CreatedAt: now.Add(-time.Hour),
		FailedAt:  now,
	}

	require.NoError(t, db.PushDeadLetter(ctx, older))
	require.NoError(t, db.PushDeadLetter(ctx, newer))

	count, err := db.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Newest failure first
	letters, err := db.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, "d2", letters[0].ID)
	assert.Equal(t, "d1", letters[1].ID)

	letters, err = db.DeadLetters(ctx, 1)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "d2", letters[0].ID)

	got, err := db.GetDeadLetter(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterRetriesExhausted, got.Reason)
	require.NotNil(t, got.LastError)
	assert.Equal(t, lastErr, *got.LastError)

	require.NoError(t, db.RemoveDeadLetter(ctx, "d1"))
	_, err = db.GetDeadLetter(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cleared, err := db.ClearDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
}

func TestPushDeadLetter_ReplacesOnSameID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	first := &models.DeadLetterAction{
		ID:         "d1",
		Type:       models.ActionUpdateStatus,
		Payload:    []byte(`{}`),
		RetryCount: 5,
		Reason:     models.DeadLetterRetriesExhausted,
		FailedAt:   time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.PushDeadLetter(ctx, first))

	// A replayed action failing again lands on the same id
	again := *first
	again.RetryCount = 10
	again.FailedAt = time.Now()
	require.NoError(t, db.PushDeadLetter(ctx, &again))

	count, err := db.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := db.GetDeadLetter(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.RetryCount)
}
