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

func TestActionsCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	// Insert out of order; PendingActions must come back oldest first
	second := &models.QueuedAction{ID: "a2", Type: models.ActionUpdateLocation, Payload: []byte(`{"lat":1}`), CreatedAt: base.Add(time.Second)}
	third := &models.QueuedAction{ID: "a3", Type: models.ActionReportIncident, Payload: []byte(`{"kind":"delay"}`), CreatedAt: base.Add(2 * time.Second)}
	first := &models.QueuedAction{ID: "a1", Type: models.ActionUpdateStatus, Payload: []byte(`{"status":"delivered"}`), CreatedAt: base}

	require.NoError(t, db.EnqueueAction(ctx, second))
	require.NoError(t, db.EnqueueAction(ctx, third))
	require.NoError(t, db.EnqueueAction(ctx, first))

	actions, err := db.PendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "a1", actions[0].ID)
	assert.Equal(t, "a2", actions[1].ID)
	assert.Equal(t, "a3", actions[2].ID)

	count, err := db.CountPendingActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Retry bookkeeping
	err = db.UpdateActionRetry(ctx, "a1", 2, "connection refused")
	require.NoError(t, err)

	got, err := db.GetAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "connection refused", *got.LastError)
	assert.JSONEq(t, `{"status":"delivered"}`, string(got.Payload))

	// Remove
	require.NoError(t, db.RemoveAction(ctx, "a1"))
	_, err = db.GetAction(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Clear the rest
	cleared, err := db.ClearActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	count, _ = db.CountPendingActions(ctx)
	assert.Equal(t, 0, count)
}

func TestActions_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	_, err := db.GetAction(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.UpdateActionRetry(ctx, "missing", 1, "boom")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.RemoveAction(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnqueueAction_DuplicateID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	action := &models.QueuedAction{ID: "dup", Type: models.ActionUpdateStatus, Payload: []byte(`{}`)}

	require.NoError(t, db.EnqueueAction(ctx, action))
	err := db.EnqueueAction(ctx, &models.QueuedAction{ID: "dup", Type: models.ActionUpdateStatus, Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestEnqueueAction_SetsCreatedAt(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	action := &models.QueuedAction{ID: "a1", Type: models.ActionUpdateStatus, Payload: []byte(`{}`)}

	require.NoError(t, db.EnqueueAction(ctx, action))
	assert.False(t, action.CreatedAt.IsZero())

	got, err := db.GetAction(ctx, "a1")
	require.NoError(t, err)
	assert.WithinDuration(t, action.CreatedAt, got.CreatedAt, time.Second)
}
