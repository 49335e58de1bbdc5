package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

func TestDeliveriesCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	delivery := &models.CachedDelivery{
		ID:         "dl-1",
		Data:       []byte(`{"id":"dl-1","status":"in_transit"}`),
		SyncStatus: models.SyncStatusSynced,
	}
	require.NoError(t, db.UpsertDelivery(ctx, delivery))
	createdAt := delivery.CreatedAt
	assert.False(t, createdAt.IsZero())

	got, err := db.GetDelivery(ctx, "dl-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"dl-1","status":"in_transit"}`, string(got.Data))
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	// Upsert over the existing row replaces data but keeps created_at
	got.Data = []byte(`{"id":"dl-1","status":"delivered"}`)
	got.SyncStatus = models.SyncStatusPending
	require.NoError(t, db.UpsertDelivery(ctx, got))

	updated, err := db.GetDelivery(ctx, "dl-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"dl-1","status":"delivered"}`, string(updated.Data))
	assert.Equal(t, models.SyncStatusPending, updated.SyncStatus)
	assert.Equal(t, createdAt.Unix(), updated.CreatedAt.Unix())

	require.NoError(t, db.UpsertDelivery(ctx, &models.CachedDelivery{
		ID:         "dl-2",
		Data:       []byte(`{"id":"dl-2"}`),
		SyncStatus: models.SyncStatusSynced,
	}))

	all, err := db.ListDeliveries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := db.DeliveriesBySyncStatus(ctx, models.SyncStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "dl-1", pending[0].ID)

	require.NoError(t, db.UpdateDeliverySyncStatus(ctx, "dl-1", models.SyncStatusSynced))
	pending, _ = db.DeliveriesBySyncStatus(ctx, models.SyncStatusPending)
	assert.Len(t, pending, 0)

	require.NoError(t, db.RemoveDelivery(ctx, "dl-1"))
	_, err = db.GetDelivery(ctx, "dl-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeliveries_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	_, err := db.GetDelivery(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.UpdateDeliverySyncStatus(ctx, "missing", models.SyncStatusSynced)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.RemoveDelivery(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
