package models

import (
	"encoding/json"
	"time"
)

// CachedDelivery is a locally persisted snapshot of a delivery as last seen
// from the fleet API, readable while offline. Data carries the full server
// document; SyncStatus tracks whether local edits still await upload.
type CachedDelivery struct {
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	SyncStatus string          `json:"sync_status"` // pending, syncing, synced, error
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Delivery is the decoded shape of CachedDelivery.Data, as served by the
// fleet API. Only the fields the agent itself inspects are typed; the rest
// round-trips through the raw document.
type Delivery struct {
	ID          string     `json:"id"`
	OrderRef    string     `json:"order_ref"`
	Status      string     `json:"status"` // accepted, picked_up, in_transit, delivered, failed
	DriverID    string     `json:"driver_id"`
	Address     string     `json:"address"`
	Lat         float64    `json:"lat,omitempty"`
	Lon         float64    `json:"lon,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	AssignedAt  time.Time  `json:"assigned_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
