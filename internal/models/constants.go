package models

// Action types the sync worker knows how to replay.
const (
	ActionUpdateStatus   = "update_status"
	ActionUpdateLocation = "update_location"
	ActionReportIncident = "report_incident"
	ActionAcceptDelivery = "accept_delivery"
	ActionUploadPhoto    = "upload_photo"
)

// Sync states of a cached delivery.
const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSynced  = "synced"
	SyncStatusError   = "error"
)

// Delivery lifecycle statuses as reported to the fleet API.
const (
	DeliveryAccepted  = "accepted"
	DeliveryPickedUp  = "picked_up"
	DeliveryInTransit = "in_transit"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Dead-letter reasons.
const (
	DeadLetterRetriesExhausted = "retries_exhausted"
	DeadLetterHandlerMissing   = "handler_missing"
)

// Photo types attachable to a delivery.
const (
	PhotoTypeProofOfDelivery = "proof_of_delivery"
	PhotoTypeIncident        = "incident"
	PhotoTypeSignature       = "signature"
)

const (
	// MaxPayloadBytes caps a single queued action payload.
	MaxPayloadBytes = 256 * 1024

	// MaxPhotoBytes caps a raw capture before compression.
	MaxPhotoBytes = 10 * 1024 * 1024

	// MaxPendingPhotos caps the pending photo collection.
	MaxPendingPhotos = 500
)
