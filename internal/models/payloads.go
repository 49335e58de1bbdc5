package models

import "time"

// Typed payloads carried inside QueuedAction.Payload, one per action type.

type UpdateStatusPayload struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Note       string `json:"note,omitempty"`
}

type AcceptDeliveryPayload struct {
	DeliveryID string    `json:"delivery_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type LocationPing struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type IncidentReport struct {
	DeliveryID  string    `json:"delivery_id"`
	Kind        string    `json:"kind"` // damage, delay, refusal, accident, other
	Description string    `json:"description"`
	ReportedAt  time.Time `json:"reported_at"`
}

type UploadPhotoPayload struct {
	PhotoID    string `json:"photo_id"`
	DeliveryID string `json:"delivery_id"`
	PhotoType  string `json:"photo_type"`
}
