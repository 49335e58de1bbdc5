package models

import (
	"encoding/json"
	"time"
)

// PendingPhoto is a captured image held locally until its upload action
// succeeds. Data is stored compressed when the pipeline managed to shrink
// it, otherwise the original bytes with Compressed=false.
type PendingPhoto struct {
	ID         string          `json:"id"`
	DeliveryID string          `json:"delivery_id"`
	PhotoType  string          `json:"photo_type"` // proof_of_delivery, incident, signature
	Data       []byte          `json:"-"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Compressed bool            `json:"compressed"`
	Synced     bool            `json:"synced"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Size returns the stored payload size in bytes.
func (p *PendingPhoto) Size() int {
	return len(p.Data)
}
