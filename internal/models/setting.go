package models

import "time"

// Setting is a single key/value pair from the settings collection.
// Values are opaque strings; callers encode structure as they see fit.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
