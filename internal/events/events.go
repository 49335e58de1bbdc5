package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventDeliveryAccepted  = "delivery_accepted"
	EventStatusChanged     = "delivery_status_changed"
	EventIncidentReported  = "incident_reported"
	EventPhotoAttached     = "photo_attached"
	EventLocationRecorded  = "location_recorded"
	EventConnectivityShift = "connectivity_changed"
)

// DeliveryEventPayload describes the minimal delivery snapshot for event consumers.
type DeliveryEventPayload struct {
	DeliveryID string    `json:"delivery_id"`
	OrderRef   string    `json:"order_ref,omitempty"`
	Status     string    `json:"status,omitempty"`
	Note       string    `json:"note,omitempty"`
	PhotoID    string    `json:"photo_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Queued     bool      `json:"queued"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ConnectivityEventPayload marks a reachability flip of the fleet API.
type ConnectivityEventPayload struct {
	Online     bool      `json:"online"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
