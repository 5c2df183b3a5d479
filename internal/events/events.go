package events

import (
	"encoding/json"
	"sync"
	"time"

	"appointly/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking.created"
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// BookingEventType names the event emitted when a booking enters status.
func BookingEventType(status models.Status) string {
	return "booking." + string(status)
}

// BookingEventPayload is the booking snapshot sent with every booking event.
// Transition-specific fields are set only by the transition that owns them.
type BookingEventPayload struct {
	BookingID   string `json:"booking_id"`
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`

	DurationMinutes int    `json:"duration_minutes,omitempty"`
	AmountCents     int64  `json:"amount_cents,omitempty"`
	Currency        string `json:"currency,omitempty"`

	CompletedAt           string `json:"completed_at,omitempty"`
	ActualDurationMinutes *int   `json:"actual_duration_minutes,omitempty"`

	CancelledBy string `json:"cancelled_by,omitempty"`
	Reason      string `json:"reason,omitempty"`

	NewBookingID   string `json:"new_booking_id,omitempty"`
	NewScheduledAt string `json:"new_scheduled_at,omitempty"`

	PaymentRef    string `json:"payment_ref,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// NewBookingPayload fills the fields shared by every booking event.
func NewBookingPayload(b *models.Booking) BookingEventPayload {
	return BookingEventPayload{
		BookingID:   b.ID,
		ServiceID:   b.ServiceID,
		ServiceName: b.ServiceName,
		Status:      string(b.Status),
		ScheduledAt: b.ScheduledAt.UTC().Format(time.RFC3339),
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// BookingID extracts booking_id from the payload, if present.
func (e *Event) BookingID() string {
	var ref struct {
		BookingID string `json:"booking_id"`
	}
	_ = json.Unmarshal(e.Payload, &ref)
	return ref.BookingID
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
// Handler errors are logged and never reach the publisher.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.logger.Error().Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.Type).
				Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: newEventID(), Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
