package domain

import (
	"context"
	"time"

	"appointly/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BookingWriter persists state transitions with optimistic locking.
type BookingWriter interface {
	UpdateBookingWithVersion(ctx context.Context, b *models.Booking) error
	RescheduleBooking(ctx context.Context, original, replacement *models.Booking) error
}

type Repository interface {
	BookingWriter

	CreateService(ctx context.Context, s *models.Service) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	SyncServices(ctx context.Context, catalog []models.Service) error

	CreateBookingWithLock(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByPaymentIntent(ctx context.Context, ref string) (*models.Booking, error)
	ListActiveBookings(ctx context.Context, serviceID string, from, to time.Time) ([]*models.Booking, error)
	CountBookingsByStatus(ctx context.Context, from, to time.Time) (map[models.Status]int, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
	SoftDeleteBooking(ctx context.Context, id string) error
}

// SweepStore selects sweep candidates.
type SweepStore interface {
	ListNoShowCandidates(ctx context.Context, cutoff time.Time) ([]*models.Booking, error)
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// ReminderDispatcher delivers a reminder. Only a nil error lets the booking be marked reminded.
type ReminderDispatcher interface {
	SendReminder(ctx context.Context, b *models.Booking) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RuntimeStore keeps process-wide runtime state shared between replicas.
type RuntimeStore interface {
	LastRestart(ctx context.Context, now time.Time) (time.Time, error)
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// SheetsWriter mirrors bookings into a spreadsheet.
type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	DeleteBookingRow(ctx context.Context, bookingID string) error
	UpdateBookingStatus(ctx context.Context, bookingID string, status models.Status) error
	ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType, bookingID string, booking *models.Booking, status models.Status) error
}
