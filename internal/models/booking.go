package models

import (
	"fmt"
	"time"
)

// Booking sources.
const (
	SourceWeb   = "web"
	SourceAPI   = "api"
	SourceAdmin = "admin"
	SourcePhone = "phone"
)

// Payment statuses stored on a booking.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Booking is a reservation of a service at a fixed instant.
// Client fields, duration and amount are snapshots taken at creation time.
type Booking struct {
	ID          string `json:"id"`
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	AssignedTo  *int64 `json:"assigned_to,omitempty"`
	Status      Status `json:"status"`

	ScheduledAt           time.Time  `json:"scheduled_at"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	DurationMinutes       int        `json:"duration_minutes"`
	ActualDurationMinutes *int       `json:"actual_duration_minutes,omitempty"`

	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	DepositCents    *int64 `json:"deposit_cents,omitempty"`
	IsPaid          bool   `json:"is_paid"`
	PaymentStatus   string `json:"payment_status"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`

	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone,omitempty"`
	ClientNotes string `json:"client_notes,omitempty"`

	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        *int64     `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	RescheduledFrom    string     `json:"rescheduled_from,omitempty"`
	RescheduledAt      *time.Time `json:"rescheduled_at,omitempty"`

	ReminderSent     bool       `json:"reminder_sent"`
	ReminderSentAt   *time.Time `json:"reminder_sent_at,omitempty"`
	ConfirmationSent bool       `json:"confirmation_sent"`

	StaffNotes string `json:"staff_notes,omitempty"`
	Source     string `json:"source"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Version   int64      `json:"version"`
}

// EndsAt is the end of the planned interval.
func (b *Booking) EndsAt() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Interval returns the half-open interval occupied by the booking.
func (b *Booking) Interval() TimeSlot {
	return TimeSlot{Start: b.ScheduledAt, End: b.EndsAt()}
}

func (b *Booking) CanBeCancelled() bool { return b.Status.IsCancellable() }

func (b *Booking) CanBeRescheduled() bool { return b.Status.IsReschedulable() }

// IsUpcoming reports whether the booking has not started yet and is still
// awaiting service: created, confirmed or reminded, scheduled at or after now.
func (b *Booking) IsUpcoming(now time.Time) bool {
	return !b.ScheduledAt.Before(now) && b.Status.IsCancellable()
}

// RequiresReminder mirrors the reminder sweep selection for a single booking.
func (b *Booking) RequiresReminder(now time.Time, window time.Duration) bool {
	return !b.ReminderSent &&
		b.Status == StatusConfirmed &&
		!b.ScheduledAt.Before(now) &&
		!b.ScheduledAt.After(now.Add(window))
}

// FormattedAmount renders amount_cents as a decimal string, e.g. "50.00".
func (b *Booking) FormattedAmount() string {
	return formatCents(b.AmountCents)
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// BookingFilter narrows booking listings. Zero values do not filter.
type BookingFilter struct {
	ServiceID string
	Statuses  []Status
	From      *time.Time
	To        *time.Time
	Limit     uint64
}
