package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/domain"
	"appointly/internal/events"
	"appointly/internal/metrics"
	"appointly/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidTransition = errors.New("invalid booking transition")

// Machine applies status transitions to bookings. Every operation validates
// against the transition table, works on a copy of the booking and persists
// the copy with a version check. The caller's booking is never modified.
type Machine struct {
	store  domain.BookingWriter
	events domain.EventPublisher
	logger *zerolog.Logger
	now    func() time.Time
}

func NewMachine(store domain.BookingWriter, publisher domain.EventPublisher, logger *zerolog.Logger) *Machine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "lifecycle").Logger()
	return &Machine{store: store, events: publisher, logger: &l, now: time.Now}
}

// SetClock replaces the time source.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Machine) Confirm(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return m.transition(ctx, b, models.StatusConfirmed, nil)
}

// ConfirmPaid records a captured payment and confirms the booking in a single
// versioned write, so a booking is never left paid but unconfirmed.
func (m *Machine) ConfirmPaid(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return m.transition(ctx, b, models.StatusConfirmed, func(next *models.Booking, _ time.Time) {
		next.IsPaid = true
		next.PaymentStatus = models.PaymentPaid
	})
}

// MarkReminded records the reminder and moves the booking to REMINDED.
func (m *Machine) MarkReminded(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return m.transition(ctx, b, models.StatusReminded, func(next *models.Booking, now time.Time) {
		next.ReminderSent = true
		next.ReminderSentAt = &now
	})
}

func (m *Machine) Start(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return m.transition(ctx, b, models.StatusStarted, func(next *models.Booking, now time.Time) {
		next.StartedAt = &now
	})
}

// Complete finishes a started booking. Without an explicit duration the
// actual duration is derived from started_at, if known.
func (m *Machine) Complete(ctx context.Context, b *models.Booking, actualMinutes *int) (*models.Booking, error) {
	return m.transition(ctx, b, models.StatusCompleted, func(next *models.Booking, now time.Time) {
		next.CompletedAt = &now
		switch {
		case actualMinutes != nil:
			v := *actualMinutes
			next.ActualDurationMinutes = &v
		case next.StartedAt != nil:
			v := int(now.Sub(*next.StartedAt) / time.Minute)
			next.ActualDurationMinutes = &v
		}
	})
}

func (m *Machine) MarkNoShow(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return m.transition(ctx, b, models.StatusNoShow, nil)
}

// Cancel records who cancelled and why. A nil actor means the client cancelled.
func (m *Machine) Cancel(ctx context.Context, b *models.Booking, reason string, actor *int64) (*models.Booking, error) {
	return m.transition(ctx, b, models.StatusCancelled, func(next *models.Booking, now time.Time) {
		next.CancellationReason = reason
		if actor != nil {
			a := *actor
			next.CancelledBy = &a
		} else {
			next.CancelledBy = nil
		}
		next.CancelledAt = &now
	})
}

// Reschedule moves the booking to RESCHEDULED and creates its replacement in
// CREATED at newStart. Both writes happen in one store transaction.
func (m *Machine) Reschedule(ctx context.Context, b *models.Booking, newStart time.Time) (*models.Booking, *models.Booking, error) {
	if err := m.validate(b, models.StatusRescheduled); err != nil {
		return nil, nil, err
	}

	now := m.now().UTC()
	original := *b
	original.Status = models.StatusRescheduled

	replacement := newReplacement(b, newStart.UTC(), now)

	if err := m.store.RescheduleBooking(ctx, &original, replacement); err != nil {
		metrics.ObserveTransition(string(models.StatusRescheduled), false)
		return nil, nil, fmt.Errorf("reschedule booking %s: %w", b.ID, err)
	}
	metrics.ObserveTransition(string(models.StatusRescheduled), true)

	payload := events.NewBookingPayload(&original)
	payload.NewBookingID = replacement.ID
	payload.NewScheduledAt = replacement.ScheduledAt.Format(time.RFC3339)
	m.publish(events.BookingEventType(models.StatusRescheduled), payload)

	return &original, replacement, nil
}

// newReplacement builds the follow-up booking field by field. Progress fields
// (start, completion, cancellation, reminder) start empty.
func newReplacement(b *models.Booking, start, now time.Time) *models.Booking {
	r := &models.Booking{
		ID:              newBookingID(),
		ServiceID:       b.ServiceID,
		ServiceName:     b.ServiceName,
		Status:          models.StatusCreated,
		ScheduledAt:     start,
		DurationMinutes: b.DurationMinutes,
		AmountCents:     b.AmountCents,
		Currency:        b.Currency,
		IsPaid:          b.IsPaid,
		PaymentStatus:   b.PaymentStatus,
		PaymentMethod:   b.PaymentMethod,
		PaymentIntentID: b.PaymentIntentID,
		ClientName:      b.ClientName,
		ClientEmail:     b.ClientEmail,
		ClientPhone:     b.ClientPhone,
		ClientNotes:     b.ClientNotes,
		StaffNotes:      b.StaffNotes,
		Source:          b.Source,
		RescheduledFrom: b.ID,
		RescheduledAt:   &now,
	}
	if b.AssignedTo != nil {
		v := *b.AssignedTo
		r.AssignedTo = &v
	}
	if b.DepositCents != nil {
		v := *b.DepositCents
		r.DepositCents = &v
	}
	return r
}

func (m *Machine) validate(b *models.Booking, to models.Status) error {
	if b.Status.CanTransitionTo(to) {
		return nil
	}
	m.logger.Warn().
		Str("booking_id", b.ID).
		Str("from", string(b.Status)).
		Str("to", string(to)).
		Msg("invalid transition attempted")
	metrics.ObserveTransition(string(to), false)
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
}

func (m *Machine) transition(
	ctx context.Context,
	b *models.Booking,
	to models.Status,
	mutate func(next *models.Booking, now time.Time),
) (*models.Booking, error) {
	if err := m.validate(b, to); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	next := *b
	if mutate != nil {
		mutate(&next, now)
	}
	next.Status = to

	if err := m.store.UpdateBookingWithVersion(ctx, &next); err != nil {
		metrics.ObserveTransition(string(to), false)
		return nil, fmt.Errorf("persist %s -> %s for booking %s: %w", b.Status, to, b.ID, err)
	}
	metrics.ObserveTransition(string(to), true)

	m.publish(events.BookingEventType(to), transitionPayload(&next))
	return &next, nil
}

func transitionPayload(b *models.Booking) events.BookingEventPayload {
	payload := events.NewBookingPayload(b)
	switch b.Status {
	case models.StatusCompleted:
		if b.CompletedAt != nil {
			payload.CompletedAt = b.CompletedAt.UTC().Format(time.RFC3339)
		}
		payload.ActualDurationMinutes = b.ActualDurationMinutes
	case models.StatusCancelled:
		payload.CancelledBy = "client"
		if b.CancelledBy != nil {
			payload.CancelledBy = "staff"
		}
		payload.Reason = b.CancellationReason
	}
	return payload
}

// publish notifies the event sink. A failing sink never affects the transition.
func (m *Machine) publish(eventType string, payload events.BookingEventPayload) {
	if m.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Str("booking_id", payload.BookingID).
				Str("event_type", eventType).
				Msg("event publisher panicked")
		}
	}()
	if err := m.events.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).
			Str("booking_id", payload.BookingID).
			Str("event_type", eventType).
			Msg("failed to publish booking event")
	}
}

func newBookingID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
