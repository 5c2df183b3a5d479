package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/availability"
	"appointly/internal/database"
	"appointly/internal/domain"
	"appointly/internal/events"
	"appointly/internal/lifecycle"
	"appointly/internal/metrics"
	"appointly/internal/models"
	"appointly/internal/slots"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sheets mirror task types.
const (
	TaskUpsert       = "upsert"
	TaskUpdateStatus = "update_status"
	TaskDelete       = "delete"
)

// CreateBookingInput is what a client submits to book a slot.
type CreateBookingInput struct {
	ServiceID    string    `json:"service_id" validate:"required,max=64"`
	ScheduledAt  time.Time `json:"scheduled_at" validate:"required"`
	ClientName   string    `json:"client_name" validate:"required,max=255"`
	ClientEmail  string    `json:"client_email" validate:"required,email,max=255"`
	ClientPhone  string    `json:"client_phone" validate:"omitempty,max=50"`
	ClientNotes  string    `json:"client_notes" validate:"omitempty,max=2000"`
	DepositCents *int64    `json:"deposit_cents" validate:"omitempty,min=0"`
	AssignedTo   *int64    `json:"assigned_to"`
	Source       string    `json:"source" validate:"omitempty,oneof=web api admin phone"`
}

type BookingService struct {
	repo      domain.Repository
	machine   *lifecycle.Machine
	generator *slots.Generator
	resolver  *availability.Resolver
	eventBus  domain.EventPublisher
	syncer    domain.SyncWorker
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewBookingService(
	repo domain.Repository,
	machine *lifecycle.Machine,
	generator *slots.Generator,
	eventBus domain.EventPublisher,
	syncer domain.SyncWorker,
	logger *zerolog.Logger,
) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "booking_service").Logger()
	return &BookingService{
		repo:      repo,
		machine:   machine,
		generator: generator,
		resolver:  availability.NewResolver(generator, repo),
		eventBus:  eventBus,
		syncer:    syncer,
		logger:    &l,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for past-date checks and snapshots.
func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
}

// Location is the business-hours time zone.
func (s *BookingService) Location() *time.Location {
	if loc := s.generator.Hours().Location; loc != nil {
		return loc
	}
	return time.Local
}

func (s *BookingService) ListServices(ctx context.Context) ([]models.Service, error) {
	return s.repo.ListServices(ctx, true)
}

// Availability returns the free slots of an active service on date.
func (s *BookingService) Availability(ctx context.Context, serviceID string, date time.Time) ([]models.AvailableSlot, error) {
	svc, err := s.bookableService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Available(ctx, svc, date)
}

func (s *BookingService) bookableService(ctx context.Context, serviceID string) (*models.Service, error) {
	svc, err := s.repo.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, invalidField("service_id", "service is not bookable")
	}
	return svc, nil
}

// CreateBooking books a generated slot. Duration, price and currency are
// copied from the service at this moment.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}

	svc, err := s.bookableService(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}

	slot, err := s.checkSlot(in.ScheduledAt, svc.DurationMinutes)
	if err != nil {
		return nil, err
	}

	if in.DepositCents != nil && *in.DepositCents > svc.PriceCents {
		return nil, invalidField("deposit_cents", "deposit exceeds the service price")
	}

	booking := &models.Booking{
		ID:              newBookingID(),
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		AssignedTo:      in.AssignedTo,
		Status:          models.StatusCreated,
		ScheduledAt:     slot.Start.UTC(),
		DurationMinutes: svc.DurationMinutes,
		AmountCents:     svc.PriceCents,
		Currency:        svc.Currency,
		DepositCents:    in.DepositCents,
		PaymentStatus:   models.PaymentPending,
		ClientName:      in.ClientName,
		ClientEmail:     in.ClientEmail,
		ClientPhone:     in.ClientPhone,
		ClientNotes:     in.ClientNotes,
		Source:          in.Source,
	}

	if err := s.repo.CreateBookingWithLock(ctx, booking); err != nil {
		if errors.Is(err, database.ErrSlotUnavailable) {
			metrics.IncSlotConflict()
		}
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("service_id", booking.ServiceID).
		Time("scheduled_at", booking.ScheduledAt).
		Msg("booking created")

	payload := events.NewBookingPayload(booking)
	payload.DurationMinutes = booking.DurationMinutes
	payload.AmountCents = booking.AmountCents
	payload.Currency = booking.Currency
	s.publishEvent(events.EventBookingCreated, booking.ID, payload)

	s.enqueueSync(ctx, booking, TaskUpsert)
	return booking, nil
}

// checkSlot accepts only future instants that start a generated slot.
func (s *BookingService) checkSlot(start time.Time, durationMinutes int) (models.TimeSlot, error) {
	if start.Before(s.now()) {
		return models.TimeSlot{}, invalidField("scheduled_at", "must be in the future")
	}
	slot, ok := s.generator.SlotAt(start, durationMinutes)
	if !ok {
		return models.TimeSlot{}, invalidField("scheduled_at", "not a bookable slot")
	}
	return slot, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	return s.repo.ListBookings(ctx, f)
}

func (s *BookingService) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (*models.Booking, error) {
		return s.machine.Confirm(ctx, b)
	})
}

func (s *BookingService) MarkReminded(ctx context.Context, id string) (*models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (*models.Booking, error) {
		return s.machine.MarkReminded(ctx, b)
	})
}

func (s *BookingService) Start(ctx context.Context, id string) (*models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (*models.Booking, error) {
		return s.machine.Start(ctx, b)
	})
}

// Complete finishes a booking. actualMinutes may be nil.
func (s *BookingService) Complete(ctx context.Context, id string, actualMinutes *int) (*models.Booking, error) {
	if actualMinutes != nil && *actualMinutes < 0 {
		return nil, invalidField("actual_duration_minutes", "must not be negative")
	}
	return s.apply(ctx, id, func(b *models.Booking) (*models.Booking, error) {
		return s.machine.Complete(ctx, b, actualMinutes)
	})
}

func (s *BookingService) MarkNoShow(ctx context.Context, id string) (*models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (*models.Booking, error) {
		return s.machine.MarkNoShow(ctx, b)
	})
}

// Cancel cancels a booking. A nil actor records a client cancellation.
func (s *BookingService) Cancel(ctx context.Context, id, reason string, actor *int64) (*models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (*models.Booking, error) {
		return s.machine.Cancel(ctx, b, reason, actor)
	})
}

// Reschedule moves a booking to a new generated slot and returns the closed
// original together with its replacement.
func (s *BookingService) Reschedule(ctx context.Context, id string, newStart time.Time) (*models.Booking, *models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	slot, err := s.checkSlot(newStart, b.DurationMinutes)
	if err != nil {
		return nil, nil, err
	}

	original, replacement, err := s.machine.Reschedule(ctx, b, slot.Start)
	if err != nil {
		if errors.Is(err, database.ErrSlotUnavailable) {
			metrics.IncSlotConflict()
		}
		return nil, nil, err
	}

	s.enqueueSync(ctx, original, TaskUpdateStatus)
	s.enqueueSync(ctx, replacement, TaskUpsert)
	return original, replacement, nil
}

// DeleteBooking soft-deletes a booking. It disappears from every query and
// stops blocking its slot.
func (s *BookingService) DeleteBooking(ctx context.Context, id string) error {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDeleteBooking(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("booking_id", id).Msg("booking deleted")
	s.enqueueSync(ctx, b, TaskDelete)
	return nil
}

// Snapshot summarizes today's bookings per status and the active bookings of
// the next 24 hours.
func (s *BookingService) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	now := s.now().In(s.Location())
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	counts, err := s.repo.CountBookingsByStatus(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	today := make(map[string]int, len(counts))
	for status, n := range counts {
		today[string(status)] = n
	}

	from, to := now, now.Add(24*time.Hour)
	upcoming, err := s.repo.ListBookings(ctx, models.BookingFilter{
		Statuses: models.ActiveStatuses,
		From:     &from,
		To:       &to,
	})
	if err != nil {
		return nil, fmt.Errorf("list upcoming bookings: %w", err)
	}

	return map[string]interface{}{
		"bookings_today": today,
		"upcoming_24h":   len(upcoming),
	}, nil
}

// SweepTransitions returns the transitions the lifecycle sweeps drive. They
// operate on already loaded bookings and feed the sheets mirror like every
// other transition.
func (s *BookingService) SweepTransitions() *SweepTransitions {
	return &SweepTransitions{svc: s}
}

type SweepTransitions struct {
	svc *BookingService
}

func (t *SweepTransitions) MarkNoShow(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return t.svc.applyTo(ctx, b, func(b *models.Booking) (*models.Booking, error) {
		return t.svc.machine.MarkNoShow(ctx, b)
	})
}

func (t *SweepTransitions) MarkReminded(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return t.svc.applyTo(ctx, b, func(b *models.Booking) (*models.Booking, error) {
		return t.svc.machine.MarkReminded(ctx, b)
	})
}

func (s *BookingService) apply(ctx context.Context, id string, op func(b *models.Booking) (*models.Booking, error)) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyTo(ctx, b, op)
}

func (s *BookingService) applyTo(ctx context.Context, b *models.Booking, op func(b *models.Booking) (*models.Booking, error)) (*models.Booking, error) {
	next, err := op(b)
	if err != nil {
		return nil, err
	}
	s.enqueueSync(ctx, next, TaskUpdateStatus)
	return next, nil
}

func (s *BookingService) publishEvent(eventType, bookingID string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", bookingID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, booking *models.Booking, taskType string) {
	if s.syncer == nil {
		return
	}

	var status models.Status
	if taskType == TaskUpdateStatus {
		status = booking.Status
	}

	if err := s.syncer.EnqueueTask(ctx, taskType, booking.ID, booking, status); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}

func newBookingID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
