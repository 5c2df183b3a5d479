package service

import (
	"context"
	"fmt"

	"appointly/internal/domain"
	"appointly/internal/events"
	"appointly/internal/lifecycle"
	"appointly/internal/models"
	"appointly/internal/payments"

	"github.com/rs/zerolog"
)

// PaymentService binds gateway outcomes to bookings. Only a succeeded
// payment marks a booking paid and confirms it.
type PaymentService struct {
	repo     domain.Repository
	gateway  payments.Gateway
	machine  *lifecycle.Machine
	eventBus domain.EventPublisher
	syncer   domain.SyncWorker
	logger   *zerolog.Logger
}

func NewPaymentService(
	repo domain.Repository,
	gateway payments.Gateway,
	machine *lifecycle.Machine,
	eventBus domain.EventPublisher,
	syncer domain.SyncWorker,
	logger *zerolog.Logger,
) *PaymentService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "payment_service").Str("gateway", gateway.Name()).Logger()
	return &PaymentService{
		repo:     repo,
		gateway:  gateway,
		machine:  machine,
		eventBus: eventBus,
		syncer:   syncer,
		logger:   &l,
	}
}

// StartPayment opens a payment with the gateway and stores its reference on
// the booking.
func (s *PaymentService) StartPayment(ctx context.Context, bookingID string) (models.PaymentIntent, error) {
	if !s.gateway.IsConfigured() {
		return models.PaymentIntent{}, payments.ErrNotConfigured
	}

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return models.PaymentIntent{}, err
	}
	if b.IsPaid {
		return models.PaymentIntent{}, invalidField("booking_id", "booking is already paid")
	}
	if !b.Status.IsActive() {
		return models.PaymentIntent{}, invalidField("booking_id", fmt.Sprintf("booking is %s", b.Status))
	}

	intent, err := s.gateway.CreateIntent(ctx, b)
	if err != nil {
		return models.PaymentIntent{}, err
	}

	next := *b
	next.PaymentIntentID = intent.ID
	next.PaymentMethod = s.gateway.Name()
	next.PaymentStatus = models.PaymentPending
	if err := s.repo.UpdateBookingWithVersion(ctx, &next); err != nil {
		return models.PaymentIntent{}, fmt.Errorf("store payment reference: %w", err)
	}

	s.logger.Info().Str("booking_id", b.ID).Str("payment_ref", intent.ID).Msg("payment started")
	return intent, nil
}

// ConfirmPayment asks the gateway for the outcome of paymentRef. A pending
// outcome changes nothing. Confirming an already paid booking is a no-op,
// except that a paid booking still in CREATED is confirmed.
func (s *PaymentService) ConfirmPayment(ctx context.Context, paymentRef string) (*models.Booking, models.PaymentResult, error) {
	b, err := s.repo.GetBookingByPaymentIntent(ctx, paymentRef)
	if err != nil {
		return nil, models.PaymentResult{}, err
	}
	if b.IsPaid {
		paid := models.PaymentResult{ID: paymentRef, Status: models.OutcomeSucceeded, AmountCents: b.AmountCents, Currency: b.Currency}
		if b.Status != models.StatusCreated {
			return b, paid, nil
		}
		confirmed, err := s.machine.Confirm(ctx, b)
		if err != nil {
			return nil, paid, err
		}
		s.enqueueSync(ctx, confirmed)
		return confirmed, paid, nil
	}

	res, err := s.gateway.Confirm(ctx, paymentRef)
	if err != nil {
		return nil, models.PaymentResult{}, err
	}

	switch {
	case res.Succeeded():
		var next *models.Booking
		if b.Status == models.StatusCreated {
			next, err = s.machine.ConfirmPaid(ctx, b)
		} else {
			paid := *b
			paid.IsPaid = true
			paid.PaymentStatus = models.PaymentPaid
			err = s.repo.UpdateBookingWithVersion(ctx, &paid)
			next = &paid
		}
		if err != nil {
			return nil, res, fmt.Errorf("record payment: %w", err)
		}
		s.publish(events.EventPaymentSucceeded, next, paymentRef)
		s.enqueueSync(ctx, next)
		return next, res, nil

	case res.Failed():
		next := *b
		next.PaymentStatus = models.PaymentFailed
		if err := s.repo.UpdateBookingWithVersion(ctx, &next); err != nil {
			return nil, res, fmt.Errorf("record payment failure: %w", err)
		}
		s.logger.Warn().Str("booking_id", b.ID).Str("payment_ref", paymentRef).Msg("payment failed")
		s.publish(events.EventPaymentFailed, &next, paymentRef)
		return &next, res, nil

	default:
		return b, res, nil
	}
}

// Refund returns amountCents of a paid booking. Zero refunds the full amount.
func (s *PaymentService) Refund(ctx context.Context, bookingID string, amountCents int64) (models.RefundResult, error) {
	if amountCents < 0 {
		return models.RefundResult{}, invalidField("amount_cents", "must not be negative")
	}

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return models.RefundResult{}, err
	}
	if !b.IsPaid || b.PaymentIntentID == "" {
		return models.RefundResult{}, invalidField("booking_id", "booking has no captured payment")
	}
	if amountCents > b.AmountCents {
		return models.RefundResult{}, invalidField("amount_cents", "exceeds the booking amount")
	}

	res, err := s.gateway.Refund(ctx, b.PaymentIntentID, amountCents)
	if err != nil {
		return models.RefundResult{}, err
	}
	if !res.Succeeded() {
		return res, nil
	}

	next := *b
	next.IsPaid = false
	next.PaymentStatus = models.PaymentRefunded
	if err := s.repo.UpdateBookingWithVersion(ctx, &next); err != nil {
		return res, fmt.Errorf("record refund: %w", err)
	}
	s.publish(events.EventPaymentRefunded, &next, b.PaymentIntentID)
	s.enqueueSync(ctx, &next)
	return res, nil
}

func (s *PaymentService) publish(eventType string, b *models.Booking, paymentRef string) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewBookingPayload(b)
	payload.AmountCents = b.AmountCents
	payload.Currency = b.Currency
	payload.PaymentRef = paymentRef
	payload.PaymentStatus = b.PaymentStatus
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *PaymentService) enqueueSync(ctx context.Context, b *models.Booking) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.EnqueueTask(ctx, TaskUpsert, b.ID, b, ""); err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("sheets enqueue error")
	}
}
