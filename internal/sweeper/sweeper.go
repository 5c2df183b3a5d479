package sweeper

import (
	"context"
	"fmt"
	"time"

	"appointly/internal/domain"
	"appointly/internal/metrics"
	"appointly/internal/models"

	"github.com/rs/zerolog"
)

const (
	NoShowSweep   = "no_show"
	ReminderSweep = "reminder"
)

// Transitioner is the part of the state machine the sweeps drive.
type Transitioner interface {
	MarkNoShow(ctx context.Context, b *models.Booking) (*models.Booking, error)
	MarkReminded(ctx context.Context, b *models.Booking) (*models.Booking, error)
}

// Result summarizes one sweep run.
type Result struct {
	Sweep      string   `json:"sweep"`
	DryRun     bool     `json:"dry_run"`
	Candidates int      `json:"candidates"`
	Attempted  int      `json:"attempted"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	BookingIDs []string `json:"booking_ids"`
	FailedIDs  []string `json:"failed_ids,omitempty"`
}

// HasFailures reports whether any item could not be processed.
func (r Result) HasFailures() bool {
	return r.Failed > 0
}

// Sweeper runs the no-show and reminder sweeps. Each item is processed on its
// own; a failing booking is counted and the batch continues.
type Sweeper struct {
	store      domain.SweepStore
	machine    Transitioner
	dispatcher domain.ReminderDispatcher
	logger     *zerolog.Logger
	now        func() time.Time
}

func New(store domain.SweepStore, machine Transitioner, dispatcher domain.ReminderDispatcher, logger *zerolog.Logger) *Sweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sweeper").Logger()
	return &Sweeper{
		store:      store,
		machine:    machine,
		dispatcher: dispatcher,
		logger:     &l,
		now:        time.Now,
	}
}

func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// NoShows marks CONFIRMED and REMINDED bookings that never started and whose
// start lies at least grace in the past.
func (s *Sweeper) NoShows(ctx context.Context, grace time.Duration, dryRun bool) (Result, error) {
	if grace < 0 {
		return Result{}, fmt.Errorf("grace period must not be negative, got %s", grace)
	}
	started := time.Now()
	defer func() { metrics.ObserveSweepDuration(NoShowSweep, time.Since(started).Seconds()) }()

	cutoff := s.now().Add(-grace)
	candidates, err := s.store.ListNoShowCandidates(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("list no-show candidates: %w", err)
	}

	return s.process(ctx, NoShowSweep, candidates, dryRun, func(b *models.Booking) error {
		_, err := s.machine.MarkNoShow(ctx, b)
		return err
	}), nil
}

// Reminders dispatches reminders for CONFIRMED bookings starting within window
// that were not reminded yet. Only a delivered reminder marks the booking.
func (s *Sweeper) Reminders(ctx context.Context, window time.Duration, dryRun bool) (Result, error) {
	if window <= 0 {
		return Result{}, fmt.Errorf("reminder window must be positive, got %s", window)
	}
	started := time.Now()
	defer func() { metrics.ObserveSweepDuration(ReminderSweep, time.Since(started).Seconds()) }()

	now := s.now()
	candidates, err := s.store.ListReminderCandidates(ctx, now, now.Add(window))
	if err != nil {
		return Result{}, fmt.Errorf("list reminder candidates: %w", err)
	}

	return s.process(ctx, ReminderSweep, candidates, dryRun, func(b *models.Booking) error {
		if s.dispatcher == nil {
			return fmt.Errorf("no reminder dispatcher configured")
		}
		if err := s.dispatcher.SendReminder(ctx, b); err != nil {
			return fmt.Errorf("send reminder: %w", err)
		}
		_, err := s.machine.MarkReminded(ctx, b)
		return err
	}), nil
}

func (s *Sweeper) process(
	ctx context.Context,
	sweep string,
	candidates []*models.Booking,
	dryRun bool,
	handle func(b *models.Booking) error,
) Result {
	res := Result{Sweep: sweep, DryRun: dryRun, Candidates: len(candidates)}

	for _, b := range candidates {
		res.BookingIDs = append(res.BookingIDs, b.ID)

		if dryRun {
			s.logItem(sweep, b, dryRun, "sweep candidate")
			continue
		}
		if ctx.Err() != nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, b.ID)
			metrics.ObserveSweepItem(sweep, false)
			continue
		}

		res.Attempted++
		if err := safeHandle(handle, b); err != nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, b.ID)
			metrics.ObserveSweepItem(sweep, false)
			s.logger.Error().Err(err).
				Str("sweep", sweep).
				Str("booking_id", b.ID).
				Msg("sweep item failed")
			continue
		}
		res.Succeeded++
		metrics.ObserveSweepItem(sweep, true)
		s.logItem(sweep, b, dryRun, "sweep item processed")
	}

	s.logger.Info().
		Str("sweep", sweep).
		Bool("dry_run", dryRun).
		Int("candidates", res.Candidates).
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("sweep finished")
	return res
}

func (s *Sweeper) logItem(sweep string, b *models.Booking, dryRun bool, msg string) {
	s.logger.Info().
		Str("sweep", sweep).
		Str("booking_id", b.ID).
		Time("scheduled_at", b.ScheduledAt).
		Bool("dry_run", dryRun).
		Msg(msg)
}

func safeHandle(handle func(b *models.Booking) error, b *models.Booking) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handle(b)
}
