package database

import (
	"context"
	"testing"
	"time"

	"appointly/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestCreateBookingRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := seedService(t, db, "svc", 60)

	deposit := int64(1000)
	staff := int64(7)
	b := newBooking("b1", svc, at(9, 0))
	b.DepositCents = &deposit
	b.AssignedTo = &staff
	b.ClientNotes = "window seat"
	b.Source = models.SourceWeb

	require.NoError(t, db.CreateBookingWithLock(ctx, b))
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, models.PaymentPending, b.PaymentStatus)

	got, err := db.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(at(9, 0)))
	assert.Equal(t, models.StatusCreated, got.Status)
	assert.Equal(t, int64(1000), *got.DepositCents)
	assert.Equal(t, int64(7), *got.AssignedTo)
	assert.Equal(t, "window seat", got.ClientNotes)
	assert.Equal(t, models.SourceWeb, got.Source)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.ActualDurationMinutes)
	assert.False(t, got.ReminderSent)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBookingRejectsOverlap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := seedService(t, db, "svc", 60)
	other := seedService(t, db, "other", 60)

	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking("b1", svc, at(10, 0))))

	tests := []struct {
		name    string
		booking *models.Booking
		wantErr error
	}{
		{"same slot", newBooking("b2", svc, at(10, 0)), ErrSlotUnavailable},
		{"partial overlap", newBooking("b3", svc, at(10, 30)), ErrSlotUnavailable},
		{"touching before", newBooking("b4", svc, at(9, 0)), nil},
		{"touching after", newBooking("b5", svc, at(11, 0)), nil},
		{"other service", newBooking("b6", other, at(10, 0)), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.CreateBookingWithLock(ctx, tt.booking)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInactiveBookingsDoNotBlock(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := seedService(t, db, "svc", 60)

	cancelled := newBooking("b1", svc, at(10, 0))
	cancelled.Status = models.StatusCancelled
	require.NoError(t, db.CreateBookingWithLock(ctx, cancelled))

	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking("b2", svc, at(10, 0))))

	active, err := db.ListActiveBookings(ctx, "svc", at(9, 0), at(17, 0))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b2", active[0].ID)
}

func TestUpdateBookingWithVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := seedService(t, db, "svc", 60)

	b := newBooking("b1", svc, at(10, 0))
	require.NoError(t, db.CreateBookingWithLock(ctx, b))

	stale := *b

	b.Status = models.StatusConfirmed
	b.IsPaid = true
	b.PaymentStatus = models.PaymentPaid
	require.NoError(t, db.UpdateBookingWithVersion(ctx, b))
	assert.Equal(t, int64(2), b.Version)

	stale.Status = models.StatusCancelled
	assert.ErrorIs(t, db.UpdateBookingWithVersion(ctx, &stale), ErrConcurrentModification)

	got, err := db.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.True(t, got.IsPaid)
	assert.Equal(t, int64(2), got.Version)
}

func TestRescheduleBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := seedService(t, db, "svc", 60)

	original := newBooking("b1", svc, at(10, 0))
	require.NoError(t, db.CreateBookingWithLock(ctx, original))
	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking("b2", svc, at(14, 0))))

	now := time.Now().UTC()
	moved := *original
	moved.Status = models.StatusRescheduled
	moved.RescheduledAt = &now

	t.Run("conflict rolls back", func(t *testing.T) {
		attempt := moved
		replacement := newBooking("b3", svc, at(14, 30))
		replacement.RescheduledFrom = "b1"
		assert.ErrorIs(t, db.RescheduleBooking(ctx, &attempt, replacement), ErrSlotUnavailable)

		got, err := db.GetBooking(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCreated, got.Status)
		_, err = db.GetBooking(ctx, "b3")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("overlapping own slot is allowed", func(t *testing.T) {
		replacement := newBooking("b4", svc, at(10, 30))
		replacement.RescheduledFrom = "b1"
		require.NoError(t, db.RescheduleBooking(ctx, &moved, replacement))

		got, err := db.GetBooking(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRescheduled, got.Status)
		assert.True(t, got.ScheduledAt.Equal(at(10, 0)))
		assert.NotNil(t, got.RescheduledAt)

		created, err := db.GetBooking(ctx, "b4")
		require.NoError(t, err)
		assert.Equal(t, "b1", created.RescheduledFrom)
		assert.Equal(t, int64(1), created.Version)
	})
}

func TestSweepCandidateQueries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := at(12, 0)

	// One service per booking keeps the fixtures free of slot conflicts.
	mk := func(id string, when time.Time, status models.Status) *models.Booking {
		svc := seedService(t, db, "svc-"+id, 15)
		b := newBooking(id, svc, when)
		b.Status = status
		require.NoError(t, db.CreateBookingWithLock(ctx, b))
		return b
	}

	mk("late", now.Add(-16*time.Minute), models.StatusConfirmed)
	mk("early", now.Add(-14*time.Minute), models.StatusReminded)
	mk("late-reminded", now.Add(-60*time.Minute), models.StatusReminded)
	mk("late-created", now.Add(-90*time.Minute), models.StatusCreated)
	started := mk("started", now.Add(-120*time.Minute), models.StatusConfirmed)
	startedAt := now.Add(-115 * time.Minute)
	started.StartedAt = &startedAt
	require.NoError(t, db.UpdateBookingWithVersion(ctx, started))

	noShows, err := db.ListNoShowCandidates(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	var ids []string
	for _, b := range noShows {
		ids = append(ids, b.ID)
	}
	assert.ElementsMatch(t, []string{"late", "late-reminded"}, ids)

	mk("soon", now.Add(23*time.Hour), models.StatusConfirmed)
	mk("far", now.Add(25*time.Hour), models.StatusConfirmed)
	done := mk("done", now.Add(2*time.Hour), models.StatusConfirmed)
	done.ReminderSent = true
	require.NoError(t, db.UpdateBookingWithVersion(ctx, done))

	reminders, err := db.ListReminderCandidates(ctx, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "soon", reminders[0].ID)
}

func TestListBookingsAndSoftDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := seedService(t, db, "svc", 60)

	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking("b1", svc, at(9, 0))))
	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking("b2", svc, at(11, 0))))
	b3 := newBooking("b3", svc, at(13, 0))
	b3.Status = models.StatusConfirmed
	require.NoError(t, db.CreateBookingWithLock(ctx, b3))

	from, to := at(10, 0), at(17, 0)
	list, err := db.ListBookings(ctx, models.BookingFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b2", list[0].ID)

	list, err = db.ListBookings(ctx, models.BookingFilter{Statuses: []models.Status{models.StatusConfirmed}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b3", list[0].ID)

	list, err = db.ListBookings(ctx, models.BookingFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	counts, err := db.CountBookingsByStatus(ctx, monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusCreated])
	assert.Equal(t, 1, counts[models.StatusConfirmed])

	require.NoError(t, db.SoftDeleteBooking(ctx, "b2"))
	assert.ErrorIs(t, db.SoftDeleteBooking(ctx, "b2"), ErrNotFound)

	_, err = db.GetBooking(ctx, "b2")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = db.ListBookings(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// A deleted booking no longer occupies its slot.
	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking("b4", svc, at(11, 0))))
}

func TestGetBookingByPaymentIntent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := seedService(t, db, "svc", 60)

	b := newBooking("b1", svc, at(9, 0))
	require.NoError(t, db.CreateBookingWithLock(ctx, b))
	b.PaymentIntentID = "cs_test_1"
	b.PaymentMethod = "stripe"
	require.NoError(t, db.UpdateBookingWithVersion(ctx, b))

	got, err := db.GetBookingByPaymentIntent(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.ID)

	_, err = db.GetBookingByPaymentIntent(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
