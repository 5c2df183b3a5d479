package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitionMatrix(t *testing.T) {
	allowed := map[Status]map[Status]bool{
		StatusCreated:     {StatusConfirmed: true, StatusCancelled: true, StatusRescheduled: true},
		StatusConfirmed:   {StatusReminded: true, StatusStarted: true, StatusNoShow: true, StatusCancelled: true, StatusRescheduled: true},
		StatusReminded:    {StatusStarted: true, StatusNoShow: true, StatusCancelled: true, StatusRescheduled: true},
		StatusStarted:     {StatusCompleted: true},
		StatusRescheduled: {StatusConfirmed: true},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[from][to]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusNoShow, StatusCancelled} {
		assert.True(t, s.IsTerminal(), s)
		assert.Empty(t, s.AllowedTransitions(), s)
	}
	for _, s := range []Status{StatusCreated, StatusConfirmed, StatusReminded, StatusStarted, StatusRescheduled} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestStatusActive(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusCreated || s == StatusConfirmed || s == StatusReminded || s == StatusStarted
		assert.Equal(t, want, s.IsActive(), s)
	}
}

func TestStatusMeta(t *testing.T) {
	assert.Equal(t, "No Show", StatusNoShow.Label())
	assert.Equal(t, "orange", StatusRescheduled.Color())
	assert.Equal(t, "purple", StatusReminded.Color())
	assert.Equal(t, "gray", Status("bogus").Color())

	for _, s := range AllStatuses {
		assert.NotEmpty(t, s.Label())
		assert.NotEmpty(t, s.Color())
	}
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	got := StatusCreated.AllowedTransitions()
	got[0] = StatusCompleted
	assert.True(t, StatusCreated.CanTransitionTo(StatusConfirmed))
	assert.False(t, StatusCreated.CanTransitionTo(StatusCompleted))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("no_show")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, s)

	_, err = ParseStatus("pending")
	assert.Error(t, err)
}

func TestBookingHelpers(t *testing.T) {
	now := time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC)
	b := &Booking{
		Status:          StatusConfirmed,
		ScheduledAt:     now.Add(23 * time.Hour),
		DurationMinutes: 45,
		AmountCents:     5005,
	}

	assert.Equal(t, now.Add(23*time.Hour+45*time.Minute), b.EndsAt())
	assert.True(t, b.IsUpcoming(now))
	assert.True(t, b.RequiresReminder(now, DefaultReminderWindow))
	assert.Equal(t, "50.05", b.FormattedAmount())
	assert.True(t, b.CanBeCancelled())

	b.ScheduledAt = now.Add(25 * time.Hour)
	assert.False(t, b.RequiresReminder(now, DefaultReminderWindow))

	b.ScheduledAt = now.Add(time.Hour)
	b.ReminderSent = true
	assert.False(t, b.RequiresReminder(now, DefaultReminderWindow))

	b.Status = StatusStarted
	assert.False(t, b.IsUpcoming(now), "a started booking is no longer upcoming")

	b.Status = StatusReminded
	assert.True(t, b.IsUpcoming(now))
	b.ScheduledAt = now
	assert.True(t, b.IsUpcoming(now))

	b.Status = StatusCompleted
	assert.False(t, b.CanBeRescheduled())
	assert.False(t, b.IsUpcoming(now))
}

func TestTimeSlotOverlaps(t *testing.T) {
	base := time.Date(2025, 12, 15, 9, 0, 0, 0, time.UTC)
	slot := func(startMin, endMin int) TimeSlot {
		return TimeSlot{Start: base.Add(time.Duration(startMin) * time.Minute), End: base.Add(time.Duration(endMin) * time.Minute)}
	}

	tests := []struct {
		name string
		a, b TimeSlot
		want bool
	}{
		{"touching end", slot(0, 60), slot(60, 120), false},
		{"touching start", slot(60, 120), slot(0, 60), false},
		{"partial", slot(0, 60), slot(30, 90), true},
		{"contained", slot(0, 120), slot(30, 60), true},
		{"identical", slot(0, 60), slot(0, 60), true},
		{"disjoint", slot(0, 30), slot(90, 120), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}
