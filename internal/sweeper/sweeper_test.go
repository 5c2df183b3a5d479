package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"appointly/internal/config"
	"appointly/internal/database"
	"appointly/internal/lifecycle"
	"appointly/internal/models"
	"appointly/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db      *database.DB
	machine *lifecycle.Machine
	seq     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := lifecycle.NewMachine(db, nil, &logger)
	m.SetClock(func() time.Time { return now })
	return &fixture{db: db, machine: m}
}

// add stores a booking on its own service so fixtures never collide.
func (f *fixture) add(t *testing.T, status models.Status, at time.Time, mutate func(b *models.Booking)) *models.Booking {
	t.Helper()
	ctx := context.Background()
	f.seq++
	svc := &models.Service{ID: fmt.Sprintf("svc-%d", f.seq), Name: "Consult", DurationMinutes: 15, PriceCents: 1000, Currency: "USD", IsActive: true}
	require.NoError(t, f.db.CreateService(ctx, svc))

	b := &models.Booking{
		ID:              fmt.Sprintf("bk-%d", f.seq),
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		Status:          status,
		ScheduledAt:     at,
		DurationMinutes: svc.DurationMinutes,
		AmountCents:     svc.PriceCents,
		Currency:        svc.Currency,
		ClientName:      "Ana",
		ClientEmail:     "ana@example.com",
	}
	if mutate != nil {
		mutate(b)
	}
	require.NoError(t, f.db.CreateBookingWithLock(ctx, b))
	return b
}

func (f *fixture) status(t *testing.T, id string) *models.Booking {
	t.Helper()
	b, err := f.db.GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) sweeper(d *fakeDispatcher) *Sweeper {
	logger := zerolog.Nop()
	s := New(f.db, f.machine, d, &logger)
	s.SetClock(func() time.Time { return now })
	return s
}

type fakeDispatcher struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]bool
}

func (d *fakeDispatcher) SendReminder(_ context.Context, b *models.Booking) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[b.ID] {
		return errors.New("smtp unavailable")
	}
	d.sent = append(d.sent, b.ID)
	return nil
}

func TestNoShowSweepGracePeriod(t *testing.T) {
	f := newFixture(t)
	late := f.add(t, models.StatusConfirmed, now.Add(-16*time.Minute), nil)
	recent := f.add(t, models.StatusConfirmed, now.Add(-14*time.Minute), nil)
	reminded := f.add(t, models.StatusReminded, now.Add(-2*time.Hour), nil)
	checkedIn := f.add(t, models.StatusConfirmed, now.Add(-time.Hour), func(b *models.Booking) {
		s := now.Add(-time.Hour)
		b.StartedAt = &s
	})
	created := f.add(t, models.StatusCreated, now.Add(-time.Hour), nil)

	s := f.sweeper(nil)
	res, err := s.NoShows(context.Background(), 15*time.Minute, false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 2, res.Succeeded)
	assert.False(t, res.HasFailures())
	assert.ElementsMatch(t, []string{late.ID, reminded.ID}, res.BookingIDs)

	assert.Equal(t, models.StatusNoShow, f.status(t, late.ID).Status)
	assert.Equal(t, models.StatusNoShow, f.status(t, reminded.ID).Status)
	assert.Equal(t, models.StatusConfirmed, f.status(t, recent.ID).Status)
	assert.Equal(t, models.StatusConfirmed, f.status(t, checkedIn.ID).Status)
	assert.Equal(t, models.StatusCreated, f.status(t, created.ID).Status)

	again, err := s.NoShows(context.Background(), 15*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Candidates)
}

func TestNoShowSweepDryRun(t *testing.T) {
	f := newFixture(t)
	late := f.add(t, models.StatusConfirmed, now.Add(-16*time.Minute), nil)
	s := f.sweeper(nil)

	dry, err := s.NoShows(context.Background(), 15*time.Minute, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 1, dry.Candidates)
	assert.Equal(t, 0, dry.Attempted)
	assert.Equal(t, models.StatusConfirmed, f.status(t, late.ID).Status)
	assert.Equal(t, int64(1), f.status(t, late.ID).Version)

	applied, err := s.NoShows(context.Background(), 15*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, dry.BookingIDs, applied.BookingIDs)
}

func TestNoShowSweepRejectsNegativeGrace(t *testing.T) {
	f := newFixture(t)
	_, err := f.sweeper(nil).NoShows(context.Background(), -time.Minute, false)
	assert.Error(t, err)
}

func TestReminderSweepWindow(t *testing.T) {
	f := newFixture(t)
	soon := f.add(t, models.StatusConfirmed, now.Add(23*time.Hour), nil)
	far := f.add(t, models.StatusConfirmed, now.Add(25*time.Hour), nil)
	already := f.add(t, models.StatusConfirmed, now.Add(2*time.Hour), func(b *models.Booking) {
		b.ReminderSent = true
	})
	unconfirmed := f.add(t, models.StatusCreated, now.Add(3*time.Hour), nil)

	d := &fakeDispatcher{}
	s := f.sweeper(d)
	res, err := s.Reminders(context.Background(), 24*time.Hour, false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []string{soon.ID}, d.sent)

	stored := f.status(t, soon.ID)
	assert.Equal(t, models.StatusReminded, stored.Status)
	assert.True(t, stored.ReminderSent)
	require.NotNil(t, stored.ReminderSentAt)
	assert.True(t, stored.ReminderSentAt.Equal(now))

	assert.Equal(t, models.StatusConfirmed, f.status(t, far.ID).Status)
	assert.Equal(t, models.StatusConfirmed, f.status(t, already.ID).Status)
	assert.Equal(t, models.StatusCreated, f.status(t, unconfirmed.ID).Status)

	again, err := s.Reminders(context.Background(), 24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Candidates)
}

func TestReminderSweepDispatchFailureIsolated(t *testing.T) {
	f := newFixture(t)
	failing := f.add(t, models.StatusConfirmed, now.Add(time.Hour), nil)
	ok := f.add(t, models.StatusConfirmed, now.Add(2*time.Hour), nil)

	d := &fakeDispatcher{failOn: map[string]bool{failing.ID: true}}
	res, err := f.sweeper(d).Reminders(context.Background(), 24*time.Hour, false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.HasFailures())
	assert.Equal(t, []string{failing.ID}, res.FailedIDs)
	assert.Len(t, res.BookingIDs, 2)

	assert.Equal(t, models.StatusConfirmed, f.status(t, failing.ID).Status)
	assert.False(t, f.status(t, failing.ID).ReminderSent)
	assert.Equal(t, models.StatusReminded, f.status(t, ok.ID).Status)
}

func TestReminderSweepDryRunSendsNothing(t *testing.T) {
	f := newFixture(t)
	b := f.add(t, models.StatusConfirmed, now.Add(time.Hour), nil)

	d := &fakeDispatcher{}
	res, err := f.sweeper(d).Reminders(context.Background(), 24*time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Empty(t, d.sent)
	assert.Equal(t, models.StatusConfirmed, f.status(t, b.ID).Status)
}

func TestReminderSweepWithoutDispatcher(t *testing.T) {
	f := newFixture(t)
	f.add(t, models.StatusConfirmed, now.Add(time.Hour), nil)

	logger := zerolog.Nop()
	s := New(f.db, f.machine, nil, &logger)
	s.SetClock(func() time.Time { return now })

	res, err := s.Reminders(context.Background(), 24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

type stubStore struct {
	noShow    []*models.Booking
	reminders []*models.Booking
	err       error
	calls     int
}

func (s *stubStore) ListNoShowCandidates(context.Context, time.Time) ([]*models.Booking, error) {
	s.calls++
	return s.noShow, s.err
}

func (s *stubStore) ListReminderCandidates(context.Context, time.Time, time.Time) ([]*models.Booking, error) {
	s.calls++
	return s.reminders, s.err
}

type flakyMachine struct {
	failures map[string]string
}

func (m *flakyMachine) MarkNoShow(_ context.Context, b *models.Booking) (*models.Booking, error) {
	switch m.failures[b.ID] {
	case "error":
		return nil, lifecycle.ErrInvalidTransition
	case "panic":
		panic("boom")
	}
	return b, nil
}

func (m *flakyMachine) MarkReminded(_ context.Context, b *models.Booking) (*models.Booking, error) {
	return b, nil
}

func TestSweepPartialFailureIsolation(t *testing.T) {
	store := &stubStore{noShow: []*models.Booking{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}}
	machine := &flakyMachine{failures: map[string]string{"a": "error", "c": "panic"}}
	logger := zerolog.Nop()

	res, err := New(store, machine, nil, &logger).NoShows(context.Background(), 15*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"a", "c"}, res.FailedIDs)
}

func TestSweepStoreError(t *testing.T) {
	store := &stubStore{err: errors.New("database is locked")}
	logger := zerolog.Nop()
	s := New(store, &flakyMachine{}, nil, &logger)

	_, err := s.NoShows(context.Background(), time.Minute, false)
	assert.ErrorContains(t, err, "database is locked")
	_, err = s.Reminders(context.Background(), time.Hour, false)
	assert.Error(t, err)
}

func TestRunnerSkipsLockedSweeps(t *testing.T) {
	store := &stubStore{}
	logger := zerolog.Nop()
	s := New(store, &flakyMachine{}, &fakeDispatcher{}, &logger)
	locks := repository.NewMemoryRuntimeStore()
	cfg := config.LifecycleConfig{GracePeriod: 15 * time.Minute, ReminderWindow: 24 * time.Hour, SweepInterval: time.Hour}
	r := NewRunner(s, locks, cfg, &logger)
	ctx := context.Background()

	ok, err := locks.AcquireLock(ctx, "sweep:no_show", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	r.RunOnce(ctx)
	assert.Equal(t, 1, store.calls, "only the reminder sweep runs")

	require.NoError(t, locks.ReleaseLock(ctx, "sweep:no_show"))
	r.RunOnce(ctx)
	assert.Equal(t, 3, store.calls)

	ok, err = locks.AcquireLock(ctx, "sweep:reminder", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "runner releases its locks")
}

func TestRunnerStopsOnCancel(t *testing.T) {
	store := &stubStore{}
	logger := zerolog.Nop()
	r := NewRunner(New(store, &flakyMachine{}, &fakeDispatcher{}, &logger), nil,
		config.LifecycleConfig{GracePeriod: time.Minute, ReminderWindow: time.Hour, SweepInterval: 10 * time.Millisecond}, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.GreaterOrEqual(t, store.calls, 2)
}
