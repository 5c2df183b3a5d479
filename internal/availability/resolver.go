// Package availability filters generated slots against bookings that still occupy their time.
package availability

import (
	"context"
	"fmt"
	"time"

	"appointly/internal/models"
	"appointly/internal/slots"
)

// Store is the read side the resolver needs: active bookings of one service
// whose interval may intersect [from, to).
type Store interface {
	ListActiveBookings(ctx context.Context, serviceID string, from, to time.Time) ([]*models.Booking, error)
}

type Resolver struct {
	generator *slots.Generator
	store     Store
}

func NewResolver(generator *slots.Generator, store Store) *Resolver {
	return &Resolver{generator: generator, store: store}
}

// Available returns the bookable slots of service on the calendar date of date.
func (r *Resolver) Available(ctx context.Context, service *models.Service, date time.Time) ([]models.AvailableSlot, error) {
	if service == nil {
		return nil, fmt.Errorf("service is required")
	}

	candidates := r.generator.Generate(date, service.DurationMinutes)
	if len(candidates) == 0 {
		return []models.AvailableSlot{}, nil
	}

	// Bookings starting before the first candidate can still spill into it.
	from := candidates[0].Start.Add(-time.Duration(models.MaxDurationMinutes) * time.Minute)
	to := candidates[len(candidates)-1].End

	bookings, err := r.store.ListActiveBookings(ctx, service.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}

	return Filter(candidates, bookings, r.generator.Hours().Location), nil
}

// Filter drops every candidate that overlaps an active booking and tags the rest
// with a period label computed in loc.
func Filter(candidates []models.TimeSlot, bookings []*models.Booking, loc *time.Location) []models.AvailableSlot {
	if loc == nil {
		loc = time.Local
	}
	out := make([]models.AvailableSlot, 0, len(candidates))
	for _, slot := range candidates {
		if Conflicts(slot, bookings) {
			continue
		}
		out = append(out, models.AvailableSlot{TimeSlot: slot, Period: PeriodOf(slot.Start, loc)})
	}
	return out
}

// Conflicts reports whether slot intersects any active booking.
func Conflicts(slot models.TimeSlot, bookings []*models.Booking) bool {
	for _, b := range bookings {
		if b == nil || !b.Status.IsActive() || b.DeletedAt != nil {
			continue
		}
		if slot.Overlaps(b.Interval()) {
			return true
		}
	}
	return false
}

// PeriodOf splits the day at noon.
func PeriodOf(t time.Time, loc *time.Location) models.Period {
	if t.In(loc).Hour() < models.NoonHour {
		return models.PeriodMorning
	}
	return models.PeriodAfternoon
}
