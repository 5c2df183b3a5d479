// Package slots produces candidate booking intervals from fixed business hours.
package slots

import (
	"fmt"
	"time"

	"appointly/internal/models"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(raw string) (Clock, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", raw, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Hours describes the weekly opening window.
type Hours struct {
	Open     Clock
	Close    Clock
	Days     []time.Weekday
	Location *time.Location
}

// DefaultHours is Monday to Friday, 09:00-17:00 local time.
func DefaultHours() Hours {
	return Hours{
		Open:     Clock{Hour: 9},
		Close:    Clock{Hour: 17},
		Days:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Location: time.Local,
	}
}

func (h Hours) location() *time.Location {
	if h.Location == nil {
		return time.Local
	}
	return h.Location
}

func (h Hours) isOpen(day time.Weekday) bool {
	for _, d := range h.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Generator is a pure function of (date, duration) over a fixed Hours value.
type Generator struct {
	hours Hours
}

func NewGenerator(hours Hours) *Generator {
	return &Generator{hours: hours}
}

func (g *Generator) Hours() Hours { return g.hours }

// Window returns the opening interval for the calendar date of date.
// ok is false on closed days.
func (g *Generator) Window(date time.Time) (open, closeAt time.Time, ok bool) {
	loc := g.hours.location()
	y, m, d := date.Date()
	open = time.Date(y, m, d, g.hours.Open.Hour, g.hours.Open.Minute, 0, 0, loc)
	closeAt = time.Date(y, m, d, g.hours.Close.Hour, g.hours.Close.Minute, 0, 0, loc)
	if !g.hours.isOpen(open.Weekday()) || !closeAt.After(open) {
		return time.Time{}, time.Time{}, false
	}
	return open, closeAt, true
}

// Generate returns contiguous slots [cursor, cursor+duration) from opening time
// while the slot end does not pass closing time. The calendar date is taken
// from date's own year/month/day. Closed days and durations that are not
// positive or do not fit the window yield nil.
func (g *Generator) Generate(date time.Time, durationMinutes int) []models.TimeSlot {
	if durationMinutes <= 0 {
		return nil
	}
	if durationMinutes > g.hours.Close.minutes()-g.hours.Open.minutes() {
		return nil
	}

	open, closeAt, ok := g.Window(date)
	if !ok {
		return nil
	}

	step := time.Duration(durationMinutes) * time.Minute
	var out []models.TimeSlot
	for cursor := open; !cursor.Add(step).After(closeAt); cursor = cursor.Add(step) {
		out = append(out, models.TimeSlot{Start: cursor, End: cursor.Add(step)})
	}
	return out
}

// SlotAt returns the generated slot starting exactly at start, if any.
func (g *Generator) SlotAt(start time.Time, durationMinutes int) (models.TimeSlot, bool) {
	local := start.In(g.hours.location())
	for _, s := range g.Generate(local, durationMinutes) {
		if s.Start.Equal(start) {
			return s, true
		}
	}
	return models.TimeSlot{}, false
}
