package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator() *Generator {
	h := DefaultHours()
	h.Location = time.UTC
	return NewGenerator(h)
}

// 2025-12-15 is a Monday.
var monday = time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)

func TestGenerateHourly(t *testing.T) {
	got := testGenerator().Generate(monday, 60)
	require.Len(t, got, 8)

	assert.Equal(t, time.Date(2025, 12, 15, 9, 0, 0, 0, time.UTC), got[0].Start)
	assert.Equal(t, time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC), got[0].End)
	assert.Equal(t, time.Date(2025, 12, 15, 16, 0, 0, 0, time.UTC), got[7].Start)
	assert.Equal(t, time.Date(2025, 12, 15, 17, 0, 0, 0, time.UTC), got[7].End)

	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].End, got[i].Start)
	}
}

func TestGenerateUnevenDuration(t *testing.T) {
	got := testGenerator().Generate(monday, 45)
	require.Len(t, got, 10)

	last := got[len(got)-1]
	assert.Equal(t, time.Date(2025, 12, 15, 15, 45, 0, 0, time.UTC), last.Start)
	assert.Equal(t, time.Date(2025, 12, 15, 16, 30, 0, 0, time.UTC), last.End)
}

func TestGenerateWholeDay(t *testing.T) {
	got := testGenerator().Generate(monday, 480)
	require.Len(t, got, 1)
	assert.Equal(t, 8*time.Hour, got[0].Duration())
}

func TestGenerateEmpty(t *testing.T) {
	g := testGenerator()

	tests := []struct {
		name     string
		date     time.Time
		duration int
	}{
		{"saturday", monday.AddDate(0, 0, 5), 60},
		{"sunday", monday.AddDate(0, 0, 6), 60},
		{"zero duration", monday, 0},
		{"negative duration", monday, -30},
		{"longer than window", monday, 481},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, g.Generate(tt.date, tt.duration))
		})
	}
}

func TestGenerateIgnoresTimeOfDay(t *testing.T) {
	g := testGenerator()
	a := g.Generate(monday, 30)
	b := g.Generate(monday.Add(13*time.Hour+7*time.Minute), 30)
	assert.Equal(t, a, b)
}

func TestGenerateCustomHours(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	g := NewGenerator(Hours{
		Open:     Clock{Hour: 10, Minute: 30},
		Close:    Clock{Hour: 12},
		Days:     []time.Weekday{time.Saturday},
		Location: loc,
	})

	saturday := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)
	got := g.Generate(saturday, 30)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2025, 12, 20, 10, 30, 0, 0, loc), got[0].Start)
	assert.Equal(t, time.Date(2025, 12, 20, 13, 30, 0, 0, time.UTC), got[0].Start.UTC())

	assert.Empty(t, g.Generate(monday, 30))
}

func TestSlotAt(t *testing.T) {
	g := testGenerator()

	slot, ok := g.SlotAt(time.Date(2025, 12, 15, 11, 0, 0, 0, time.UTC), 60)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC), slot.End)

	_, ok = g.SlotAt(time.Date(2025, 12, 15, 11, 30, 0, 0, time.UTC), 60)
	assert.False(t, ok)

	_, ok = g.SlotAt(time.Date(2025, 12, 13, 11, 0, 0, 0, time.UTC), 60)
	assert.False(t, ok)
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 9, Minute: 30}, c)
	assert.Equal(t, "09:30", c.String())

	_, err = ParseClock("9am")
	assert.Error(t, err)
}
