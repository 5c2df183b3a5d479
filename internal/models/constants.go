package models

import "time"

const (
	// DefaultGracePeriod is how long after scheduled_at a booking without
	// check-in waits before the no-show sweep picks it up.
	DefaultGracePeriod = 15 * time.Minute

	// DefaultReminderWindow is how far ahead the reminder sweep looks.
	DefaultReminderWindow = 24 * time.Hour

	// DefaultSweepInterval is the cadence of the in-process sweep runner.
	DefaultSweepInterval = time.Hour

	// LastRestartTTL bounds how long a recorded restart instant is trusted.
	LastRestartTTL = 24 * time.Hour

	// DefaultCurrency is used when a service omits one.
	DefaultCurrency = "USD"

	// MaxDurationMinutes is the longest bookable service (one full business day).
	MaxDurationMinutes = 480

	// NoonHour splits morning from afternoon slots.
	NoonHour = 12

	DateLayout = "2006-01-02"
)
