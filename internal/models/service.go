package models

import "time"

// Service is a bookable offering. Bookings snapshot its duration and price,
// so after the first booking only IsActive is expected to change.
type Service struct {
	ID              string    `yaml:"id" json:"id"`
	Name            string    `yaml:"name" json:"name"`
	Description     string    `yaml:"description" json:"description,omitempty"`
	DurationMinutes int       `yaml:"duration_minutes" json:"duration_minutes"`
	PriceCents      int64     `yaml:"price_cents" json:"price_cents"`
	Currency        string    `yaml:"currency" json:"currency"`
	IsActive        bool      `yaml:"is_active" json:"is_active"`
	CreatedAt       time.Time `yaml:"-" json:"created_at"`
	UpdatedAt       time.Time `yaml:"-" json:"updated_at"`
}

// Price renders the price as a decimal string.
func (s *Service) Price() string {
	return formatCents(s.PriceCents)
}
