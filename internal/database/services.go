package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appointly/internal/models"
)

// ErrServiceInUse is returned when booking terms of a referenced service would change.
var ErrServiceInUse = errors.New("service is referenced by bookings")

const serviceColumns = `id, name, description, duration_minutes, price_cents, currency, is_active, created_at, updated_at`

func (db *DB) CreateService(ctx context.Context, s *models.Service) error {
	if s == nil {
		return fmt.Errorf("service is nil")
	}
	if s.Currency == "" {
		s.Currency = models.DefaultCurrency
	}
	now := time.Now().UTC()
	query := `INSERT INTO services (` + serviceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		s.ID, s.Name, s.Description, s.DurationMinutes, s.PriceCents, s.Currency, s.IsActive,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (db *DB) GetService(ctx context.Context, id string) (*models.Service, error) {
	row := db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	s, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return s, nil
}

// ListServices returns services ordered by name.
func (db *DB) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var res []models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}

// UpdateService changes a service. Duration, price and currency are frozen
// once any booking references the service.
func (db *DB) UpdateService(ctx context.Context, s *models.Service) error {
	current, err := db.GetService(ctx, s.ID)
	if err != nil {
		return err
	}

	if current.DurationMinutes != s.DurationMinutes || current.PriceCents != s.PriceCents || current.Currency != s.Currency {
		referenced, err := db.serviceReferenced(ctx, s.ID)
		if err != nil {
			return err
		}
		if referenced {
			return ErrServiceInUse
		}
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `UPDATE services SET name = ?, description = ?, duration_minutes = ?, price_cents = ?,
            currency = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		s.Name, s.Description, s.DurationMinutes, s.PriceCents, s.Currency, s.IsActive, formatTime(now), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	s.CreatedAt = current.CreatedAt
	s.UpdatedAt = now
	return nil
}

func (db *DB) DeactivateService(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `UPDATE services SET is_active = 0, updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncServices upserts a catalog. Services whose terms are frozen keep their
// stored duration and price; only name, description and active flag follow the catalog.
// Active services missing from the catalog are deactivated, never deleted.
func (db *DB) SyncServices(ctx context.Context, catalog []models.Service) error {
	listed := make(map[string]bool, len(catalog))
	for i := range catalog {
		listed[catalog[i].ID] = true
		s := catalog[i]
		if s.Currency == "" {
			s.Currency = models.DefaultCurrency
		}

		current, err := db.GetService(ctx, s.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := db.CreateService(ctx, &s); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		err = db.UpdateService(ctx, &s)
		if errors.Is(err, ErrServiceInUse) {
			db.logger.Warn().
				Str("service_id", s.ID).
				Int("duration_minutes", current.DurationMinutes).
				Int64("price_cents", current.PriceCents).
				Msg("Service terms are frozen by existing bookings, keeping stored values")
			s.DurationMinutes = current.DurationMinutes
			s.PriceCents = current.PriceCents
			s.Currency = current.Currency
			err = db.UpdateService(ctx, &s)
		}
		if err != nil {
			return fmt.Errorf("failed to sync service %s: %w", s.ID, err)
		}
	}

	active, err := db.ListServices(ctx, true)
	if err != nil {
		return err
	}
	for _, s := range active {
		if listed[s.ID] {
			continue
		}
		if err := db.DeactivateService(ctx, s.ID); err != nil {
			return fmt.Errorf("failed to retire service %s: %w", s.ID, err)
		}
		db.logger.Info().Str("service_id", s.ID).Msg("Service removed from catalog, deactivated")
	}
	return nil
}

func (db *DB) serviceReferenced(ctx context.Context, id string) (bool, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE service_id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count service bookings: %w", err)
	}
	return n > 0, nil
}

func scanService(row rowScanner) (*models.Service, error) {
	var s models.Service
	var createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.DurationMinutes, &s.PriceCents, &s.Currency,
		&s.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
