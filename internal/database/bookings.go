package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"appointly/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var bookingColumns = []string{
	"id", "service_id", "service_name", "assigned_to", "status",
	"scheduled_at", "started_at", "completed_at", "duration_minutes", "actual_duration_minutes",
	"amount_cents", "currency", "deposit_cents", "is_paid", "payment_status", "payment_method", "payment_intent_id",
	"client_name", "client_email", "client_phone", "client_notes",
	"cancellation_reason", "cancelled_by", "cancelled_at", "rescheduled_from", "rescheduled_at",
	"reminder_sent", "reminder_sent_at", "confirmation_sent", "staff_notes", "source",
	"created_at", "updated_at", "deleted_at", "version",
}

var bookingSelect = `SELECT ` + strings.Join(bookingColumns, ", ") + ` FROM bookings`

func activeStatusArgs() []string {
	out := make([]string, 0, len(models.ActiveStatuses))
	for _, s := range models.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// countOverlapping counts active bookings of serviceID intersecting [start, end),
// ignoring excludeID.
func countOverlapping(ctx context.Context, q execer, serviceID string, start, end time.Time, excludeID string) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("bookings").
		Where(sq.Eq{"service_id": serviceID, "status": activeStatusArgs(), "deleted_at": nil}).
		Where(sq.Lt{"scheduled_at": formatTime(end)}).
		Where(sq.Gt{"ends_at": formatTime(start)}).
		Where(sq.NotEq{"id": excludeID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build overlap query: %w", err)
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to check overlap: %w", err)
	}
	return n, nil
}

func insertBooking(ctx context.Context, q execer, b *models.Booking) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(bookingColumns)+1), ", ")
	query := `INSERT INTO bookings (` + strings.Join(bookingColumns, ", ") + `, ends_at) VALUES (` + placeholders + `)`
	_, err := q.ExecContext(ctx, query,
		b.ID, b.ServiceID, b.ServiceName, nullInt64(b.AssignedTo), string(b.Status),
		formatTime(b.ScheduledAt), formatNullTime(b.StartedAt), formatNullTime(b.CompletedAt), b.DurationMinutes, nullInt(b.ActualDurationMinutes),
		b.AmountCents, b.Currency, nullInt64(b.DepositCents), b.IsPaid, b.PaymentStatus, b.PaymentMethod, b.PaymentIntentID,
		b.ClientName, b.ClientEmail, b.ClientPhone, b.ClientNotes,
		b.CancellationReason, nullInt64(b.CancelledBy), formatNullTime(b.CancelledAt), b.RescheduledFrom, formatNullTime(b.RescheduledAt),
		b.ReminderSent, formatNullTime(b.ReminderSentAt), b.ConfirmationSent, b.StaffNotes, b.Source,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt), formatNullTime(b.DeletedAt), b.Version,
		formatTime(b.EndsAt()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func prepareNew(b *models.Booking, now time.Time) {
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	if b.PaymentStatus == "" {
		b.PaymentStatus = models.PaymentPending
	}
	if b.Source == "" {
		b.Source = models.SourceAPI
	}
}

// CreateBookingWithLock inserts b if no active booking of the same service
// overlaps its interval. The check and the insert share one immediate
// transaction, so concurrent attempts on overlapping slots serialize and all
// but one get ErrSlotUnavailable.
func (db *DB) CreateBookingWithLock(ctx context.Context, b *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	n, err := countOverlapping(ctx, tx, b.ServiceID, b.ScheduledAt, b.EndsAt(), b.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrSlotUnavailable
	}

	prepareNew(b, time.Now().UTC())
	if err := insertBooking(ctx, tx, b); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// GetBooking returns a booking that has not been soft-deleted.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, bookingSelect+` WHERE id = ? AND deleted_at IS NULL`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// GetBookingByPaymentIntent returns the booking a payment reference belongs to.
// A rescheduled booking shares its reference with its replacement; the live
// end of the chain wins.
func (db *DB) GetBookingByPaymentIntent(ctx context.Context, ref string) (*models.Booking, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	row := db.QueryRowContext(ctx, bookingSelect+` WHERE payment_intent_id = ? AND deleted_at IS NULL
        ORDER BY CASE WHEN status = ? THEN 1 ELSE 0 END, created_at DESC, id DESC
        LIMIT 1`, ref, string(models.StatusRescheduled))
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by payment: %w", err)
	}
	return b, nil
}

// ListBookings returns bookings ordered by scheduled_at.
func (db *DB) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	q := sq.Select(bookingColumns...).From("bookings").Where(sq.Eq{"deleted_at": nil})
	if f.ServiceID != "" {
		q = q.Where(sq.Eq{"service_id": f.ServiceID})
	}
	if len(f.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": statusStrings(f.Statuses)})
	}
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"scheduled_at": formatTime(*f.From)})
	}
	if f.To != nil {
		q = q.Where(sq.Lt{"scheduled_at": formatTime(*f.To)})
	}
	q = q.OrderBy("scheduled_at ASC", "id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return db.queryBookings(ctx, q)
}

// ListActiveBookings returns slot-blocking bookings of a service intersecting [from, to).
func (db *DB) ListActiveBookings(ctx context.Context, serviceID string, from, to time.Time) ([]*models.Booking, error) {
	q := sq.Select(bookingColumns...).From("bookings").
		Where(sq.Eq{"service_id": serviceID, "status": activeStatusArgs(), "deleted_at": nil}).
		Where(sq.Lt{"scheduled_at": formatTime(to)}).
		Where(sq.Gt{"ends_at": formatTime(from)}).
		OrderBy("scheduled_at ASC")
	return db.queryBookings(ctx, q)
}

// ListNoShowCandidates selects confirmed or reminded bookings scheduled at or
// before cutoff that were never started.
func (db *DB) ListNoShowCandidates(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	q := sq.Select(bookingColumns...).From("bookings").
		Where(sq.Eq{
			"status":     []string{string(models.StatusConfirmed), string(models.StatusReminded)},
			"started_at": nil,
			"deleted_at": nil,
		}).
		Where(sq.LtOrEq{"scheduled_at": formatTime(cutoff)}).
		OrderBy("scheduled_at ASC")
	return db.queryBookings(ctx, q)
}

// ListReminderCandidates selects confirmed, not yet reminded bookings with
// scheduled_at in [from, to].
func (db *DB) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	q := sq.Select(bookingColumns...).From("bookings").
		Where(sq.Eq{"status": string(models.StatusConfirmed), "reminder_sent": false, "deleted_at": nil}).
		Where(sq.GtOrEq{"scheduled_at": formatTime(from)}).
		Where(sq.LtOrEq{"scheduled_at": formatTime(to)}).
		OrderBy("scheduled_at ASC")
	return db.queryBookings(ctx, q)
}

// CountBookingsByStatus counts bookings scheduled in [from, to) per status.
func (db *DB) CountBookingsByStatus(ctx context.Context, from, to time.Time) (map[models.Status]int, error) {
	query, args, err := sq.Select("status", "COUNT(*)").From("bookings").
		Where(sq.Eq{"deleted_at": nil}).
		Where(sq.GtOrEq{"scheduled_at": formatTime(from)}).
		Where(sq.Lt{"scheduled_at": formatTime(to)}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count bookings: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func updateWithVersion(ctx context.Context, q execer, b *models.Booking, now time.Time) error {
	query := `UPDATE bookings SET
            assigned_to = ?, status = ?, started_at = ?, completed_at = ?, actual_duration_minutes = ?,
            deposit_cents = ?, is_paid = ?, payment_status = ?, payment_method = ?, payment_intent_id = ?,
            cancellation_reason = ?, cancelled_by = ?, cancelled_at = ?, rescheduled_at = ?,
            reminder_sent = ?, reminder_sent_at = ?, confirmation_sent = ?, staff_notes = ?,
            updated_at = ?, version = version + 1
        WHERE id = ? AND version = ? AND deleted_at IS NULL`
	result, err := q.ExecContext(ctx, query,
		nullInt64(b.AssignedTo), string(b.Status), formatNullTime(b.StartedAt), formatNullTime(b.CompletedAt), nullInt(b.ActualDurationMinutes),
		nullInt64(b.DepositCents), b.IsPaid, b.PaymentStatus, b.PaymentMethod, b.PaymentIntentID,
		b.CancellationReason, nullInt64(b.CancelledBy), formatNullTime(b.CancelledAt), formatNullTime(b.RescheduledAt),
		b.ReminderSent, formatNullTime(b.ReminderSentAt), b.ConfirmationSent, b.StaffNotes,
		formatTime(now), b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// UpdateBookingWithVersion writes the mutable fields of b if the stored version
// still equals b.Version, then bumps b.Version. Scheduling fields and snapshots
// are never rewritten.
func (db *DB) UpdateBookingWithVersion(ctx context.Context, b *models.Booking) error {
	now := time.Now().UTC()
	if err := updateWithVersion(ctx, db, b, now); err != nil {
		return err
	}
	b.Version++
	b.UpdatedAt = now
	return nil
}

// RescheduleBooking atomically moves original (already carrying its new state)
// and inserts replacement. The original's interval does not block the replacement.
func (db *DB) RescheduleBooking(ctx context.Context, original, replacement *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if err := updateWithVersion(ctx, tx, original, now); err != nil {
		return err
	}

	n, err := countOverlapping(ctx, tx, replacement.ServiceID, replacement.ScheduledAt, replacement.EndsAt(), original.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrSlotUnavailable
	}

	prepareNew(replacement, now)
	if err := insertBooking(ctx, tx, replacement); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reschedule: %w", err)
	}
	original.Version++
	original.UpdatedAt = now
	return nil
}

// SoftDeleteBooking hides a booking from every query while keeping the row.
func (db *DB) SoftDeleteBooking(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := db.ExecContext(ctx, `UPDATE bookings SET deleted_at = ?, updated_at = ?, version = version + 1
        WHERE id = ? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) queryBookings(ctx context.Context, q sq.SelectBuilder) ([]*models.Booking, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bookings query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var status, scheduledAt, createdAt, updatedAt string
	var assignedTo, depositCents, cancelledBy, actualMinutes sql.NullInt64
	var startedAt, completedAt, cancelledAt, rescheduledAt, reminderSentAt, deletedAt sql.NullString

	err := row.Scan(
		&b.ID, &b.ServiceID, &b.ServiceName, &assignedTo, &status,
		&scheduledAt, &startedAt, &completedAt, &b.DurationMinutes, &actualMinutes,
		&b.AmountCents, &b.Currency, &depositCents, &b.IsPaid, &b.PaymentStatus, &b.PaymentMethod, &b.PaymentIntentID,
		&b.ClientName, &b.ClientEmail, &b.ClientPhone, &b.ClientNotes,
		&b.CancellationReason, &cancelledBy, &cancelledAt, &b.RescheduledFrom, &rescheduledAt,
		&b.ReminderSent, &reminderSentAt, &b.ConfirmationSent, &b.StaffNotes, &b.Source,
		&createdAt, &updatedAt, &deletedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Status = models.Status(status)
	if assignedTo.Valid {
		b.AssignedTo = &assignedTo.Int64
	}
	if depositCents.Valid {
		b.DepositCents = &depositCents.Int64
	}
	if cancelledBy.Valid {
		b.CancelledBy = &cancelledBy.Int64
	}
	if actualMinutes.Valid {
		v := int(actualMinutes.Int64)
		b.ActualDurationMinutes = &v
	}

	if b.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	nullable := []struct {
		src sql.NullString
		dst **time.Time
	}{
		{startedAt, &b.StartedAt},
		{completedAt, &b.CompletedAt},
		{cancelledAt, &b.CancelledAt},
		{rescheduledAt, &b.RescheduledAt},
		{reminderSentAt, &b.ReminderSentAt},
		{deletedAt, &b.DeletedAt},
	}
	for _, n := range nullable {
		if *n.dst, err = parseNullTime(n.src); err != nil {
			return nil, err
		}
	}

	return &b, nil
}
