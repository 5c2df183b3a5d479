package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"appointly/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var syncTaskColumns = []string{
	"id", "task_type", "booking_id", "payload", "status",
	"retry_count", "last_error", "created_at", "processed_at", "next_retry_at",
}

// CreateSyncTask stores a mirror job. A task without status starts pending.
func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncPending
	}
	now := time.Now().UTC()

	query, args, err := sq.Insert("sync_queue").
		Columns("task_type", "booking_id", "payload", "status", "retry_count", "last_error", "created_at", "next_retry_at").
		Values(task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, now, utcPtr(task.NextRetryAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sync task insert: %w", err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingSyncTasks returns pending and due retry tasks, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	q := sq.Select(syncTaskColumns...).From("sync_queue").
		Where(sq.Eq{"status": []string{models.SyncPending, models.SyncRetry}}).
		Where(sq.Or{sq.Eq{"next_retry_at": nil}, sq.LtOrEq{"next_retry_at": time.Now().UTC()}}).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return db.querySyncTasks(ctx, q)
}

// UpdateSyncTaskStatus moves a task to status. Retry bumps retry_count;
// completed and failed are stamped with processed_at.
func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	q := sq.Update("sync_queue").
		Set("status", status).
		Set("last_error", errMsg).
		Set("next_retry_at", utcPtr(nextRetryAt)).
		Where(sq.Eq{"id": id})

	switch status {
	case models.SyncRetry:
		q = q.Set("retry_count", sq.Expr("retry_count + 1"))
	case models.SyncCompleted, models.SyncFailed:
		q = q.Set("processed_at", time.Now().UTC())
	}

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build sync task update: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueFailedSyncTasks puts every failed task back to pending with a fresh
// retry budget and returns how many were requeued.
func (db *DB) RequeueFailedSyncTasks(ctx context.Context) (int64, error) {
	query, args, err := sq.Update("sync_queue").
		Set("status", models.SyncPending).
		Set("retry_count", 0).
		Set("next_retry_at", nil).
		Set("processed_at", nil).
		Where(sq.Eq{"status": models.SyncFailed}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sync task requeue: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue sync tasks: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) querySyncTasks(ctx context.Context, q sq.SelectBuilder) ([]models.SyncTask, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sync task query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		t, err := scanSyncTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanSyncTask(rows *sql.Rows) (models.SyncTask, error) {
	var t models.SyncTask
	err := rows.Scan(
		&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status,
		&t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan sync task: %w", err)
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
