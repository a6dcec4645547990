// Package postgres provides the PostgreSQL implementation of the
// notifications repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dharshni15/job/internal/domain"
	"github.com/Dharshni15/job/internal/notifications"
)

const uniqueViolation = "23505"

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const jobColumns = `id, recipient, category, priority, status, scheduled_for,
	attempts, max_attempts, last_attempt_at, sent_at, failure_reason,
	template, payload, dedup_key, created_at, updated_at`

// CreateJob inserts a new delivery job. A dedup key collision maps to
// ErrDuplicateDigest.
func (r *Repository) CreateJob(ctx context.Context, job *domain.DeliveryJob) error {
	query := `
		INSERT INTO delivery_jobs (id, recipient, category, priority, status, scheduled_for,
			attempts, max_attempts, failure_reason, template, payload, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		job.ID,
		job.Recipient,
		job.Category,
		job.Priority,
		job.Status,
		job.ScheduledFor,
		job.Attempts,
		job.MaxAttempts,
		job.FailureReason,
		job.Template,
		job.Payload,
		job.DedupKey,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return notifications.ErrDuplicateDigest
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob retrieves a delivery job by ID.
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*domain.DeliveryJob, error) {
	query := `SELECT ` + jobColumns + ` FROM delivery_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// SelectDueJobs returns pending jobs whose scheduled time has passed
// and whose attempt budget is not exhausted, highest priority first,
// oldest first within a priority.
func (r *Repository) SelectDueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.DeliveryJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE status = 'pending' AND scheduled_for <= $1 AND attempts < max_attempts
		ORDER BY
			CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.DeliveryJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob transitions pending → processing, consuming one attempt.
// The WHERE clause is the claim: losing the race to a concurrent
// processor affects zero rows.
func (r *Repository) ClaimJob(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotClaimable
	}
	return nil
}

// MarkSent transitions processing → sent.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'sent', sent_at = $2, failure_reason = '', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotClaimable
	}
	return nil
}

// MarkFailed transitions processing → failed with a terminal reason.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotClaimable
	}
	return nil
}

// RescheduleRetry transitions processing → pending at a later time,
// keeping the attempt that was just consumed.
func (r *Repository) RescheduleRetry(ctx context.Context, id uuid.UUID, at time.Time, lastErr string) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'pending', scheduled_for = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, at, lastErr)
	if err != nil {
		return fmt.Errorf("reschedule retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotClaimable
	}
	return nil
}

// DeferQuietHours transitions processing → pending at the quiet-hours
// end and rolls back the attempt the claim consumed.
func (r *Repository) DeferQuietHours(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'pending', scheduled_for = $2, attempts = attempts - 1, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("defer quiet hours: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotClaimable
	}
	return nil
}

// CancelJob transitions a non-terminal job to cancelled.
func (r *Repository) CancelJob(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'cancelled', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	result, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, id)
	}
	return nil
}

// ResetJobForRetry transitions failed → pending with a fresh attempt
// budget. Operator action.
func (r *Repository) ResetJobForRetry(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'pending', attempts = 0, scheduled_for = $2, failure_reason = '', updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("reset job: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return err
		}
		return notifications.ErrNotRetryable
	}
	return nil
}

// classifyMissedUpdate distinguishes a missing job from one already in
// a terminal state after a zero-row conditional update.
func (r *Repository) classifyMissedUpdate(ctx context.Context, id uuid.UUID) error {
	job, err := r.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return notifications.ErrJobTerminal
	}
	return notifications.ErrJobNotClaimable
}

// RecoverStaleJobs resets processing jobs abandoned by a crashed
// processor back to pending.
func (r *Repository) RecoverStaleJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE delivery_jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND last_attempt_at < $1
	`
	result, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteTerminalJobs removes terminal jobs older than the cutoff.
func (r *Repository) DeleteTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM delivery_jobs
		WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// FindJobByDedupKey retrieves the job carrying the given dedup key.
func (r *Repository) FindJobByDedupKey(ctx context.Context, key string) (*domain.DeliveryJob, error) {
	query := `SELECT ` + jobColumns + ` FROM delivery_jobs WHERE dedup_key = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrJobNotFound
		}
		return nil, fmt.Errorf("find job by dedup key: %w", err)
	}
	return job, nil
}

// GetQueueStats returns per-status job counts.
func (r *Repository) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM delivery_jobs GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var status domain.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case domain.JobStatusPending:
			stats.Pending = count
		case domain.JobStatusProcessing:
			stats.Processing = count
		case domain.JobStatusSent:
			stats.Sent = count
		case domain.JobStatusFailed:
			stats.Failed = count
		case domain.JobStatusCancelled:
			stats.Cancelled = count
		}
	}
	return &stats, rows.Err()
}

const notificationColumns = `id, recipient, sender, type, title, message, category,
	priority, is_read, read_at, is_archived, created_at, expires_at`

// CreateNotification inserts a notification record.
func (r *Repository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, recipient, sender, type, title, message, category, priority, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		n.ID,
		n.Recipient,
		n.Sender,
		n.Type,
		n.Title,
		n.Message,
		n.Category,
		n.Priority,
		n.ExpiresAt,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification by ID.
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListNotifications retrieves a recipient's notifications, newest first.
func (r *Repository) ListNotifications(ctx context.Context, recipient uuid.UUID, opts notifications.ListOptions) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient = $1
			AND ($2 OR is_read = FALSE)
			AND ($3 OR is_archived = FALSE)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query,
		recipient,
		!opts.UnreadOnly,
		opts.IncludeArchived,
		opts.Limit,
		opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// CountUnread returns the number of unread, unarchived notifications.
func (r *Repository) CountUnread(ctx context.Context, recipient uuid.UUID) (int64, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient = $1 AND is_read = FALSE AND is_archived = FALSE
	`
	var count int64
	if err := r.db.QueryRow(ctx, query, recipient).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkNotificationRead marks a notification as read. Idempotent.
func (r *Repository) MarkNotificationRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// ArchiveNotification archives a notification. Idempotent.
func (r *Repository) ArchiveNotification(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET is_archived = TRUE WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("archive notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// DeleteExpiredNotifications removes notifications past their TTL.
func (r *Repository) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < $1`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListRecentNotifications returns a recipient's notifications created
// inside the window, newest first.
func (r *Repository) ListRecentNotifications(ctx context.Context, recipient uuid.UUID, since, until time.Time, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, recipient, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// GetPreferences retrieves a user's preference profile.
func (r *Repository) GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.PreferenceProfile, error) {
	query := `
		SELECT user_id, email, push, in_app, frequency, quiet_hours, updated_at
		FROM preference_profiles
		WHERE user_id = $1
	`
	var p domain.PreferenceProfile
	var email, push, inApp, qh []byte
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&email,
		&push,
		&inApp,
		&p.Frequency,
		&qh,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	for _, pair := range []struct {
		raw []byte
		dst interface{}
	}{
		{email, &p.Email},
		{push, &p.Push},
		{inApp, &p.InApp},
		{qh, &p.QuietHours},
	} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return &p, nil
}

// UpsertPreferences inserts or replaces a user's preference profile.
func (r *Repository) UpsertPreferences(ctx context.Context, p *domain.PreferenceProfile) error {
	email, err := json.Marshal(p.Email)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	push, err := json.Marshal(p.Push)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	inApp, err := json.Marshal(p.InApp)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	qh, err := json.Marshal(p.QuietHours)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	query := `
		INSERT INTO preference_profiles (user_id, email, push, in_app, frequency, quiet_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email,
			push = EXCLUDED.push,
			in_app = EXCLUDED.in_app,
			frequency = EXCLUDED.frequency,
			quiet_hours = EXCLUDED.quiet_hours,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, p.UserID, email, push, inApp, p.Frequency, qh, p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// ListUserIDsByFrequency returns users whose profile selects the given
// digest frequency.
func (r *Repository) ListUserIDsByFrequency(ctx context.Context, f domain.Frequency) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM preference_profiles WHERE frequency = $1`
	rows, err := r.db.Query(ctx, query, f)
	if err != nil {
		return nil, fmt.Errorf("list users by frequency: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanJob(row pgx.Row) (*domain.DeliveryJob, error) {
	var job domain.DeliveryJob
	err := row.Scan(
		&job.ID,
		&job.Recipient,
		&job.Category,
		&job.Priority,
		&job.Status,
		&job.ScheduledFor,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastAttemptAt,
		&job.SentAt,
		&job.FailureReason,
		&job.Template,
		&job.Payload,
		&job.DedupKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID,
		&n.Recipient,
		&n.Sender,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Category,
		&n.Priority,
		&n.IsRead,
		&n.ReadAt,
		&n.IsArchived,
		&n.CreatedAt,
		&n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	items := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
