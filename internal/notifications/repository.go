// Package notifications implements the asynchronous notification and
// email delivery pipeline: the durable delivery queue, its processor,
// eligibility filtering against user preferences, digest generation,
// and the producer-facing notification service.
package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Dharshni15/job/internal/domain"
)

// Repository defines the persistence operations the pipeline needs.
// The conditional-update methods return ErrJobNotClaimable when the
// job is no longer in the expected prior state; the processor treats
// that as losing the race to a concurrent tick.
type Repository interface {
	// Delivery queue
	CreateJob(ctx context.Context, job *domain.DeliveryJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.DeliveryJob, error)
	SelectDueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.DeliveryJob, error)

	// ClaimJob transitions pending → processing, increments attempts
	// and stamps last_attempt_at, only if the job is still pending.
	ClaimJob(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkSent transitions processing → sent and clears failure_reason.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed transitions processing → failed with a terminal reason.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// RescheduleRetry transitions processing → pending with a new
	// scheduled_for, keeping the attempt that was just consumed.
	RescheduleRetry(ctx context.Context, id uuid.UUID, at time.Time, lastErr string) error

	// DeferQuietHours transitions processing → pending with a new
	// scheduled_for and rolls the attempt increment back. Quiet-hours
	// deferrals must not consume the retry budget.
	DeferQuietHours(ctx context.Context, id uuid.UUID, at time.Time) error

	// CancelJob transitions pending/processing → cancelled.
	CancelJob(ctx context.Context, id uuid.UUID, reason string) error

	// ResetJobForRetry transitions failed → pending with attempts
	// zeroed (operator action).
	ResetJobForRetry(ctx context.Context, id uuid.UUID, at time.Time) error

	// RecoverStaleJobs resets processing jobs whose last attempt is
	// older than the threshold back to pending. Returns the count.
	RecoverStaleJobs(ctx context.Context, olderThan time.Time) (int64, error)

	// DeleteTerminalJobs removes sent/failed/cancelled jobs older than
	// the cutoff. Returns the count.
	DeleteTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error)

	// FindJobByDedupKey returns the job carrying the given dedup key,
	// or ErrJobNotFound.
	FindJobByDedupKey(ctx context.Context, key string) (*domain.DeliveryJob, error)

	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)

	// Notifications
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	ListNotifications(ctx context.Context, recipient uuid.UUID, opts ListOptions) ([]*domain.Notification, error)
	CountUnread(ctx context.Context, recipient uuid.UUID) (int64, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, at time.Time) error
	ArchiveNotification(ctx context.Context, id uuid.UUID) error
	DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error)

	// ListRecentNotifications returns a recipient's notifications
	// created inside the window, newest first, capped at limit. Used
	// by the digest generator.
	ListRecentNotifications(ctx context.Context, recipient uuid.UUID, since, until time.Time, limit int) ([]*domain.Notification, error)

	// Preferences
	GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.PreferenceProfile, error)
	UpsertPreferences(ctx context.Context, p *domain.PreferenceProfile) error
	ListUserIDsByFrequency(ctx context.Context, f domain.Frequency) ([]uuid.UUID, error)
}

// ListOptions controls notification listing.
type ListOptions struct {
	UnreadOnly      bool
	IncludeArchived bool
	Limit           int
	Offset          int
}
