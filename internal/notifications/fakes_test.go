package notifications

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dharshni15/job/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepo is an in-memory Repository with the same conditional-update
// semantics as the postgres implementation: status transitions only
// succeed from the expected prior state.
type fakeRepo struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*domain.DeliveryJob
	notifs   map[uuid.UUID]*domain.Notification
	profiles map[uuid.UUID]*domain.PreferenceProfile

	failCreateJob error
	failGetPrefs  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:     make(map[uuid.UUID]*domain.DeliveryJob),
		notifs:   make(map[uuid.UUID]*domain.Notification),
		profiles: make(map[uuid.UUID]*domain.PreferenceProfile),
	}
}

func (r *fakeRepo) CreateJob(_ context.Context, job *domain.DeliveryJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateJob != nil {
		return r.failCreateJob
	}
	if job.DedupKey != nil {
		for _, existing := range r.jobs {
			if existing.DedupKey != nil && *existing.DedupKey == *job.DedupKey {
				return ErrDuplicateDigest
			}
		}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *fakeRepo) GetJob(_ context.Context, id uuid.UUID) (*domain.DeliveryJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (r *fakeRepo) SelectDueJobs(_ context.Context, now time.Time, limit int) ([]*domain.DeliveryJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*domain.DeliveryJob, 0)
	for _, job := range r.jobs {
		if job.Due(now) {
			clone := *job
			due = append(due, &clone)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority.Rank() != due[j].Priority.Rank() {
			return due[i].Priority.Rank() > due[j].Priority.Rank()
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeRepo) ClaimJob(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusPending {
		return ErrJobNotClaimable
	}
	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.LastAttemptAt = &at
	job.UpdatedAt = at
	return nil
}

func (r *fakeRepo) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return ErrJobNotClaimable
	}
	job.Status = domain.JobStatusSent
	job.SentAt = &at
	job.FailureReason = ""
	job.UpdatedAt = at
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return ErrJobNotClaimable
	}
	job.Status = domain.JobStatusFailed
	job.FailureReason = reason
	return nil
}

func (r *fakeRepo) RescheduleRetry(_ context.Context, id uuid.UUID, at time.Time, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return ErrJobNotClaimable
	}
	job.Status = domain.JobStatusPending
	job.ScheduledFor = at
	job.FailureReason = lastErr
	return nil
}

func (r *fakeRepo) DeferQuietHours(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return ErrJobNotClaimable
	}
	job.Status = domain.JobStatusPending
	job.ScheduledFor = at
	job.Attempts--
	return nil
}

func (r *fakeRepo) CancelJob(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	job.Status = domain.JobStatusCancelled
	job.FailureReason = reason
	return nil
}

func (r *fakeRepo) ResetJobForRetry(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != domain.JobStatusFailed {
		return ErrNotRetryable
	}
	job.Status = domain.JobStatusPending
	job.Attempts = 0
	job.ScheduledFor = at
	job.FailureReason = ""
	return nil
}

func (r *fakeRepo) RecoverStaleJobs(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing && job.LastAttemptAt != nil && job.LastAttemptAt.Before(olderThan) {
			job.Status = domain.JobStatusPending
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) DeleteTerminalJobs(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) FindJobByDedupKey(_ context.Context, key string) (*domain.DeliveryJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.DedupKey != nil && *job.DedupKey == key {
			clone := *job
			return &clone, nil
		}
	}
	return nil, ErrJobNotFound
}

func (r *fakeRepo) GetQueueStats(_ context.Context) (*domain.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats domain.QueueStats
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusPending:
			stats.Pending++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusSent:
			stats.Sent++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return &stats, nil
}

func (r *fakeRepo) CreateNotification(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *n
	r.notifs[n.ID] = &clone
	return nil
}

func (r *fakeRepo) GetNotification(_ context.Context, id uuid.UUID) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifs[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	clone := *n
	return &clone, nil
}

func (r *fakeRepo) ListNotifications(_ context.Context, recipient uuid.UUID, opts ListOptions) ([]*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*domain.Notification, 0)
	for _, n := range r.notifs {
		if n.Recipient != recipient {
			continue
		}
		if opts.UnreadOnly && n.IsRead {
			continue
		}
		if !opts.IncludeArchived && n.IsArchived {
			continue
		}
		clone := *n
		items = append(items, &clone)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (r *fakeRepo) CountUnread(_ context.Context, recipient uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.notifs {
		if item.Recipient == recipient && !item.IsRead && !item.IsArchived {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) MarkNotificationRead(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifs[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.IsRead = true
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	return nil
}

func (r *fakeRepo) ArchiveNotification(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifs[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.IsArchived = true
	return nil
}

func (r *fakeRepo) DeleteExpiredNotifications(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, item := range r.notifs {
		if item.Expired(now) {
			delete(r.notifs, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ListRecentNotifications(_ context.Context, recipient uuid.UUID, since, until time.Time, limit int) ([]*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*domain.Notification, 0)
	for _, n := range r.notifs {
		if n.Recipient != recipient || n.CreatedAt.Before(since) || !n.CreatedAt.Before(until) {
			continue
		}
		clone := *n
		items = append(items, &clone)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *fakeRepo) GetPreferences(_ context.Context, userID uuid.UUID) (*domain.PreferenceProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGetPrefs != nil {
		return nil, r.failGetPrefs
	}
	p, ok := r.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakeRepo) UpsertPreferences(_ context.Context, p *domain.PreferenceProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.profiles[p.UserID] = &clone
	return nil
}

func (r *fakeRepo) ListUserIDsByFrequency(_ context.Context, f domain.Frequency) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0)
	for id, p := range r.profiles {
		if p.Frequency == f {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// setProfile stores a profile directly, bypassing validation.
func (r *fakeRepo) setProfile(p *domain.PreferenceProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.profiles[p.UserID] = &clone
}

// jobByID returns the stored job without copying, for assertions.
func (r *fakeRepo) jobByID(id uuid.UUID) *domain.DeliveryJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// allJobs returns every stored job.
func (r *fakeRepo) allJobs() []*domain.DeliveryJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]*domain.DeliveryJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// fakeSender records sent messages and fails according to its script:
// errs[i] is returned on call i (nil entries and calls past the end of
// the script succeed).
type fakeSender struct {
	mu    sync.Mutex
	sent  []Message
	errs  []error
	calls int
}

func (s *fakeSender) Send(_ context.Context, msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if call < len(s.errs) && s.errs[call] != nil {
		return "", s.errs[call]
	}
	s.sent = append(s.sent, msg)
	return uuid.NewString(), nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeResolver resolves every user to the same address.
type fakeResolver struct {
	email string
	err   error
}

func (r *fakeResolver) EmailFor(context.Context, uuid.UUID) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.email, nil
}
