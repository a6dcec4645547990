package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dharshni15/job/internal/domain"
)

var testStart = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

type processorHarness struct {
	repo   *fakeRepo
	sender *fakeSender
	proc   *Processor
	clock  time.Time
	mu     sync.Mutex
}

func newProcessorHarness(t *testing.T, sender *fakeSender) *processorHarness {
	t.Helper()

	repo := newFakeRepo()
	renderer, err := NewRenderer()
	require.NoError(t, err)

	proc, err := NewProcessor(DefaultProcessorConfig(), repo, renderer, sender, testLogger())
	require.NoError(t, err)

	h := &processorHarness{repo: repo, sender: sender, proc: proc, clock: testStart}
	proc.now = h.now
	return h
}

func (h *processorHarness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *processorHarness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

func (h *processorHarness) enqueue(t *testing.T, job *domain.DeliveryJob) *domain.DeliveryJob {
	t.Helper()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Recipient == uuid.Nil {
		job.Recipient = uuid.New()
	}
	if job.Category == "" {
		job.Category = domain.CategoryJobAlert
	}
	if job.Priority == "" {
		job.Priority = domain.PriorityMedium
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = h.now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = domain.MaxAttempts
	}
	if job.Template == "" {
		job.Template = "system"
	}
	if job.Payload == nil {
		payload := &Payload{
			Kind:    PayloadKindGeneric,
			Subject: "Test subject",
			Title:   "Test subject",
			Message: "Test message",
			To:      "user@example.com",
		}
		raw, err := payload.Encode()
		require.NoError(t, err)
		job.Payload = raw
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = h.now()
	}
	require.NoError(t, h.repo.CreateJob(context.Background(), job))
	return job
}

func TestProcessor_SendSuccess(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{})

	h.proc.Tick(context.Background())

	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.SentAt)
	assert.Empty(t, stored.FailureReason)
	assert.Equal(t, 1, sender.sentCount())
	assert.Equal(t, "user@example.com", sender.sent[0].To)
	assert.NotEmpty(t, sender.sent[0].Subject)
}

func TestProcessor_RetryThenSucceed(t *testing.T) {
	// Transport fails on attempts 1 and 2, succeeds on attempt 3.
	sendErr := errors.New("connection refused")
	sender := &fakeSender{errs: []error{sendErr, sendErr, nil}}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{})

	for attempt := 1; attempt <= 2; attempt++ {
		h.proc.Tick(context.Background())

		stored := h.repo.jobByID(job.ID)
		assert.Equal(t, domain.JobStatusPending, stored.Status, "attempt %d should reschedule", attempt)
		assert.Equal(t, attempt, stored.Attempts)
		assert.Equal(t, sendErr.Error(), stored.FailureReason)
		// Each retry is separated by at least the retry delay.
		assert.False(t, stored.ScheduledFor.Before(h.now().Add(5*time.Minute)))

		h.advance(5 * time.Minute)
	}

	h.proc.Tick(context.Background())

	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusSent, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	require.NotNil(t, stored.SentAt)
	assert.Empty(t, stored.FailureReason)
	assert.Equal(t, 3, sender.callCount())
}

func TestProcessor_RetryExhaustion(t *testing.T) {
	sendErr := errors.New("550 mailbox unavailable")
	sender := &fakeSender{errs: []error{sendErr, sendErr, sendErr, sendErr}}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{})

	for i := 0; i < 5; i++ {
		h.proc.Tick(context.Background())
		h.advance(5 * time.Minute)
	}

	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, stored.MaxAttempts, stored.Attempts)
	assert.Contains(t, stored.FailureReason, "max attempts exceeded")
	assert.Nil(t, stored.SentAt)
	// Exactly maxAttempts transport invocations, no more.
	assert.Equal(t, domain.MaxAttempts, sender.callCount())
}

func TestProcessor_QuietHoursDeferralIsFree(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{})

	profile := domain.DefaultPreferences(job.Recipient)
	profile.QuietHours = domain.QuietHours{
		Enabled:   true,
		StartTime: "10:00",
		EndTime:   "14:00",
		Timezone:  "UTC",
	}
	h.repo.setProfile(profile)

	h.proc.Tick(context.Background()) // clock is 12:00, inside the window

	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, 0, stored.Attempts, "quiet-hours deferral must not consume the retry budget")
	assert.Equal(t, time.Date(2026, 8, 27, 14, 0, 0, 0, time.UTC), stored.ScheduledFor)
	assert.Equal(t, 0, sender.callCount())

	// Once the window passes, the job sends normally.
	h.advance(2*time.Hour + time.Minute)
	h.proc.Tick(context.Background())

	stored = h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestProcessor_OptOutCancelsAtSendTime(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{})

	// Preferences changed after enqueue: category now opted out.
	profile := domain.DefaultPreferences(job.Recipient)
	profile.Email.Categories = map[domain.Category]bool{domain.CategoryJobAlert: false}
	h.repo.setProfile(profile)

	h.proc.Tick(context.Background())

	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusCancelled, stored.Status)
	assert.Equal(t, string(SkipCategoryOptOut), stored.FailureReason)
	assert.Equal(t, 0, sender.callCount())

	// Terminal: further ticks leave it alone.
	h.proc.Tick(context.Background())
	assert.Equal(t, domain.JobStatusCancelled, h.repo.jobByID(job.ID).Status)
}

func TestProcessor_RenderFallbackStillDelivers(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{Template: "no_such_template"})

	h.proc.Tick(context.Background())

	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusSent, stored.Status)
	require.Equal(t, 1, sender.sentCount())
	assert.NotEmpty(t, sender.sent[0].Subject)
	assert.NotEmpty(t, sender.sent[0].Text)
	assert.NotEmpty(t, sender.sent[0].HTML)
}

func TestProcessor_UndecodablePayloadFails(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{Payload: []byte(`{"kind": `)})

	h.proc.Tick(context.Background())

	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "invalid payload")
	assert.Equal(t, 0, sender.callCount())
}

func TestProcessor_ConcurrentTicksSendOnce(t *testing.T) {
	// Two processors share the repository and the transport: the
	// conditional claim must let exactly one of them send.
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{})

	renderer, err := NewRenderer()
	require.NoError(t, err)
	second, err := NewProcessor(DefaultProcessorConfig(), h.repo, renderer, sender, testLogger())
	require.NoError(t, err)
	second.now = h.now

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.proc.Tick(context.Background())
	}()
	go func() {
		defer wg.Done()
		second.Tick(context.Background())
	}()
	wg.Wait()

	assert.Equal(t, 1, sender.callCount(), "exactly one transport invocation")
	stored := h.repo.jobByID(job.ID)
	assert.Equal(t, domain.JobStatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestProcessor_BatchOrderAndLimit(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)

	low := h.enqueue(t, &domain.DeliveryJob{Priority: domain.PriorityLow, CreatedAt: testStart.Add(-3 * time.Hour)})
	oldHigh := h.enqueue(t, &domain.DeliveryJob{Priority: domain.PriorityHigh, CreatedAt: testStart.Add(-2 * time.Hour)})
	newHigh := h.enqueue(t, &domain.DeliveryJob{Priority: domain.PriorityHigh, CreatedAt: testStart.Add(-1 * time.Hour)})
	future := h.enqueue(t, &domain.DeliveryJob{ScheduledFor: testStart.Add(time.Hour)})

	jobs, err := h.repo.SelectDueJobs(context.Background(), h.now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, oldHigh.ID, jobs[0].ID, "older high-priority job wins the tie")
	assert.Equal(t, newHigh.ID, jobs[1].ID)
	assert.Equal(t, low.ID, jobs[2].ID)

	h.proc.Tick(context.Background())
	assert.Equal(t, 3, sender.sentCount())
	assert.Equal(t, domain.JobStatusPending, h.repo.jobByID(future.ID).Status, "future job untouched")
}

func TestProcessor_RecoverStale(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)

	staleAt := testStart.Add(-time.Hour)
	stale := h.enqueue(t, &domain.DeliveryJob{Status: domain.JobStatusProcessing, Attempts: 1, LastAttemptAt: &staleAt})
	freshAt := testStart.Add(-time.Minute)
	fresh := h.enqueue(t, &domain.DeliveryJob{Status: domain.JobStatusProcessing, Attempts: 1, LastAttemptAt: &freshAt})

	h.proc.RecoverStale(context.Background())

	assert.Equal(t, domain.JobStatusPending, h.repo.jobByID(stale.ID).Status)
	assert.Equal(t, domain.JobStatusProcessing, h.repo.jobByID(fresh.ID).Status)
}

func TestProcessor_RetentionSweep(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)

	old := h.enqueue(t, &domain.DeliveryJob{Status: domain.JobStatusSent, CreatedAt: testStart.Add(-8 * 24 * time.Hour)})
	recent := h.enqueue(t, &domain.DeliveryJob{Status: domain.JobStatusFailed, Attempts: 3, CreatedAt: testStart.Add(-time.Hour)})
	pending := h.enqueue(t, &domain.DeliveryJob{CreatedAt: testStart.Add(-30 * 24 * time.Hour)})

	h.proc.RetentionSweep(context.Background())

	assert.Nil(t, h.repo.jobByID(old.ID), "terminal job past retention is removed")
	assert.NotNil(t, h.repo.jobByID(recent.ID), "terminal job inside retention is kept")
	assert.NotNil(t, h.repo.jobByID(pending.ID), "non-terminal jobs are never swept")
}

func TestProcessor_OperatorRetryAndCancel(t *testing.T) {
	sender := &fakeSender{}
	h := newProcessorHarness(t, sender)

	failed := h.enqueue(t, &domain.DeliveryJob{Status: domain.JobStatusFailed, Attempts: 3, FailureReason: "max attempts exceeded"})
	sent := h.enqueue(t, &domain.DeliveryJob{Status: domain.JobStatusSent})
	pending := h.enqueue(t, &domain.DeliveryJob{})

	require.NoError(t, h.proc.Retry(context.Background(), failed.ID))
	stored := h.repo.jobByID(failed.ID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	assert.Empty(t, stored.FailureReason)

	assert.ErrorIs(t, h.proc.Retry(context.Background(), sent.ID), ErrNotRetryable)

	require.NoError(t, h.proc.Cancel(context.Background(), pending.ID))
	assert.Equal(t, domain.JobStatusCancelled, h.repo.jobByID(pending.ID).Status)

	assert.ErrorIs(t, h.proc.Cancel(context.Background(), sent.ID), ErrJobTerminal)
}

func TestProcessor_AttemptsNeverExceedBudget(t *testing.T) {
	sendErr := errors.New("timeout")
	sender := &fakeSender{errs: []error{sendErr, sendErr, sendErr, sendErr, sendErr}}
	h := newProcessorHarness(t, sender)
	job := h.enqueue(t, &domain.DeliveryJob{})

	for i := 0; i < 10; i++ {
		h.proc.Tick(context.Background())
		h.advance(5 * time.Minute)

		for _, stored := range h.repo.allJobs() {
			assert.LessOrEqual(t, stored.Attempts, stored.MaxAttempts)
		}
	}

	assert.Equal(t, domain.JobStatusFailed, h.repo.jobByID(job.ID).Status)
}

func TestNewProcessor_RequiresSender(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	_, err = NewProcessor(DefaultProcessorConfig(), newFakeRepo(), renderer, nil, testLogger())
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestRetryPolicies(t *testing.T) {
	t.Run("fixed delay ignores attempt", func(t *testing.T) {
		policy := FixedDelay(5 * time.Minute)
		assert.Equal(t, 5*time.Minute, policy.NextDelay(1))
		assert.Equal(t, 5*time.Minute, policy.NextDelay(3))
	})

	t.Run("exponential backoff doubles and caps", func(t *testing.T) {
		policy := ExponentialBackoff{Initial: time.Minute, Max: 10 * time.Minute, Multiplier: 2}
		assert.Equal(t, time.Minute, policy.NextDelay(1))
		assert.Equal(t, 2*time.Minute, policy.NextDelay(2))
		assert.Equal(t, 4*time.Minute, policy.NextDelay(3))
		assert.Equal(t, 10*time.Minute, policy.NextDelay(10))
	})

	t.Run("policy is swappable without changing job semantics", func(t *testing.T) {
		sendErr := errors.New("temporary failure")
		sender := &fakeSender{errs: []error{sendErr}}
		h := newProcessorHarness(t, sender)
		h.proc.SetRetryPolicy(ExponentialBackoff{Initial: time.Minute, Max: time.Hour, Multiplier: 2})
		job := h.enqueue(t, &domain.DeliveryJob{})

		h.proc.Tick(context.Background())

		stored := h.repo.jobByID(job.ID)
		assert.Equal(t, domain.JobStatusPending, stored.Status)
		assert.Equal(t, 1, stored.Attempts)
		assert.Equal(t, h.now().Add(time.Minute), stored.ScheduledFor)
	})
}
