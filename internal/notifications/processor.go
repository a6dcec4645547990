package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Dharshni15/job/internal/domain"
)

// RetryPolicy decides how long to wait before the next attempt. The
// default is a fixed delay; an exponential policy can be substituted
// without changing job semantics.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedDelay retries after a constant interval.
type FixedDelay time.Duration

// NextDelay returns the fixed interval regardless of attempt number.
func (d FixedDelay) NextDelay(int) time.Duration { return time.Duration(d) }

// ExponentialBackoff doubles the delay per attempt up to a cap.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NextDelay returns the backoff for the given attempt (1-based).
func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		delay *= b.Multiplier
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// ProcessorConfig contains queue processor configuration.
type ProcessorConfig struct {
	BatchSize      int
	SendTimeout    time.Duration
	RetryDelay     time.Duration
	StaleThreshold time.Duration
	RetentionAge   time.Duration
}

// DefaultProcessorConfig returns the standard processing policy.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:      10,
		SendTimeout:    30 * time.Second,
		RetryDelay:     5 * time.Minute,
		StaleThreshold: 10 * time.Minute,
		RetentionAge:   7 * 24 * time.Hour,
	}
}

// Processor drains the delivery queue: it claims due jobs, re-checks
// eligibility, renders, invokes the outbound transport, and drives the
// job state machine. All status transitions go through conditional
// updates, so a processor racing another instance loses cleanly.
type Processor struct {
	config   ProcessorConfig
	repo     Repository
	renderer *Renderer
	sender   Sender
	retry    RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a queue processor. Sender must be non-nil: a
// missing transport is a configuration error surfaced at startup, not
// per job.
func NewProcessor(cfg ProcessorConfig, repo Repository, renderer *Renderer, sender Sender, logger *slog.Logger) (*Processor, error) {
	if sender == nil {
		return nil, ErrNoTransport
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.StaleThreshold == 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.RetentionAge == 0 {
		cfg.RetentionAge = 7 * 24 * time.Hour
	}

	return &Processor{
		config:   cfg,
		repo:     repo,
		renderer: renderer,
		sender:   sender,
		retry:    FixedDelay(cfg.RetryDelay),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetRetryPolicy overrides the default fixed-delay policy.
func (p *Processor) SetRetryPolicy(policy RetryPolicy) {
	p.retry = policy
}

// Tick runs one processing pass: select due jobs in priority-then-age
// order and process each. Single-flight across ticks is enforced by
// the scheduler's lease, not here.
func (p *Processor) Tick(ctx context.Context) {
	now := p.now()

	jobs, err := p.repo.SelectDueJobs(ctx, now, p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to select due jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	p.logger.Debug("processing delivery batch", "count", len(jobs))

	for _, job := range jobs {
		p.processJob(ctx, job)
	}
}

func (p *Processor) processJob(ctx context.Context, job *domain.DeliveryJob) {
	now := p.now()

	// Claim first: pending → processing with attempts incremented,
	// persisted before any send. A claim that fails means another
	// processor got here first.
	if err := p.repo.ClaimJob(ctx, job.ID, now); err != nil {
		if errors.Is(err, ErrJobNotClaimable) {
			recordJobProcessed(job.Category, outcomeLostRace)
			return
		}
		p.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
		return
	}
	job.Attempts++

	// Re-check eligibility at send time: preferences may have changed
	// since the job was enqueued.
	profile, err := p.repo.GetPreferences(ctx, job.Recipient)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			p.logger.Error("failed to load preferences", "job_id", job.ID, "error", err)
			// Leave the job in processing; the stale-recovery sweep
			// will return it to pending.
			return
		}
		profile = domain.DefaultPreferences(job.Recipient)
	}

	decision := ShouldDeliver(domain.ChannelEmail, job.Category, profile, now)
	if !decision.Deliver {
		p.handleSkip(ctx, job, profile, decision)
		return
	}

	p.deliver(ctx, job)
}

func (p *Processor) handleSkip(ctx context.Context, job *domain.DeliveryJob, profile *domain.PreferenceProfile, decision Decision) {
	switch decision.Reason {
	case SkipQuietHours:
		// Deferral, not failure: push scheduled_for to the window end
		// and give the attempt back.
		resumeAt := QuietHoursEnd(profile.QuietHours, p.now())
		if err := p.repo.DeferQuietHours(ctx, job.ID, resumeAt); err != nil {
			p.logger.Error("failed to defer job", "job_id", job.ID, "error", err)
			return
		}
		recordJobProcessed(job.Category, outcomeDeferred)
		p.logger.Info("delivery deferred for quiet hours",
			"job_id", job.ID,
			"resume_at", resumeAt,
		)

	default:
		// Opt-outs are terminal: the user said no.
		if err := p.repo.CancelJob(ctx, job.ID, string(decision.Reason)); err != nil {
			p.logger.Error("failed to cancel job", "job_id", job.ID, "error", err)
			return
		}
		recordJobProcessed(job.Category, outcomeCancelled)
		p.logger.Info("delivery cancelled by preferences",
			"job_id", job.ID,
			"reason", decision.Reason,
		)
	}
}

func (p *Processor) deliver(ctx context.Context, job *domain.DeliveryJob) {
	payload, err := DecodePayload(job.Payload)
	if err != nil {
		// An undecodable payload will never succeed; fail it outright.
		p.logger.Error("undecodable job payload", "job_id", job.ID, "error", err)
		if markErr := p.repo.MarkFailed(ctx, job.ID, fmt.Sprintf("invalid payload: %v", err)); markErr != nil {
			p.logger.Error("failed to mark job failed", "job_id", job.ID, "error", markErr)
		}
		recordJobProcessed(job.Category, outcomeFailed)
		return
	}

	rendered, usedFallback := p.renderer.RenderOrFallback(job.Template, payload)
	if usedFallback {
		renderFallbacks.Inc()
		p.logger.Warn("template render failed, using fallback body",
			"job_id", job.ID,
			"template", job.Template,
		)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.config.SendTimeout)
	defer cancel()

	start := p.now()
	messageID, err := p.sender.Send(sendCtx, Message{
		To:      payload.To,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	recordSendDuration(job.Category, time.Since(start))

	if err != nil {
		p.handleSendError(ctx, job, err)
		return
	}

	if err := p.repo.MarkSent(ctx, job.ID, p.now()); err != nil {
		p.logger.Error("failed to mark job sent", "job_id", job.ID, "error", err)
		return
	}

	recordJobProcessed(job.Category, outcomeSent)
	p.logger.Info("delivery sent",
		"job_id", job.ID,
		"category", job.Category,
		"attempt", job.Attempts,
		"message_id", messageID,
	)
}

func (p *Processor) handleSendError(ctx context.Context, job *domain.DeliveryJob, sendErr error) {
	p.logger.Warn("send failed",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"error", sendErr,
	)

	// Transport errors and timeouts are treated uniformly: a job only
	// fails once its retry budget is exhausted.
	if job.Attempts >= job.MaxAttempts {
		reason := fmt.Sprintf("max attempts exceeded: %v", sendErr)
		if err := p.repo.MarkFailed(ctx, job.ID, reason); err != nil {
			p.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
			return
		}
		recordJobProcessed(job.Category, outcomeFailed)
		return
	}

	nextAt := p.now().Add(p.retry.NextDelay(job.Attempts))
	if err := p.repo.RescheduleRetry(ctx, job.ID, nextAt, sendErr.Error()); err != nil {
		p.logger.Error("failed to schedule retry", "job_id", job.ID, "error", err)
		return
	}
	recordJobProcessed(job.Category, outcomeRetry)
	p.logger.Info("delivery scheduled for retry",
		"job_id", job.ID,
		"next_attempt_at", nextAt,
	)
}

// RecoverStale resets jobs stuck in processing past the stale
// threshold back to pending. Run once at processor start, before the
// first tick, so jobs orphaned by a crash are retried.
func (p *Processor) RecoverStale(ctx context.Context) {
	cutoff := p.now().Add(-p.config.StaleThreshold)
	n, err := p.repo.RecoverStaleJobs(ctx, cutoff)
	if err != nil {
		p.logger.Error("stale job recovery failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Warn("recovered stale processing jobs", "count", n)
	}
}

// RetentionSweep deletes terminal jobs older than the retention window
// and prunes expired notifications. Scheduled daily.
func (p *Processor) RetentionSweep(ctx context.Context) {
	cutoff := p.now().Add(-p.config.RetentionAge)

	jobs, err := p.repo.DeleteTerminalJobs(ctx, cutoff)
	if err != nil {
		p.logger.Error("retention sweep failed", "error", err)
	} else if jobs > 0 {
		p.logger.Info("retention sweep removed terminal jobs", "count", jobs)
	}

	expired, err := p.repo.DeleteExpiredNotifications(ctx, p.now())
	if err != nil {
		p.logger.Error("expired notification sweep failed", "error", err)
	} else if expired > 0 {
		p.logger.Info("removed expired notifications", "count", expired)
	}
}

// Retry resets a failed job to pending with a zeroed attempt budget.
// Operator action; only failed jobs qualify.
func (p *Processor) Retry(ctx context.Context, id uuid.UUID) error {
	return p.repo.ResetJobForRetry(ctx, id, p.now())
}

// Cancel transitions a pending or processing job to cancelled.
// Already-sent or failed jobs are immutable.
func (p *Processor) Cancel(ctx context.Context, id uuid.UUID) error {
	return p.repo.CancelJob(ctx, id, "cancelled by operator")
}

// Stats returns per-status job counts.
func (p *Processor) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return p.repo.GetQueueStats(ctx)
}

// Job returns a single job for operator inspection.
func (p *Processor) Job(ctx context.Context, id uuid.UUID) (*domain.DeliveryJob, error) {
	return p.repo.GetJob(ctx, id)
}
