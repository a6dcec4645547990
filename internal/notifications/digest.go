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

// DigestConfig contains digest generator configuration. Fire times are
// local clock values in Timezone.
type DigestConfig struct {
	DailyAt   string // "HH:MM"
	WeeklyDay time.Weekday
	WeeklyAt  string // "HH:MM"
	Timezone  string
	MaxItems  int
}

// DefaultDigestConfig returns the standard digest schedule.
func DefaultDigestConfig() DigestConfig {
	return DigestConfig{
		DailyAt:   "08:00",
		WeeklyDay: time.Monday,
		WeeklyAt:  "08:00",
		Timezone:  "UTC",
		MaxItems:  10,
	}
}

// DigestGenerator materializes periodic digest jobs. Each run folds a
// user's recent activity into exactly one low-priority delivery job;
// a period-keyed uniqueness guard makes repeated runs for the same
// period no-ops.
type DigestGenerator struct {
	config   DigestConfig
	repo     Repository
	resolver RecipientResolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewDigestGenerator creates a digest generator.
func NewDigestGenerator(cfg DigestConfig, repo Repository, resolver RecipientResolver, logger *slog.Logger) *DigestGenerator {
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 10
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return &DigestGenerator{
		config:   cfg,
		repo:     repo,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// TickDaily is invoked every scheduler tick; it runs the daily digest
// only when the local calendar moment matches the configured fire time.
func (g *DigestGenerator) TickDaily(ctx context.Context) {
	now := g.now()
	if !g.atLocalTime(now, g.config.DailyAt, nil) {
		return
	}
	g.RunDaily(ctx, now)
}

// TickWeekly is the weekly counterpart of TickDaily.
func (g *DigestGenerator) TickWeekly(ctx context.Context) {
	now := g.now()
	day := g.config.WeeklyDay
	if !g.atLocalTime(now, g.config.WeeklyAt, &day) {
		return
	}
	g.RunWeekly(ctx, now)
}

// RunDaily creates daily digest jobs for every user on daily frequency.
// Safe to call more than once per period.
func (g *DigestGenerator) RunDaily(ctx context.Context, now time.Time) {
	g.run(ctx, now, domain.FrequencyDaily, domain.CategoryDigestDaily, 24*time.Hour)
}

// RunWeekly creates weekly digest jobs for every user on weekly frequency.
func (g *DigestGenerator) RunWeekly(ctx context.Context, now time.Time) {
	g.run(ctx, now, domain.FrequencyWeekly, domain.CategoryDigestWeekly, 7*24*time.Hour)
}

func (g *DigestGenerator) run(ctx context.Context, now time.Time, freq domain.Frequency, cat domain.Category, window time.Duration) {
	users, err := g.repo.ListUserIDsByFrequency(ctx, freq)
	if err != nil {
		g.logger.Error("failed to list digest users", "frequency", freq, "error", err)
		return
	}

	var created int
	for _, userID := range users {
		ok, err := g.generateFor(ctx, userID, now, cat, window)
		if err != nil {
			g.logger.Error("digest generation failed",
				"user_id", userID,
				"category", cat,
				"error", err,
			)
			continue
		}
		if ok {
			created++
			recordDigestJobCreated(string(freq))
		}
	}

	if created > 0 {
		g.logger.Info("digest run complete",
			"frequency", freq,
			"users", len(users),
			"jobs_created", created,
		)
	}
}

// generateFor builds and enqueues one digest job. Returns false when
// the period already has a job or there is no activity to report.
func (g *DigestGenerator) generateFor(ctx context.Context, userID uuid.UUID, now time.Time, cat domain.Category, window time.Duration) (bool, error) {
	key := g.periodKey(userID, now, cat)

	// Cheap pre-check; the unique index on dedup_key is the real guard.
	if _, err := g.repo.FindJobByDedupKey(ctx, key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrJobNotFound) {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}

	profile, err := g.repo.GetPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			return false, fmt.Errorf("load preferences: %w", err)
		}
		profile = domain.DefaultPreferences(userID)
	}

	// Users who disabled email or opted out of digests get nothing;
	// quiet hours are handled at processing time, not here.
	decision := ShouldDeliver(domain.ChannelEmail, cat, profile, now)
	if !decision.Deliver && decision.Reason != SkipQuietHours {
		return false, nil
	}

	since := now.Add(-window)
	summary, err := g.summarize(ctx, userID, since, now)
	if err != nil {
		return false, err
	}
	if summary == nil {
		return false, nil
	}

	to, err := g.resolver.EmailFor(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("resolve recipient: %w", err)
	}

	payload := &Payload{
		Kind:    PayloadKindDigest,
		Digest:  summary,
		Subject: digestSubject(cat, now),
		To:      to,
	}
	raw, err := payload.Encode()
	if err != nil {
		return false, err
	}

	job := &domain.DeliveryJob{
		ID:           uuid.New(),
		Recipient:    userID,
		Category:     cat,
		Priority:     domain.PriorityLow,
		Status:       domain.JobStatusPending,
		ScheduledFor: now,
		MaxAttempts:  domain.MaxAttempts,
		Template:     string(cat),
		Payload:      raw,
		DedupKey:     &key,
	}

	if err := g.repo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateDigest) {
			return false, nil
		}
		return false, fmt.Errorf("create digest job: %w", err)
	}
	return true, nil
}

// summarize aggregates a bounded view of the user's recent activity.
// Returns nil when there is nothing to report.
func (g *DigestGenerator) summarize(ctx context.Context, userID uuid.UUID, since, until time.Time) (*DigestPayload, error) {
	recent, err := g.repo.ListRecentNotifications(ctx, userID, since, until, g.config.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("list recent notifications: %w", err)
	}

	summary := &DigestPayload{PeriodStart: since, PeriodEnd: until}
	for _, n := range recent {
		if n.Category.IsDigest() {
			continue
		}
		switch n.Category {
		case domain.CategoryJobAlert:
			summary.JobMatches++
		case domain.CategoryConnectionRequest, domain.CategoryEndorsement:
			summary.Connections++
		case domain.CategoryMessage:
			summary.Messages++
		}
		if len(summary.Items) < g.config.MaxItems {
			summary.Items = append(summary.Items, DigestItem{
				Category: n.Category,
				Title:    n.Title,
				Message:  n.Message,
				When:     n.CreatedAt,
			})
		}
	}

	if len(summary.Items) == 0 {
		return nil, nil
	}
	return summary, nil
}

// periodKey builds the uniqueness key for one user and period, e.g.
// "digest_daily:<uuid>:2026-08-27" or "digest_weekly:<uuid>:2026-W35".
func (g *DigestGenerator) periodKey(userID uuid.UUID, now time.Time, cat domain.Category) string {
	loc := g.location()
	local := now.In(loc)

	if cat == domain.CategoryDigestWeekly {
		year, week := local.ISOWeek()
		return fmt.Sprintf("%s:%s:%d-W%02d", cat, userID, year, week)
	}
	return fmt.Sprintf("%s:%s:%s", cat, userID, local.Format("2006-01-02"))
}

// atLocalTime reports whether now matches the "HH:MM" fire time (and
// weekday, when given) in the configured timezone. Tick resolution is
// one minute; the dedup key absorbs any double fire.
func (g *DigestGenerator) atLocalTime(now time.Time, clock string, day *time.Weekday) bool {
	local := now.In(g.location())
	if day != nil && local.Weekday() != *day {
		return false
	}
	return local.Format("15:04") == clock
}

func (g *DigestGenerator) location() *time.Location {
	loc, err := time.LoadLocation(g.config.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func digestSubject(cat domain.Category, now time.Time) string {
	if cat == domain.CategoryDigestWeekly {
		return "Your weekly activity digest"
	}
	return fmt.Sprintf("Your daily digest for %s", now.UTC().Format("Jan 2"))
}
