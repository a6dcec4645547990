package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dharshni15/job/internal/domain"
)

// RecipientResolver resolves a user id to a deliverable email address.
// User records live outside this core; this is the only thing it needs
// to know about them.
type RecipientResolver interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
}

// Hook is a fire-and-forget callback invoked after a notification is
// created. The surrounding system uses it for best-effort live push to
// connected sessions; failures are swallowed.
type Hook func(n *domain.Notification)

// messageTemplate defines the user-facing text for one notification
// type. Title and message accept {{placeholder}} substitution from the
// event data.
type messageTemplate struct {
	category domain.Category
	priority domain.Priority
	title    string
	message  string
	body     string        // renderer template name
	ttl      time.Duration // 0 = never expires
}

var messageTemplates = map[string]messageTemplate{
	"job_match": {
		category: domain.CategoryJobAlert,
		priority: domain.PriorityHigh,
		title:    "New job match: {{job_title}}",
		message:  "{{company_name}} is hiring a {{job_title}}. This role matches your profile.",
		body:     "job_alert",
		ttl:      30 * 24 * time.Hour,
	},
	"connection_request": {
		category: domain.CategoryConnectionRequest,
		priority: domain.PriorityMedium,
		title:    "{{sender_name}} wants to connect",
		message:  "{{sender_name}} sent you a connection request.",
		body:     "connection_request",
	},
	"connection_accepted": {
		category: domain.CategoryConnectionRequest,
		priority: domain.PriorityMedium,
		title:    "{{sender_name}} accepted your request",
		message:  "You are now connected with {{sender_name}}.",
		body:     "connection_request",
	},
	"endorsement_received": {
		category: domain.CategoryEndorsement,
		priority: domain.PriorityLow,
		title:    "{{sender_name}} endorsed you",
		message:  "{{sender_name}} endorsed you for {{skill_name}}.",
		body:     "endorsement",
	},
	"message_received": {
		category: domain.CategoryMessage,
		priority: domain.PriorityHigh,
		title:    "New message from {{sender_name}}",
		message:  "{{preview}}",
		body:     "message",
		ttl:      90 * 24 * time.Hour,
	},
	"profile_viewed": {
		category: domain.CategorySystem,
		priority: domain.PriorityLow,
		title:    "Someone viewed your profile",
		message:  "{{viewer_summary}}",
		body:     "system",
		ttl:      7 * 24 * time.Hour,
	},
	"certificate_expiring": {
		category: domain.CategorySystem,
		priority: domain.PriorityMedium,
		title:    "Certificate expiring soon: {{certificate_name}}",
		message:  "Your certificate {{certificate_name}} expires on {{expires_on}}.",
		body:     "system",
	},
	"system": {
		category: domain.CategorySystem,
		priority: domain.PriorityMedium,
		title:    "{{title}}",
		message:  "{{message}}",
		body:     "system",
	},
}

// Service is the producer-facing API: it turns domain events into
// notification records and, when the recipient's preferences allow,
// enqueues a delivery job. The notification record is the durable
// source of truth; job creation is best effort and never fails the
// Notify call.
type Service struct {
	repo     Repository
	resolver RecipientResolver
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	hooks []Hook
}

// NewService creates the notification service.
func NewService(repo Repository, resolver RecipientResolver, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// OnNotificationCreated registers a live-push hook.
func (s *Service) OnNotificationCreated(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// NotifyInput describes one domain event to notify a user about.
type NotifyInput struct {
	Type      string
	Recipient uuid.UUID
	Sender    *uuid.UUID
	Data      map[string]string
}

// Notify creates a notification for the event and, subject to the
// recipient's preferences, a corresponding delivery job.
func (s *Service) Notify(ctx context.Context, input NotifyInput) (*domain.Notification, error) {
	tmpl, ok := messageTemplates[input.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, input.Type)
	}

	now := s.now()
	n := &domain.Notification{
		ID:        uuid.New(),
		Recipient: input.Recipient,
		Sender:    input.Sender,
		Type:      input.Type,
		Title:     substitute(tmpl.title, input.Data),
		Message:   substitute(tmpl.message, input.Data),
		Category:  tmpl.category,
		Priority:  tmpl.priority,
		CreatedAt: now,
	}
	if tmpl.ttl > 0 {
		expires := now.Add(tmpl.ttl)
		n.ExpiresAt = &expires
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	recordNotificationCreated(n.Category)

	s.fireHooks(n)

	// Delivery is best effort from the producer's point of view: the
	// notification above is already durable.
	if err := s.maybeEnqueue(ctx, n, tmpl, input.Data, now); err != nil {
		s.logger.Error("failed to enqueue delivery job",
			"notification_id", n.ID,
			"error", err,
		)
	}

	return n, nil
}

// maybeEnqueue applies enqueue-time eligibility and creates the
// delivery job when the recipient should get an immediate email.
func (s *Service) maybeEnqueue(ctx context.Context, n *domain.Notification, tmpl messageTemplate, data map[string]string, now time.Time) error {
	profile, err := s.repo.GetPreferences(ctx, n.Recipient)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			return fmt.Errorf("load preferences: %w", err)
		}
		profile = domain.DefaultPreferences(n.Recipient)
	}

	// Non-immediate users get the event folded into their next digest
	// instead of an individual email.
	if profile.Frequency != domain.FrequencyImmediate {
		return nil
	}

	decision := ShouldDeliver(domain.ChannelEmail, n.Category, profile, now)
	scheduledFor := now
	switch {
	case decision.Deliver:
	case decision.Reason == SkipQuietHours:
		// Deferred, not dropped: schedule at the window's end.
		scheduledFor = QuietHoursEnd(profile.QuietHours, now)
	default:
		s.logger.Debug("delivery skipped at enqueue",
			"notification_id", n.ID,
			"reason", decision.Reason,
		)
		return nil
	}

	to, err := s.resolver.EmailFor(ctx, n.Recipient)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	payload := &Payload{
		Kind:    payloadKindFor(n.Category),
		Subject: n.Title,
		Title:   n.Title,
		Message: n.Message,
		To:      to,
	}
	fillTypedPayload(payload, n.Category, data)

	raw, err := payload.Encode()
	if err != nil {
		return err
	}

	job := &domain.DeliveryJob{
		ID:           uuid.New(),
		Recipient:    n.Recipient,
		Category:     n.Category,
		Priority:     n.Priority,
		Status:       domain.JobStatusPending,
		ScheduledFor: scheduledFor,
		MaxAttempts:  domain.MaxAttempts,
		Template:     tmpl.body,
		Payload:      raw,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *Service) fireHooks(n *domain.Notification) {
	s.mu.RLock()
	hooks := make([]Hook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.RUnlock()

	for _, h := range hooks {
		go func(h Hook) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("notification hook panicked", "panic", r)
				}
			}()
			h(n)
		}(h)
	}
}

// List returns a recipient's notifications plus their unread count.
func (s *Service) List(ctx context.Context, recipient uuid.UUID, opts ListOptions) ([]*domain.Notification, int64, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	items, err := s.repo.ListNotifications(ctx, recipient, opts)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.repo.CountUnread(ctx, recipient)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

// MarkRead marks a notification as read, stamping read_at.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, id, s.now())
}

// Archive archives a notification.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	return s.repo.ArchiveNotification(ctx, id)
}

// GetPreferences returns the user's profile, or permissive defaults if
// none is stored.
func (s *Service) GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.PreferenceProfile, error) {
	profile, err := s.repo.GetPreferences(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return domain.DefaultPreferences(userID), nil
	}
	return profile, err
}

// UpdatePreferences validates and upserts the user's profile.
func (s *Service) UpdatePreferences(ctx context.Context, p *domain.PreferenceProfile) error {
	if !p.Frequency.Valid() {
		return fmt.Errorf("invalid frequency %q", p.Frequency)
	}
	if p.QuietHours.Enabled {
		if _, err := domain.ParseClock(p.QuietHours.StartTime); err != nil {
			return fmt.Errorf("quiet hours start: %w", err)
		}
		if _, err := domain.ParseClock(p.QuietHours.EndTime); err != nil {
			return fmt.Errorf("quiet hours end: %w", err)
		}
		if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
			return fmt.Errorf("quiet hours timezone: %w", err)
		}
	}
	p.UpdatedAt = s.now()
	return s.repo.UpsertPreferences(ctx, p)
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// substitute replaces {{placeholder}} tokens with values from data.
// Unknown placeholders are removed rather than left as braces.
func substitute(text string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return data[key]
	})
}

func payloadKindFor(cat domain.Category) string {
	switch cat {
	case domain.CategoryJobAlert:
		return PayloadKindJobAlert
	case domain.CategoryConnectionRequest, domain.CategoryEndorsement:
		return PayloadKindConnection
	case domain.CategoryDigestDaily, domain.CategoryDigestWeekly:
		return PayloadKindDigest
	}
	return PayloadKindGeneric
}

// fillTypedPayload lifts known event data fields into the typed
// payload shapes, leaving anything unmodeled in the generic map.
func fillTypedPayload(p *Payload, cat domain.Category, data map[string]string) {
	switch cat {
	case domain.CategoryJobAlert:
		p.JobAlert = &JobAlertPayload{
			JobTitle:    data["job_title"],
			CompanyName: data["company_name"],
			Location:    data["location"],
			JobURL:      data["job_url"],
		}
	case domain.CategoryConnectionRequest, domain.CategoryEndorsement:
		p.Connection = &ConnectionPayload{
			SenderName:     data["sender_name"],
			SenderHeadline: data["sender_headline"],
			ProfileURL:     data["profile_url"],
			SkillName:      data["skill_name"],
		}
	default:
		if len(data) > 0 {
			p.Generic = data
		}
	}
}
