// Package domain contains the core entities of the notification pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies what kind of event a notification or delivery
// job originates from. Categories map one-to-one onto the per-category
// opt-in flags in a user's preference profile.
type Category string

// Notification categories.
const (
	CategoryJobAlert          Category = "job_alert"
	CategoryConnectionRequest Category = "connection_request"
	CategoryEndorsement       Category = "endorsement"
	CategoryMessage           Category = "message"
	CategorySystem            Category = "system"
	CategoryDigestDaily       Category = "digest_daily"
	CategoryDigestWeekly      Category = "digest_weekly"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryJobAlert, CategoryConnectionRequest, CategoryEndorsement,
		CategoryMessage, CategorySystem, CategoryDigestDaily, CategoryDigestWeekly:
		return true
	}
	return false
}

// IsDigest reports whether c is one of the digest categories.
func (c Category) IsDigest() bool {
	return c == CategoryDigestDaily || c == CategoryDigestWeekly
}

// Priority determines processing order within a batch.
type Priority string

// Priorities, ordered low to high.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns a numeric weight for ordering (higher processes first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Notification is a user-visible record, created whether or not an
// outbound delivery ever happens. It is the durable source of truth
// for the producer-facing API.
type Notification struct {
	ID         uuid.UUID  `json:"id"`
	Recipient  uuid.UUID  `json:"recipient"`
	Sender     *uuid.UUID `json:"sender,omitempty"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Category   Category   `json:"category"`
	Priority   Priority   `json:"priority"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	IsArchived bool       `json:"is_archived"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the notification's TTL has elapsed.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}
