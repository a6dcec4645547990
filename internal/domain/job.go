package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the delivery job state machine:
//
//	pending → processing → {sent | pending (retry) | failed | cancelled}
//
// All transitions are performed with conditional updates so that two
// overlapping processors cannot both move the same job.
type JobStatus string

// Job statuses.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSent || s == JobStatusFailed || s == JobStatusCancelled
}

// MaxAttempts is the fixed retry budget for a delivery job.
const MaxAttempts = 3

// DeliveryJob is a queued unit of outbound notification work. Jobs are
// created by the notification service or the digest generator and
// mutated only by the queue processor; a retention sweep removes
// terminal jobs after their retention window.
type DeliveryJob struct {
	ID            uuid.UUID       `json:"id"`
	Recipient     uuid.UUID       `json:"recipient"`
	Category      Category        `json:"category"`
	Priority      Priority        `json:"priority"`
	Status        JobStatus       `json:"status"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Template      string          `json:"template"`
	Payload       json.RawMessage `json:"payload"`
	DedupKey      *string         `json:"dedup_key,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Due reports whether the job is eligible for selection at the given time.
func (j *DeliveryJob) Due(now time.Time) bool {
	return j.Status == JobStatusPending &&
		!j.ScheduledFor.After(now) &&
		j.Attempts < j.MaxAttempts
}

// QueueStats holds per-status job counts for the operational surface.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}
