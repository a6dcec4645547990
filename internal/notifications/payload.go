package notifications

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dharshni15/job/internal/domain"
)

// Payload kinds. Each delivery job carries exactly one payload shape,
// tagged by kind; Generic is the escape hatch for fields the known
// shapes don't model.
const (
	PayloadKindJobAlert   = "job_alert"
	PayloadKindConnection = "connection"
	PayloadKindDigest     = "digest"
	PayloadKindGeneric    = "generic"
)

// Payload is the rendering context stored on a delivery job. Exactly
// one of the typed fields is set, matching Kind.
type Payload struct {
	Kind       string             `json:"kind"`
	JobAlert   *JobAlertPayload   `json:"job_alert,omitempty"`
	Connection *ConnectionPayload `json:"connection,omitempty"`
	Digest     *DigestPayload     `json:"digest,omitempty"`
	Generic    map[string]string  `json:"generic,omitempty"`

	// Subject/Title/Message are filled by the notification service so
	// the renderer has text even when a template is missing.
	Subject string `json:"subject,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
	To      string `json:"to"`
}

// JobAlertPayload carries context for job-match alerts.
type JobAlertPayload struct {
	JobTitle    string `json:"job_title"`
	CompanyName string `json:"company_name"`
	Location    string `json:"location,omitempty"`
	JobURL      string `json:"job_url,omitempty"`
	MatchScore  int    `json:"match_score,omitempty"`
}

// ConnectionPayload carries context for connection and endorsement events.
type ConnectionPayload struct {
	SenderName     string `json:"sender_name"`
	SenderHeadline string `json:"sender_headline,omitempty"`
	ProfileURL     string `json:"profile_url,omitempty"`
	SkillName      string `json:"skill_name,omitempty"`
}

// DigestPayload is the aggregated summary rendered into a periodic digest.
type DigestPayload struct {
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`
	JobMatches  int          `json:"job_matches"`
	Connections int          `json:"connections"`
	Messages    int          `json:"messages"`
	Items       []DigestItem `json:"items"`
}

// DigestItem is one line in a digest summary.
type DigestItem struct {
	Category domain.Category `json:"category"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	When     time.Time       `json:"when"`
}

// Encode marshals the payload for storage on a job row.
func (p *Payload) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a stored job payload.
func DecodePayload(raw json.RawMessage) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}
