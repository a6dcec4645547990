package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel is an outbound delivery channel.
type Channel string

// Delivery channels.
const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Frequency governs whether individual events queue an immediate
// delivery or are folded into the next digest.
type Frequency string

// Delivery frequencies.
const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	return f == FrequencyImmediate || f == FrequencyDaily || f == FrequencyWeekly
}

// ChannelPreference holds enablement for one channel plus per-category
// opt-in flags. A category absent from the map is treated as opted in;
// defaults are permissive.
type ChannelPreference struct {
	Enabled    bool              `json:"enabled"`
	Categories map[Category]bool `json:"categories"`
}

// CategoryEnabled reports whether the given category is opted in on
// this channel.
func (c ChannelPreference) CategoryEnabled(cat Category) bool {
	if c.Categories == nil {
		return true
	}
	enabled, ok := c.Categories[cat]
	if !ok {
		return true
	}
	return enabled
}

// QuietHours is a user-configured local-time window during which
// delivery is deferred, never cancelled. The window may wrap midnight
// (StartTime > EndTime).
type QuietHours struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"` // "HH:MM" local clock
	EndTime   string `json:"end_time"`   // "HH:MM" local clock
	Timezone  string `json:"timezone"`   // IANA name, e.g. "Asia/Kolkata"
}

// PreferenceProfile holds per-user delivery settings. Exactly one
// profile exists per user; absent rows behave as DefaultPreferences.
type PreferenceProfile struct {
	UserID     uuid.UUID         `json:"user_id"`
	Email      ChannelPreference `json:"email"`
	Push       ChannelPreference `json:"push"`
	InApp      ChannelPreference `json:"in_app"`
	Frequency  Frequency         `json:"frequency"`
	QuietHours QuietHours        `json:"quiet_hours"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ChannelPreferenceFor returns the preference block for a channel.
func (p *PreferenceProfile) ChannelPreferenceFor(ch Channel) ChannelPreference {
	switch ch {
	case ChannelEmail:
		return p.Email
	case ChannelPush:
		return p.Push
	case ChannelInApp:
		return p.InApp
	}
	return ChannelPreference{}
}

// DefaultPreferences returns the permissive defaults for a user with
// no stored profile: all channels enabled, all categories opted in,
// immediate delivery, quiet hours off.
func DefaultPreferences(userID uuid.UUID) *PreferenceProfile {
	return &PreferenceProfile{
		UserID:    userID,
		Email:     ChannelPreference{Enabled: true},
		Push:      ChannelPreference{Enabled: true},
		InApp:     ChannelPreference{Enabled: true},
		Frequency: FrequencyImmediate,
		QuietHours: QuietHours{
			Enabled:  false,
			Timezone: "UTC",
		},
	}
}

// ParseClock parses an "HH:MM" local clock string into minutes since
// midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return h*60 + m, nil
}
