package notifications

import (
	"time"

	"github.com/Dharshni15/job/internal/domain"
)

// SkipReason explains why the eligibility filter declined a delivery.
type SkipReason string

// Skip reasons. Quiet hours is the only non-terminal one: the job is
// deferred to the window's end, never cancelled.
const (
	SkipNone            SkipReason = ""
	SkipChannelDisabled SkipReason = "channel disabled"
	SkipCategoryOptOut  SkipReason = "category opted out"
	SkipQuietHours      SkipReason = "quiet hours"
)

// Decision is the eligibility filter's verdict.
type Decision struct {
	Deliver bool
	Reason  SkipReason
}

// ShouldDeliver decides whether a delivery on the given channel and
// category is allowed by the profile at the given instant. It is pure
// and side-effect-free: callers evaluate it both at enqueue time and
// again at processing time, since preferences may change in between.
func ShouldDeliver(ch domain.Channel, cat domain.Category, profile *domain.PreferenceProfile, now time.Time) Decision {
	pref := profile.ChannelPreferenceFor(ch)

	if !pref.Enabled {
		return Decision{Deliver: false, Reason: SkipChannelDisabled}
	}
	if !pref.CategoryEnabled(cat) {
		return Decision{Deliver: false, Reason: SkipCategoryOptOut}
	}
	if InQuietHours(profile.QuietHours, now) {
		return Decision{Deliver: false, Reason: SkipQuietHours}
	}
	return Decision{Deliver: true}
}

// InQuietHours reports whether now falls inside the quiet-hours window,
// evaluated in the window's own timezone. A window with StartTime after
// EndTime wraps midnight; membership is then start <= t OR t <= end.
// Malformed windows never suppress delivery.
func InQuietHours(qh domain.QuietHours, now time.Time) bool {
	if !qh.Enabled {
		return false
	}

	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return false
	}
	start, err := domain.ParseClock(qh.StartTime)
	if err != nil {
		return false
	}
	end, err := domain.ParseClock(qh.EndTime)
	if err != nil {
		return false
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start > end {
		return minute >= start || minute <= end
	}
	return minute >= start && minute <= end
}

// QuietHoursEnd returns the next instant at which the quiet-hours
// window closes, for rescheduling a deferred job. If the window is
// malformed or disabled it returns now unchanged.
func QuietHoursEnd(qh domain.QuietHours, now time.Time) time.Time {
	if !qh.Enabled {
		return now
	}
	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return now
	}
	end, err := domain.ParseClock(qh.EndTime)
	if err != nil {
		return now
	}

	local := now.In(loc)
	endToday := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if endToday.Before(local) {
		endToday = endToday.AddDate(0, 0, 1)
	}
	return endToday.UTC()
}
