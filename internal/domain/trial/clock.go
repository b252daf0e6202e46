// Package trial computes remaining trial time and its display wording.
package trial

import (
	"fmt"
	"time"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

const day = 24 * time.Hour

// warningThresholdDays is the remaining-days count below which the badge
// switches to its warning variant.
const warningThresholdDays = 2

// DaysRemaining returns the whole days left until trialEndsAt, rounded up.
// A nil end yields ok=false (no trial). An end at or before now yields 0.
func DaysRemaining(trialEndsAt *time.Time, now time.Time) (days int, ok bool) {
	if trialEndsAt == nil {
		return 0, false
	}
	diff := trialEndsAt.Sub(now)
	if diff <= 0 {
		return 0, true
	}
	days = int(diff / day)
	if diff%day != 0 {
		days++
	}
	return days, true
}

// FormatStatus renders the badge copy. UI snapshots depend on the exact shape.
func FormatStatus(daysRemaining int) string {
	if daysRemaining <= 0 {
		return "Trial expired"
	}
	word := "days"
	if daysRemaining == 1 {
		word = "day"
	}
	return fmt.Sprintf("Trial: %d %s remaining", daysRemaining, word)
}

// Status is the trial badge view of a subscription.
type Status struct {
	OnTrial       bool   `json:"onTrial"`
	Expired       bool   `json:"expired"`
	DaysRemaining int    `json:"daysRemaining"`
	Label         string `json:"label,omitempty"`
	Warning       bool   `json:"warning"`
}

// StatusOf derives the badge view. Non-trial subscriptions, and trials
// without an end date, report OnTrial=false.
func StatusOf(sub *types.Subscription, now time.Time) Status {
	if !sub.IsTrial() {
		return Status{}
	}
	if sub.Status == types.StatusExpired {
		return Status{OnTrial: true, Expired: true, Label: FormatStatus(0), Warning: true}
	}
	days, ok := DaysRemaining(sub.TrialEndsAt, now)
	if !ok {
		return Status{}
	}
	return Status{
		OnTrial:       true,
		Expired:       days == 0,
		DaysRemaining: days,
		Label:         FormatStatus(days),
		Warning:       days < warningThresholdDays,
	}
}
