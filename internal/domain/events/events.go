// Package events records paywall interactions for conversion analytics.
//
// Delivery is fire and forget. A slow or unreachable analytics backend
// never blocks or fails the action that produced the event.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

// Name identifies the kind of paywall interaction.
type Name string

const (
	PaywallShown     Name = "paywall_shown"
	PaywallDismissed Name = "paywall_dismissed"
	PlanSelected     Name = "plan_selected"
)

// TriggerReason is why the paywall was opened.
type TriggerReason string

const (
	ReasonTrialExpired    TriggerReason = "trial_expired"
	ReasonInitiativeLimit TriggerReason = "initiative_limit"
	ReasonDocumentLimit   TriggerReason = "document_limit"
	ReasonExportLimit     TriggerReason = "export_limit"
)

var triggerReasons = []TriggerReason{ReasonTrialExpired, ReasonInitiativeLimit, ReasonDocumentLimit, ReasonExportLimit}

// Event is the outbound notification. The shape is shared by all three
// event kinds; Tier is only set for plan_selected.
type Event struct {
	ID            string        `json:"id"`
	Name          Name          `json:"event_name"`
	TriggerReason TriggerReason `json:"trigger_reason"`
	Tier          *types.Tier   `json:"tier,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Sink receives paywall interactions. Implementations must not block.
type Sink interface {
	PaywallShown(ctx context.Context, reason TriggerReason)
	PaywallDismissed(ctx context.Context, reason TriggerReason)
	PlanSelected(ctx context.Context, tier types.Tier, reason TriggerReason)
}

func newEvent(name Name, reason TriggerReason, tier *types.Tier, userID string, now time.Time) Event {
	now = now.UTC()
	return Event{
		ID:            ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Name:          name,
		TriggerReason: reason,
		Tier:          tier,
		UserID:        userID,
		Timestamp:     now,
	}
}

// ParseTriggerReason validates an untrusted reason.
func ParseTriggerReason(s string) (TriggerReason, error) {
	for _, r := range triggerReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown trigger reason %q: %w", s, types.ErrBadRequest)
}

// ParseName validates an untrusted event name.
func ParseName(s string) (Name, error) {
	switch n := Name(s); n {
	case PaywallShown, PaywallDismissed, PlanSelected:
		return n, nil
	}
	return "", fmt.Errorf("unknown event %q: %w", s, types.ErrBadRequest)
}

// ReasonForDecision maps a denied check to the paywall it should open.
// ok is false for allowed results and for denials no plan upgrade can fix.
func ReasonForDecision(result types.LimitCheckResult, kind types.ResourceKind) (TriggerReason, bool) {
	if result.Allowed || result.FailedClosed() {
		return "", false
	}
	switch result.Reason {
	case types.ReasonTrialExpired:
		return ReasonTrialExpired, true
	case types.ReasonLimitReached:
		if kind == types.ResourceInitiative {
			return ReasonInitiativeLimit, true
		}
		return ReasonDocumentLimit, true
	case types.ReasonDocumentTypeRestricted:
		return ReasonDocumentLimit, true
	case types.ReasonExportRestricted:
		return ReasonExportLimit, true
	default:
		return "", false
	}
}
