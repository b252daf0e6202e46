package entitlements

import (
	"time"

	"github.com/outcomesignal/entitlements-api/internal/domain/trial"
	"github.com/outcomesignal/entitlements-api/internal/types"
)

type CheckCanCreateRequest struct {
	ResourceKind string `json:"resourceKind" validate:"required"`
}

type CheckCanGenerateDocumentRequest struct {
	DocumentType string `json:"documentType" validate:"required"`
}

type CheckCanExportRequest struct{}

// CheckResponse is the entitlement decision returned by every check.
//
// Reason is one of none, unauthorized, limit_reached, trial_expired,
// subscription_canceled, document_type_restricted or export_restricted.
// A canceled subscription is denied with subscription_canceled. An active
// trial whose end has passed is denied with trial_expired before the
// expiration sweep marks it expired.
type CheckResponse = types.LimitCheckResult

type EnsureSubscriptionRequest struct{}

type SubscriptionResponse struct {
	Subscription *types.Subscription `json:"subscription"`
	Trial        trial.Status        `json:"trial"`
}

type GetTrialStatusRequest struct{}

// TrialStatusResponse is the trial badge plus the row it was derived from.
type TrialStatusResponse struct {
	Tier        types.Tier               `json:"tier"`
	Status      types.SubscriptionStatus `json:"status"`
	TrialEndsAt *time.Time               `json:"trialEndsAt,omitempty"`
	Trial       trial.Status             `json:"trial"`
}

type TrackPaywallEventRequest struct {
	Event         string `json:"event" validate:"required,oneof=paywall_shown paywall_dismissed plan_selected"`
	TriggerReason string `json:"triggerReason" validate:"required"`
	Tier          string `json:"tier,omitempty" validate:"required_if=Event plan_selected"`
}

type RecordUsageRequest struct {
	ResourceKind string `json:"resourceKind" validate:"required"`
	Quantity     int    `json:"quantity" validate:"min=1"`
}

type ListPlansRequest struct{}

// Plan is one tier as shown on the pricing paywall. A quota of -1 means
// unlimited.
type Plan struct {
	Tier                 types.Tier                 `json:"tier"`
	DisplayPrice         string                     `json:"displayPrice"`
	PriceMonthly         int                        `json:"priceMonthly"`
	Quotas               map[types.ResourceKind]int `json:"quotas"`
	AllowedDocumentTypes []types.DocumentType       `json:"allowedDocumentTypes"`
	ExportEnabled        bool                       `json:"exportEnabled"`
	TrialDurationDays    int                        `json:"trialDurationDays,omitempty"`
}

type ListPlansResponse struct {
	Plans []Plan `json:"plans"`
}
