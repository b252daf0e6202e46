package types

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a named subscription plan. Tiers are ordered by increasing quota.
type Tier string

const (
	TierTrial        Tier = "trial"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// SubscriptionStatus is the billing state of a subscription row.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusExpired  SubscriptionStatus = "expired"
	StatusCanceled SubscriptionStatus = "canceled"
)

// ResourceKind identifies a metered resource counted per billing period.
type ResourceKind string

const (
	ResourceInitiative ResourceKind = "initiative"
	ResourceCredit     ResourceKind = "credit"
)

// DocumentType is a generated document a tier may or may not unlock.
type DocumentType string

const (
	DocumentBrief               DocumentType = "brief"
	DocumentMarketResearch      DocumentType = "market_research"
	DocumentCompetitiveAnalysis DocumentType = "competitive_analysis"
	DocumentPRD                 DocumentType = "prd"
	DocumentArchitecture        DocumentType = "architecture"
	DocumentUXOverview          DocumentType = "ux_overview"
	DocumentSecurityReview      DocumentType = "security_review"
	DocumentQAStrategy          DocumentType = "qa_strategy"
)

// AllDocumentTypes lists every document type in display order.
var AllDocumentTypes = []DocumentType{
	DocumentBrief,
	DocumentMarketResearch,
	DocumentCompetitiveAnalysis,
	DocumentPRD,
	DocumentArchitecture,
	DocumentUXOverview,
	DocumentSecurityReview,
	DocumentQAStrategy,
}

// Subscription is the single per-user subscription row.
type Subscription struct {
	ID          uuid.UUID          `json:"id"`
	UserID      string             `json:"user_id"`
	Tier        Tier               `json:"tier"`
	Status      SubscriptionStatus `json:"status"`
	TrialEndsAt *time.Time         `json:"trial_ends_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// IsTrial reports whether the subscription is on the trial tier.
func (s *Subscription) IsTrial() bool {
	return s != nil && s.Tier == TierTrial
}

// Period is a half-open billing window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// LookupOutcome discriminates a SubscriptionLookup.
type LookupOutcome int

const (
	LookupNotFound LookupOutcome = iota
	LookupFound
	LookupStoreError
)

func (o LookupOutcome) String() string {
	switch o {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	case LookupStoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// SubscriptionLookup is the result of reading a user's subscription.
// Exactly one of Subscription (Found) or Err (StoreError) is set; NotFound
// carries neither.
type SubscriptionLookup struct {
	Outcome      LookupOutcome
	Subscription *Subscription
	Err          error
}

func Found(sub *Subscription) SubscriptionLookup {
	return SubscriptionLookup{Outcome: LookupFound, Subscription: sub}
}

func NotFound() SubscriptionLookup {
	return SubscriptionLookup{Outcome: LookupNotFound}
}

func StoreError(err error) SubscriptionLookup {
	return SubscriptionLookup{Outcome: LookupStoreError, Err: err}
}

// DenialReason explains a LimitCheckResult.
type DenialReason string

const (
	ReasonNone                   DenialReason = "none"
	ReasonUnauthorized           DenialReason = "unauthorized"
	ReasonLimitReached           DenialReason = "limit_reached"
	ReasonTrialExpired           DenialReason = "trial_expired"
	ReasonSubscriptionCanceled   DenialReason = "subscription_canceled"
	ReasonDocumentTypeRestricted DenialReason = "document_type_restricted"
	ReasonExportRestricted       DenialReason = "export_restricted"
)

// LimitCheckResult is the per-call entitlement decision.
type LimitCheckResult struct {
	Allowed      bool         `json:"allowed"`
	Reason       DenialReason `json:"reason"`
	CurrentCount *int         `json:"currentCount,omitempty"`
	Limit        *int         `json:"limit,omitempty"`
	Tier         *Tier        `json:"tier,omitempty"`

	// Cause is set when the decision was forced by an internal failure.
	Cause error `json:"-"`
}

// FailedClosed reports whether the denial came from an internal error rather
// than a policy decision.
func (r LimitCheckResult) FailedClosed() bool {
	return r.Cause != nil
}

// Allow builds a permitting decision.
func Allow(tier Tier) LimitCheckResult {
	return LimitCheckResult{Allowed: true, Reason: ReasonNone, Tier: &tier}
}

// Deny builds a policy denial.
func Deny(reason DenialReason, tier Tier) LimitCheckResult {
	return LimitCheckResult{Allowed: false, Reason: reason, Tier: &tier}
}

// Unauthorized is the denial for a missing identity or unprovisioned user.
func Unauthorized() LimitCheckResult {
	return LimitCheckResult{Allowed: false, Reason: ReasonUnauthorized}
}

// FailClosed converts an internal failure into a denial. The cause is kept
// for logging and never serialized.
func FailClosed(err error) LimitCheckResult {
	return LimitCheckResult{Allowed: false, Reason: ReasonUnauthorized, Cause: err}
}

// WithUsage attaches the period counters shown next to the decision.
func (r LimitCheckResult) WithUsage(count, limit int) LimitCheckResult {
	r.CurrentCount = &count
	r.Limit = &limit
	return r
}
