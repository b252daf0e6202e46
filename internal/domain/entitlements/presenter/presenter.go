package presenter

import (
	"time"

	"github.com/outcomesignal/entitlements-api/internal/domain/entitlements"
	"github.com/outcomesignal/entitlements-api/internal/domain/tiers"
	"github.com/outcomesignal/entitlements-api/internal/domain/trial"
	"github.com/outcomesignal/entitlements-api/internal/types"
)

func ToPlan(l tiers.Limits) entitlements.Plan {
	quotas := make(map[types.ResourceKind]int, len(l.Quotas))
	for kind, q := range l.Quotas {
		quotas[kind] = int(q)
	}
	docs := make([]types.DocumentType, len(l.AllowedDocumentTypes))
	copy(docs, l.AllowedDocumentTypes)
	return entitlements.Plan{
		Tier:                 l.Tier,
		DisplayPrice:         l.DisplayPrice,
		PriceMonthly:         l.PriceMonthly,
		Quotas:               quotas,
		AllowedDocumentTypes: docs,
		ExportEnabled:        l.ExportEnabled,
		TrialDurationDays:    l.TrialDurationDays,
	}
}

// ToPlans renders the catalog in tier order.
func ToPlans() []entitlements.Plan {
	plans := make([]entitlements.Plan, 0, len(tiers.Ordered))
	for _, tier := range tiers.Ordered {
		plans = append(plans, ToPlan(tiers.LimitsFor(tier)))
	}
	return plans
}

func ToSubscriptionResponse(sub *types.Subscription, now time.Time) *entitlements.SubscriptionResponse {
	return &entitlements.SubscriptionResponse{
		Subscription: sub,
		Trial:        trial.StatusOf(sub, now),
	}
}

func ToTrialStatusResponse(sub *types.Subscription, now time.Time) *entitlements.TrialStatusResponse {
	return &entitlements.TrialStatusResponse{
		Tier:        sub.Tier,
		Status:      sub.Status,
		TrialEndsAt: sub.TrialEndsAt,
		Trial:       trial.StatusOf(sub, now),
	}
}
