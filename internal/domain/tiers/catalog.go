// Package tiers holds the static tier catalog: per-resource quotas and the
// feature gates each subscription tier unlocks.
package tiers

import (
	"fmt"
	"slices"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

// Quota is the per-period allowance for a resource kind.
type Quota int

// Unlimited marks a resource kind with no per-period cap.
const Unlimited Quota = -1

func (q Quota) IsUnlimited() bool { return q == Unlimited }

// Limits is the full configuration for one tier.
type Limits struct {
	Tier                 types.Tier
	Quotas               map[types.ResourceKind]Quota
	AllowedDocumentTypes []types.DocumentType
	TrialDurationDays    int
	ExportEnabled        bool
	PriceMonthly         int
	DisplayPrice         string
}

// Ordered lists the tiers by increasing quota.
var Ordered = []types.Tier{
	types.TierTrial,
	types.TierStarter,
	types.TierProfessional,
	types.TierEnterprise,
}

// ResourceKinds lists every metered resource kind.
var ResourceKinds = []types.ResourceKind{
	types.ResourceInitiative,
	types.ResourceCredit,
}

var catalog = map[types.Tier]Limits{
	types.TierTrial: {
		Tier: types.TierTrial,
		Quotas: map[types.ResourceKind]Quota{
			types.ResourceInitiative: 1,
			types.ResourceCredit:     0, // brief generation doesn't consume credits
		},
		AllowedDocumentTypes: []types.DocumentType{types.DocumentBrief},
		TrialDurationDays:    7,
		ExportEnabled:        false,
		DisplayPrice:         "Free 7-day trial",
	},
	types.TierStarter: {
		Tier: types.TierStarter,
		Quotas: map[types.ResourceKind]Quota{
			types.ResourceInitiative: 3,
			types.ResourceCredit:     25,
		},
		AllowedDocumentTypes: types.AllDocumentTypes,
		ExportEnabled:        true,
		PriceMonthly:         49,
		DisplayPrice:         "$49/mo",
	},
	types.TierProfessional: {
		Tier: types.TierProfessional,
		Quotas: map[types.ResourceKind]Quota{
			types.ResourceInitiative: Unlimited,
			types.ResourceCredit:     100,
		},
		AllowedDocumentTypes: types.AllDocumentTypes,
		ExportEnabled:        true,
		PriceMonthly:         149,
		DisplayPrice:         "$149/mo",
	},
	types.TierEnterprise: {
		Tier: types.TierEnterprise,
		Quotas: map[types.ResourceKind]Quota{
			types.ResourceInitiative: Unlimited,
			types.ResourceCredit:     Unlimited,
		},
		AllowedDocumentTypes: types.AllDocumentTypes,
		ExportEnabled:        true,
		PriceMonthly:         499,
		DisplayPrice:         "$499/mo",
	},
}

// LimitsFor returns the configuration for a tier. An unknown tier is a
// programming error: the catalog is static configuration, not user input.
func LimitsFor(tier types.Tier) Limits {
	l, ok := catalog[tier]
	if !ok {
		panic(fmt.Sprintf("tiers: no catalog entry for tier %q", tier))
	}
	return l
}

// QuotaFor returns the allowance for (tier, kind). Panics on a combination
// missing from the catalog.
func QuotaFor(tier types.Tier, kind types.ResourceKind) Quota {
	q, ok := LimitsFor(tier).Quotas[kind]
	if !ok {
		panic(fmt.Sprintf("tiers: no quota for tier %q resource %q", tier, kind))
	}
	return q
}

// AllowsDocumentType reports whether the tier unlocks a document type.
func AllowsDocumentType(tier types.Tier, doc types.DocumentType) bool {
	return slices.Contains(LimitsFor(tier).AllowedDocumentTypes, doc)
}

// ExportEnabled reports whether the tier may export documents.
func ExportEnabled(tier types.Tier) bool {
	return LimitsFor(tier).ExportEnabled
}

// DisplayPrice returns the price label shown on the paywall.
func DisplayPrice(tier types.Tier) string {
	return LimitsFor(tier).DisplayPrice
}

// TrialDurationDays is the length of a new trial.
func TrialDurationDays() int {
	return LimitsFor(types.TierTrial).TrialDurationDays
}

// Rank orders tiers by quota; unknown tiers rank -1.
func Rank(tier types.Tier) int {
	return slices.Index(Ordered, tier)
}

// ParseTier validates an untrusted tier name.
func ParseTier(s string) (types.Tier, error) {
	t := types.Tier(s)
	if _, ok := catalog[t]; !ok {
		return "", fmt.Errorf("unknown tier %q: %w", s, types.ErrBadRequest)
	}
	return t, nil
}

// ParseResourceKind validates an untrusted resource kind.
func ParseResourceKind(s string) (types.ResourceKind, error) {
	k := types.ResourceKind(s)
	if !slices.Contains(ResourceKinds, k) {
		return "", fmt.Errorf("unknown resource kind %q: %w", s, types.ErrBadRequest)
	}
	return k, nil
}

// ParseDocumentType validates an untrusted document type.
func ParseDocumentType(s string) (types.DocumentType, error) {
	d := types.DocumentType(s)
	if !slices.Contains(types.AllDocumentTypes, d) {
		return "", fmt.Errorf("unknown document type %q: %w", s, types.ErrBadRequest)
	}
	return d, nil
}
