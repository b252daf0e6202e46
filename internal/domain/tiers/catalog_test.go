package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

func TestQuotaFor_TotalOverCatalog(t *testing.T) {
	for _, tier := range Ordered {
		for _, kind := range ResourceKinds {
			assert.NotPanics(t, func() { QuotaFor(tier, kind) }, "tier=%s kind=%s", tier, kind)
		}
	}
}

func TestQuotaFor_Values(t *testing.T) {
	tests := []struct {
		tier types.Tier
		kind types.ResourceKind
		want Quota
	}{
		{types.TierTrial, types.ResourceInitiative, 1},
		{types.TierTrial, types.ResourceCredit, 0},
		{types.TierStarter, types.ResourceInitiative, 3},
		{types.TierStarter, types.ResourceCredit, 25},
		{types.TierProfessional, types.ResourceInitiative, Unlimited},
		{types.TierProfessional, types.ResourceCredit, 100},
		{types.TierEnterprise, types.ResourceInitiative, Unlimited},
		{types.TierEnterprise, types.ResourceCredit, Unlimited},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier)+"/"+string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, QuotaFor(tt.tier, tt.kind))
		})
	}
}

func TestQuotaFor_UnknownCombinationPanics(t *testing.T) {
	assert.Panics(t, func() { QuotaFor(types.Tier("platinum"), types.ResourceInitiative) })
	assert.Panics(t, func() { QuotaFor(types.TierTrial, types.ResourceKind("seats")) })
}

func TestQuotasIncreaseWithRank(t *testing.T) {
	for _, kind := range ResourceKinds {
		for i := 1; i < len(Ordered); i++ {
			prev, cur := QuotaFor(Ordered[i-1], kind), QuotaFor(Ordered[i], kind)
			if prev.IsUnlimited() {
				assert.True(t, cur.IsUnlimited(), "%s after unlimited %s must stay unlimited", Ordered[i], Ordered[i-1])
				continue
			}
			assert.True(t, cur.IsUnlimited() || cur >= prev, "%s quota for %s went down", Ordered[i], kind)
		}
	}
}

func TestFeatureGates(t *testing.T) {
	assert.True(t, AllowsDocumentType(types.TierTrial, types.DocumentBrief))
	assert.False(t, AllowsDocumentType(types.TierTrial, types.DocumentPRD))
	assert.True(t, AllowsDocumentType(types.TierStarter, types.DocumentPRD))
	assert.False(t, ExportEnabled(types.TierTrial))
	assert.True(t, ExportEnabled(types.TierEnterprise))
	assert.Equal(t, 7, TrialDurationDays())
	assert.Equal(t, "$149/mo", DisplayPrice(types.TierProfessional))
}

func TestRank(t *testing.T) {
	assert.Less(t, Rank(types.TierTrial), Rank(types.TierStarter))
	assert.Less(t, Rank(types.TierProfessional), Rank(types.TierEnterprise))
	assert.Equal(t, -1, Rank(types.Tier("gold")))
}

func TestParse(t *testing.T) {
	tier, err := ParseTier("starter")
	require.NoError(t, err)
	assert.Equal(t, types.TierStarter, tier)

	_, err = ParseTier("gold")
	require.ErrorIs(t, err, types.ErrBadRequest)

	kind, err := ParseResourceKind("initiative")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceInitiative, kind)

	_, err = ParseResourceKind("")
	require.ErrorIs(t, err, types.ErrBadRequest)

	_, err = ParseDocumentType("novel")
	require.ErrorIs(t, err, types.ErrBadRequest)
}
