package trial

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

func at(t time.Time) *time.Time { return &t }

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)

	t.Run("no trial", func(t *testing.T) {
		_, ok := DaysRemaining(nil, now)
		assert.False(t, ok)
	})

	t.Run("past end never negative", func(t *testing.T) {
		for _, ago := range []time.Duration{time.Nanosecond, time.Second, time.Hour, 30 * day, 10000 * day} {
			days, ok := DaysRemaining(at(now.Add(-ago)), now)
			require.True(t, ok)
			assert.Equal(t, 0, days, "ended %s ago", ago)
		}
	})

	t.Run("expiring this instant", func(t *testing.T) {
		days, ok := DaysRemaining(at(now), now)
		require.True(t, ok)
		assert.Equal(t, 0, days)
	})

	t.Run("thirty seconds left rounds up", func(t *testing.T) {
		days, _ := DaysRemaining(at(now.Add(30*time.Second)), now)
		assert.Equal(t, 1, days)
	})

	t.Run("exact days", func(t *testing.T) {
		days, _ := DaysRemaining(at(now.Add(6*day)), now)
		assert.Contains(t, []int{6, 7}, days)
		assert.Equal(t, 6, days)
	})

	t.Run("partial day rounds up", func(t *testing.T) {
		days, _ := DaysRemaining(at(now.Add(6*day+time.Minute)), now)
		assert.Equal(t, 7, days)
	})
}

func TestDaysRemaining_WallClock(t *testing.T) {
	end := time.Now().Add(6 * day)
	days, ok := DaysRemaining(&end, time.Now())
	require.True(t, ok)
	assert.Contains(t, []int{6, 7}, days)
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "Trial expired", FormatStatus(0))
	assert.Equal(t, "Trial: 1 day remaining", FormatStatus(1))
	assert.Equal(t, "Trial: 6 days remaining", FormatStatus(6))

	one := FormatStatus(1)
	assert.Contains(t, one, "day remaining")
	assert.NotContains(t, one, "days remaining")

	for n := 2; n <= 30; n++ {
		assert.True(t, strings.Contains(FormatStatus(n), "days remaining"), "n=%d", n)
	}
}

func TestStatusOf(t *testing.T) {
	now := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)

	t.Run("non trial", func(t *testing.T) {
		s := StatusOf(&types.Subscription{Tier: types.TierStarter, Status: types.StatusActive}, now)
		assert.False(t, s.OnTrial)
		assert.Empty(t, s.Label)
	})

	t.Run("nil subscription", func(t *testing.T) {
		assert.Equal(t, Status{}, StatusOf(nil, now))
	})

	t.Run("expired status", func(t *testing.T) {
		s := StatusOf(&types.Subscription{Tier: types.TierTrial, Status: types.StatusExpired, TrialEndsAt: at(now.Add(day))}, now)
		assert.True(t, s.Expired)
		assert.Equal(t, "Trial expired", s.Label)
	})

	t.Run("active with warning", func(t *testing.T) {
		s := StatusOf(&types.Subscription{Tier: types.TierTrial, Status: types.StatusActive, TrialEndsAt: at(now.Add(time.Hour))}, now)
		assert.True(t, s.OnTrial)
		assert.False(t, s.Expired)
		assert.Equal(t, 1, s.DaysRemaining)
		assert.True(t, s.Warning)
		assert.Equal(t, "Trial: 1 day remaining", s.Label)
	})

	t.Run("active without warning", func(t *testing.T) {
		s := StatusOf(&types.Subscription{Tier: types.TierTrial, Status: types.StatusActive, TrialEndsAt: at(now.Add(5 * day))}, now)
		assert.Equal(t, 5, s.DaysRemaining)
		assert.False(t, s.Warning)
	})
}
