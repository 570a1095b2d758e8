package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscriptionSnapshot_Usable(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		snap *SubscriptionSnapshot
		want bool
	}{
		{"nil", nil, false},
		{"none", NoSubscription(), false},
		{"active future", &SubscriptionSnapshot{Status: SubscriptionStatusActive, PeriodEnd: &future}, true},
		{"trialing future", &SubscriptionSnapshot{Status: SubscriptionStatusTrialing, PeriodEnd: &future}, true},
		{"active past", &SubscriptionSnapshot{Status: SubscriptionStatusActive, PeriodEnd: &past}, false},
		{"active at end", &SubscriptionSnapshot{Status: SubscriptionStatusActive, PeriodEnd: &now}, false},
		{"active no end", &SubscriptionSnapshot{Status: SubscriptionStatusActive}, false},
		{"past_due future", &SubscriptionSnapshot{Status: SubscriptionStatusPastDue, PeriodEnd: &future}, false},
		{"canceled future", &SubscriptionSnapshot{Status: SubscriptionStatusCanceled, PeriodEnd: &future}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.snap.Usable(now))
		})
	}
}

func TestPeriod_ContainsInclusive(t *testing.T) {
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	p := Period{Start: start, End: end}
	require.True(t, p.Contains(start))
	require.True(t, p.Contains(end))
	require.False(t, p.Contains(start.Add(-time.Nanosecond)))
	require.False(t, p.Contains(end.Add(time.Nanosecond)))
}

func TestCreditKind_Valid(t *testing.T) {
	for _, k := range CreditKinds {
		require.True(t, k.Valid())
	}
	require.False(t, CreditKind("bogus").Valid())
}

func TestPlan_HasFeature(t *testing.T) {
	var none *Plan
	require.False(t, none.HasFeature(FeatureHDVideo))
	p := &Plan{Features: []Feature{FeatureHDVideo, FeatureAPIAccess}}
	require.True(t, p.HasFeature(FeatureAPIAccess))
	require.False(t, p.HasFeature(FeatureWhiteLabel))
}
