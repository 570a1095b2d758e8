package entitlement

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/clipmeter/internal/app/service/plan"
	"github.com/fatflowers/clipmeter/pkg/types"
)

var (
	now      = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	resolver = plan.NewResolver(nil)
)

func snapshot(status types.SubscriptionStatus, priceID string, end time.Time) *types.SubscriptionSnapshot {
	start := end.AddDate(0, -1, 0)
	return &types.SubscriptionSnapshot{Status: status, PriceID: lo.ToPtr(priceID), PeriodStart: &start, PeriodEnd: &end}
}

func inputs(snap *types.SubscriptionSnapshot, usage, balance int64) Inputs {
	var p *types.Plan
	if snap != nil {
		p = resolver.Resolve(snap.PriceID)
	}
	return Inputs{Snapshot: snap, Plan: p, UsageCount: usage, CreditBalance: balance, Now: now}
}

func TestDecide(t *testing.T) {
	future := now.Add(72 * time.Hour)
	past := now.Add(-72 * time.Hour)

	tests := []struct {
		name string
		in   Inputs
		want Decision
	}{
		{
			name: "usable subscription under quota spends quota",
			in:   inputs(snapshot(types.SubscriptionStatusActive, "price_starter_monthly", future), 5, 10),
			want: Decision{Allowed: true},
		},
		{
			name: "trialing counts as usable",
			in:   inputs(snapshot(types.SubscriptionStatusTrialing, "price_professional_monthly", future), 44, 0),
			want: Decision{Allowed: true},
		},
		{
			name: "starter at limit with credits spends credits",
			in:   inputs(snapshot(types.SubscriptionStatusActive, "price_starter_monthly", future), 20, 5),
			want: Decision{Allowed: true, SpendsCredits: true},
		},
		{
			name: "no subscription with credits spends credits",
			in:   inputs(types.NoSubscription(), 0, 1),
			want: Decision{Allowed: true, SpendsCredits: true},
		},
		{
			name: "no subscription and no credits is denied",
			in:   inputs(types.NoSubscription(), 0, 0),
			want: Decision{Reason: ReasonNoActiveSubscription, Code: CodeNoActiveSubscription},
		},
		{
			name: "past_due with expired period and no credits is denied as no subscription",
			in:   inputs(snapshot(types.SubscriptionStatusPastDue, "price_professional_monthly", past), 10, 0),
			want: Decision{Reason: ReasonNoActiveSubscription, Code: CodeNoActiveSubscription},
		},
		{
			name: "active but period ended is not usable",
			in:   inputs(snapshot(types.SubscriptionStatusActive, "price_enterprise_monthly", now), 0, 0),
			want: Decision{Reason: ReasonNoActiveSubscription, Code: CodeNoActiveSubscription},
		},
		{
			name: "quota exhausted and no credits hits monthly limit",
			in:   inputs(snapshot(types.SubscriptionStatusActive, "price_starter_monthly", future), 20, 0),
			want: Decision{Reason: ReasonMonthlyLimitReached, Code: CodeMonthlyLimitReached},
		},
		{
			name: "usage above limit never allows quota",
			in:   inputs(snapshot(types.SubscriptionStatusActive, "price_starter_monthly", future), 25, 0),
			want: Decision{Reason: ReasonMonthlyLimitReached, Code: CodeMonthlyLimitReached},
		},
		{
			name: "unknown price id grants no quota",
			in:   inputs(snapshot(types.SubscriptionStatusActive, "price_legacy_gold", future), 0, 0),
			want: Decision{Reason: ReasonNoActiveSubscription, Code: CodeNoActiveSubscription},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Decide(tc.in))
		})
	}
}

func TestDecide_Properties(t *testing.T) {
	future := now.Add(time.Hour)
	for _, p := range resolver.All() {
		for usage := int64(0); usage <= p.MonthlyVideoLimit+2; usage++ {
			for balance := int64(0); balance <= 2; balance++ {
				usable := inputs(snapshot(types.SubscriptionStatusActive, p.PriceID, future), usage, balance)
				d := Decide(usable)
				switch {
				case usage < p.MonthlyVideoLimit:
					require.Equal(t, Decision{Allowed: true}, d)
				case balance >= 1:
					require.Equal(t, Decision{Allowed: true, SpendsCredits: true}, d)
				default:
					require.False(t, d.Allowed)
				}

				unusable := inputs(snapshot(types.SubscriptionStatusCanceled, p.PriceID, future), usage, balance)
				d = Decide(unusable)
				if balance >= 1 {
					require.Equal(t, Decision{Allowed: true, SpendsCredits: true}, d)
				} else {
					require.Equal(t, CodeNoActiveSubscription, d.Code)
				}
			}
		}
	}
}

func TestDecision_Channel(t *testing.T) {
	require.Equal(t, ChannelSubscription, Decision{Allowed: true}.Channel())
	require.Equal(t, ChannelCredits, Decision{Allowed: true, SpendsCredits: true}.Channel())
	require.Equal(t, ChannelNone, Decision{}.Channel())
	require.Equal(t, "denied", Decision{}.Outcome())
}

func TestMaxClipSeconds(t *testing.T) {
	future := now.Add(time.Hour)
	require.Equal(t, 15, MaxClipSeconds(inputs(snapshot(types.SubscriptionStatusActive, "price_professional_monthly", future), 0, 0), 10))
	require.Equal(t, 10, MaxClipSeconds(inputs(snapshot(types.SubscriptionStatusActive, "price_starter_monthly", future), 0, 0), 8))
	require.Equal(t, 8, MaxClipSeconds(inputs(types.NoSubscription(), 0, 3), 8))
}
