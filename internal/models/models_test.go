package models

import (
	"testing"
	"time"

	"github.com/fatflowers/clipmeter/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestTableNames(t *testing.T) {
	require.Equal(t, "users", User{}.TableName())
	require.Equal(t, "videos", Video{}.TableName())
	require.Equal(t, "subscription", Subscription{}.TableName())
	require.Equal(t, "subscription_log", SubscriptionLog{}.TableName())
	require.Equal(t, "credit_transactions", CreditTransaction{}.TableName())
	require.Equal(t, "payment_notification_log", PaymentNotificationLog{}.TableName())
}

func TestSubscription_Snapshot(t *testing.T) {
	var missing *Subscription
	require.Equal(t, types.SubscriptionStatusNone, missing.Snapshot().Status)

	end := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	price := "price_starter_monthly"
	s := &Subscription{Status: types.SubscriptionStatusActive, PriceID: &price, CurrentPeriodEnd: &end}
	snap := s.Snapshot()
	require.Equal(t, types.SubscriptionStatusActive, snap.Status)
	require.Equal(t, &price, snap.PriceID)
	require.Nil(t, snap.PeriodStart)
	require.True(t, snap.Usable(end.Add(-time.Second)))
	require.False(t, snap.Usable(end))
}

func TestVideo_Helpers(t *testing.T) {
	var v *Video
	require.False(t, v.SpendsCredits())
	require.False(t, v.Terminal())

	v = &Video{FundedBy: VideoFundingCredit, Status: VideoStatusProcessing}
	require.True(t, v.SpendsCredits())
	require.False(t, v.Terminal())
	v.Status = VideoStatusFailed
	require.True(t, v.Terminal())
}
