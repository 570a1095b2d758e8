package statistics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/clipmeter/pkg/types"
)

func TestGetFilters(t *testing.T) {
	req := &StatisticRequest{Filters: []*types.CommonFilter{
		{Field: "created_at", Operator: types.CommonFilterOperatorDateRange, Values: []any{"2025-01-01", "2025-01-31"}},
		types.NewEqFilter("funded_by", "credit"),
		types.NewEqFilter("kind", "gift"),
	}}

	video := req.GetFilters(StatisticTypeDailyVideoCount)
	require.Len(t, video, 2)
	require.Equal(t, "funded_by", video[1].Field)

	granted := req.GetFilters(StatisticTypeDailyCreditsGranted)
	require.Len(t, granted, 2)
	require.Equal(t, "kind", granted[1].Field)

	require.Len(t, req.GetFilters(StatisticTypeDailyCreditsConsumed), 1)
	require.Nil(t, (*StatisticRequest)(nil).GetFilters(StatisticTypeDailyVideoCount))
}

func TestApplicable(t *testing.T) {
	req := &StatisticRequest{Filters: []*types.CommonFilter{types.NewEqFilter("kind", "gift")}}
	require.True(t, req.applicable(StatisticTypeDailyCreditsGranted))
	require.False(t, req.applicable(StatisticTypeDailyVideoCount))
}

func TestGetDailyStatistic_InapplicableItemsAreEmpty(t *testing.T) {
	s := New(nil, nil)
	req := &StatisticRequest{
		Filters:   []*types.CommonFilter{types.NewEqFilter("kind", "gift")},
		DataItems: []*StatisticDataItem{{ID: StatisticTypeDailyVideoCount}, {ID: StatisticTypeActiveSubscriptionsByPlan}},
	}
	res, err := s.GetDailyStatistic(context.Background(), req)
	require.NoError(t, err)
	require.Contains(t, res.DataItems, StatisticTypeDailyVideoCount)
	require.Nil(t, res.DataItems[StatisticTypeDailyVideoCount])
	require.Len(t, res.DataItems, 2)
}

func TestGetDailyStatistic_UnknownItem(t *testing.T) {
	s := New(nil, nil)
	_, err := s.GetDailyStatistic(context.Background(), &StatisticRequest{
		DataItems: []*StatisticDataItem{{ID: "nope"}},
	})
	require.ErrorContains(t, err, "invalid data item id")
}

func TestToItems_SortedByLabel(t *testing.T) {
	items := toItems(map[string]int64{"starter": 3, "enterprise": 1, "unknown": 2})
	require.Equal(t, []StatisticResponseDataItem{
		{Label: "enterprise", Value: 1},
		{Label: "starter", Value: 3},
		{Label: "unknown", Value: 2},
	}, items)
}

func TestValidate_RejectsUnknownAndNullFilters(t *testing.T) {
	s := New(nil, nil)
	items := []*StatisticDataItem{{ID: StatisticTypeDailyVideoCount}}
	for name, filters := range map[string][]*types.CommonFilter{
		"json operator": {types.NewEqFilter("funded_by->>'x') OR 1=1 --", "credit")},
		"unknown column": {types.NewEqFilter("prompt", "x")},
		"null entry":     {nil},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetDailyStatistic(context.Background(), &StatisticRequest{Filters: filters, DataItems: items})
			require.ErrorIs(t, err, ErrInvalidFilter)
		})
	}

	ok := &StatisticRequest{Filters: []*types.CommonFilter{
		{Field: "created_at", Operator: types.CommonFilterOperatorDateRange, Values: []any{"2025-01-01", "2025-01-31"}},
		types.NewEqFilter("user_id", "u1"),
		types.NewEqFilter("funded_by", "credit"),
	}}
	require.NoError(t, ok.Validate())
}
