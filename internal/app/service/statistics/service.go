package statistics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/clipmeter/internal/app/service/plan"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/types"
)

type StatisticType string

const (
	StatisticTypeDailyVideoCount           StatisticType = "daily_video_count"
	StatisticTypeDailyCreditsGranted       StatisticType = "daily_credits_granted"
	StatisticTypeDailyCreditsConsumed      StatisticType = "daily_credits_consumed"
	StatisticTypeTotalCreditsOutstanding   StatisticType = "total_credits_outstanding"
	StatisticTypeActiveSubscriptionsByPlan StatisticType = "active_subscriptions_by_plan"
	StatisticTypeDailyNewSubscriptionCount StatisticType = "daily_new_subscription_count"
)

// Filter fields that only make sense for some statistics.
type StatisticFilterType string

const (
	StatisticFilterTypeFundedBy StatisticFilterType = "funded_by"
	StatisticFilterTypeKind     StatisticFilterType = "kind"
)

var filterTypes = []StatisticFilterType{
	StatisticFilterTypeFundedBy,
	StatisticFilterTypeKind,
}

// ErrInvalidFilter rejects filters on columns the statistics do not expose.
var ErrInvalidFilter = errors.New("unsupported statistic filter")

// filterable columns; created_at applies to every statistic
var filterFields = []string{"created_at", "user_id", string(StatisticFilterTypeFundedBy), string(StatisticFilterTypeKind)}

var validFilters = map[StatisticFilterType][]StatisticType{
	StatisticFilterTypeFundedBy: {StatisticTypeDailyVideoCount},
	StatisticFilterTypeKind:     {StatisticTypeDailyCreditsGranted},
}

type StatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type StatisticRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*StatisticDataItem  `json:"data_items" binding:"required,min=1,dive"`
}

// Validate rejects nil filters and fields outside filterFields.
func (f *StatisticRequest) Validate() error {
	for _, filter := range f.Filters {
		if filter == nil {
			return fmt.Errorf("%w: null filter", ErrInvalidFilter)
		}
		if !lo.Contains(filterFields, filter.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidFilter, filter.Field)
		}
	}
	return nil
}

// GetFilters keeps the filters that apply to statisticType. Unrestricted
// filters such as created_at ranges apply everywhere.
func (f *StatisticRequest) GetFilters(statisticType StatisticType) types.FiltersAnd {
	if f == nil {
		return nil
	}
	var result types.FiltersAnd
	for _, filter := range f.Filters {
		if filter == nil {
			continue
		}
		if statisticTypes, ok := validFilters[StatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result = append(result, filter)
			}
		} else {
			result = append(result, filter)
		}
	}
	return result
}

// applicable reports whether every restricted filter in the request supports item.
func (f *StatisticRequest) applicable(item StatisticType) bool {
	for _, filter := range f.Filters {
		if filter == nil {
			continue
		}
		ft := StatisticFilterType(filter.Field)
		if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], item) {
			return false
		}
	}
	return true
}

type StatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type StatisticResponse struct {
	DataItems map[StatisticType][]StatisticResponseDataItem `json:"data_items"`
}

type Service struct {
	db    *gorm.DB
	plans *plan.Resolver
	now   func() time.Time
}

func New(db *gorm.DB, plans *plan.Resolver) *Service {
	return &Service{db: db, plans: plans, now: time.Now}
}

func where(filters types.FiltersAnd) clause.Where {
	return clause.Where{Exprs: []clause.Expression{filters}}
}

func (s *Service) getDailyVideoCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Unscoped().Table(models.Video{}.TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, funded_by as label, count(*) as value").
		Where(where(request.GetFilters(StatisticTypeDailyVideoCount))).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("funded_by").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyCreditsGranted(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table(models.CreditTransaction{}.TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, kind as label, sum(amount) as value").
		Where("amount > 0").
		Where(where(request.GetFilters(StatisticTypeDailyCreditsGranted))).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("kind").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// getDailyCreditsConsumed nets refunds against video debits per day.
func (s *Service) getDailyCreditsConsumed(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table(models.CreditTransaction{}.TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, -sum(amount) as value").
		Where("kind IN ?", []types.CreditKind{types.CreditKindVideoCreation, types.CreditKindRefund}).
		Where(where(request.GetFilters(StatisticTypeDailyCreditsConsumed))).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalCreditsOutstanding(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table(models.User{}.TableName()).
		Select("COALESCE(sum(credit_balance), 0) as value")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// getActiveSubscriptionsByPlan counts usable subscriptions per resolved plan.
// Prices that resolve to no plan are reported under "unknown".
func (s *Service) getActiveSubscriptionsByPlan(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var rows []struct {
		PriceID *string
		Value   int64
	}
	err := s.db.WithContext(ctx).Table(models.Subscription{}.TableName()).
		Select("price_id, count(*) as value").
		Where("status IN ?", []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing}).
		Where("current_period_end > ?", s.now()).
		Group("price_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	byPlan := map[string]int64{}
	for _, r := range rows {
		label := "unknown"
		if p := s.plans.Resolve(r.PriceID); p != nil {
			label = string(p.ID)
		}
		byPlan[label] += r.Value
	}
	return toItems(byPlan), nil
}

func toItems(byLabel map[string]int64) []StatisticResponseDataItem {
	items := lo.MapToSlice(byLabel, func(label string, v int64) StatisticResponseDataItem {
		return StatisticResponseDataItem{Label: label, Value: v}
	})
	slices.SortFunc(items, func(a, b StatisticResponseDataItem) int { return strings.Compare(a.Label, b.Label) })
	return items
}

func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH user_id_date AS (
    SELECT user_id, DATE(created_at) as date FROM subscription
)
SELECT TO_CHAR(date, 'YYYY-MM-DD') as date, COUNT(DISTINCT user_id) as value
FROM user_id_date
GROUP BY date
ORDER BY date DESC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getStatistic(ctx context.Context, request *StatisticRequest, dataItem *StatisticDataItem) ([]StatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyVideoCount:
		return s.getDailyVideoCount(ctx, request)
	case StatisticTypeDailyCreditsGranted:
		return s.getDailyCreditsGranted(ctx, request)
	case StatisticTypeDailyCreditsConsumed:
		return s.getDailyCreditsConsumed(ctx, request)
	case StatisticTypeTotalCreditsOutstanding:
		return s.getTotalCreditsOutstanding(ctx, request)
	case StatisticTypeActiveSubscriptionsByPlan:
		return s.getActiveSubscriptionsByPlan(ctx, request)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetDailyStatistic computes every requested data item concurrently. Items
// that a restricted filter does not apply to come back empty.
func (s *Service) GetDailyStatistic(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []StatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		go func(di *StatisticDataItem) {
			if !request.applicable(di.ID) {
				resChan <- &lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: di.ID, Value: nil}
				return
			}
			res, err := s.getStatistic(ctx, request, di)
			if err != nil {
				errChan <- fmt.Errorf("failed to compute %s: %w", di.ID, err)
				return
			}
			resChan <- &lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	results := make(map[StatisticType][]StatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			return nil, err
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &StatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
