package usage

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// Counter derives quota usage from persisted video rows.
type Counter struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewCounter(db *gorm.DB, log *zap.SugaredLogger) *Counter {
	return &Counter{db: db, log: log}
}

// CountedVideos is the filter for videos that consume quota in period: every
// row of the user created within [Start, End] whose render did not fail.
func CountedVideos(userID string, period types.Period) types.FiltersAnd {
	return types.FiltersAnd{
		types.NewEqFilter("user_id", userID),
		types.NewRangeFilter("created_at", period.Start, period.End),
		{Field: "status", Operator: types.CommonFilterOperatorNotEq, Values: []any{models.VideoStatusFailed}},
	}
}

// Count returns the number of quota-consuming videos in period. Soft-deleted
// videos are included. Query failures are returned, never reported as zero.
func (c *Counter) Count(ctx context.Context, userID string, period types.Period) (int64, error) {
	n, err := CountWithTx(ctx, c.db, userID, period)
	if err != nil {
		logctx.FromCtx(ctx, c.log).Errorw("usage count failed", "user_id", userID, "err", err)
		return 0, err
	}
	return n, nil
}

// CountWithTx runs the usage count on tx so it can participate in a locking transaction.
func CountWithTx(ctx context.Context, tx *gorm.DB, userID string, period types.Period) (int64, error) {
	var n int64
	err := tx.WithContext(ctx).Unscoped().Model(&models.Video{}).
		Where(clause.Where{Exprs: []clause.Expression{CountedVideos(userID, period)}}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count videos: %w", err)
	}
	return n, nil
}

var Module = fx.Options(
	fx.Provide(NewCounter),
)
