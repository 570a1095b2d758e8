package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/app/service/usage"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// QuotaGuard bounds a quota-funded reservation: the period usage re-counted
// under the user lock must stay below Limit.
type QuotaGuard struct {
	Limit  int64
	Period types.Period
}

type Store interface {
	// Reserve inserts v as processing. With a guard the quota is re-checked,
	// otherwise the credit balance minus outstanding credit holds is.
	Reserve(ctx context.Context, v *models.Video, guard *QuotaGuard, price int64) error
	// MarkFailed moves a processing video to failed and returns its current row.
	MarkFailed(ctx context.Context, id, reason string) (*models.Video, error)
	MarkCommitted(ctx context.Context, id string) (*models.Video, error)
	Complete(ctx context.Context, id, videoURL string) (*models.Video, error)
	// Get includes soft-deleted rows.
	Get(ctx context.Context, id string) (*models.Video, error)
	List(ctx context.Context, userID string, offset, limit int) ([]*models.Video, int64, error)
	SoftDelete(ctx context.Context, userID, id string) error
}

type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Reserve(ctx context.Context, v *models.Video, guard *QuotaGuard, price int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "credit_balance").Where("id = ?", v.UserID).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}

		if guard != nil {
			used, err := usage.CountWithTx(ctx, tx, v.UserID, guard.Period)
			if err != nil {
				return err
			}
			if used >= guard.Limit {
				return ErrQuotaRace
			}
		} else {
			var held int64
			err := tx.Unscoped().Model(&models.Video{}).
				Where(clause.Where{Exprs: []clause.Expression{creditHolds(v.UserID)}}).
				Count(&held).Error
			if err != nil {
				return fmt.Errorf("failed to count credit holds: %w", err)
			}
			if u.CreditBalance-held*price < price {
				return ledger.ErrInsufficientCredit
			}
		}

		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("failed to create video: %w", err)
		}
		return nil
	})
}

// creditHolds matches credit-funded videos still awaiting their debit. A render
// can complete before its debit lands, so completed rows hold too.
func creditHolds(userID string) types.FiltersAnd {
	return types.FiltersAnd{
		types.NewEqFilter("user_id", userID),
		types.NewEqFilter("funded_by", models.VideoFundingCredit),
		types.NewEqFilter("committed_at", nil),
		types.NewNotEqFilter("status", models.VideoStatusFailed),
	}
}

func (s *gormStore) transition(ctx context.Context, id string, from models.VideoStatus, updates map[string]any) (*models.Video, error) {
	var v models.Video
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Unscoped().Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&v).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVideoNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load video: %w", err)
		}
		if from != "" && v.Status != from {
			return nil
		}
		if err := tx.Unscoped().Model(&v).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update video: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *gormStore) MarkFailed(ctx context.Context, id, reason string) (*models.Video, error) {
	return s.transition(ctx, id, models.VideoStatusProcessing, map[string]any{
		"status":         models.VideoStatusFailed,
		"failure_reason": reason,
	})
}

func (s *gormStore) MarkCommitted(ctx context.Context, id string) (*models.Video, error) {
	return s.transition(ctx, id, "", map[string]any{"committed_at": time.Now()})
}

func (s *gormStore) Complete(ctx context.Context, id, videoURL string) (*models.Video, error) {
	return s.transition(ctx, id, models.VideoStatusProcessing, map[string]any{
		"status":    models.VideoStatusCompleted,
		"video_url": videoURL,
	})
}

func (s *gormStore) Get(ctx context.Context, id string) (*models.Video, error) {
	var v models.Video
	err := s.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &v, nil
}

func (s *gormStore) List(ctx context.Context, userID string, offset, limit int) ([]*models.Video, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Video{}).Where("user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count videos: %w", err)
	}
	var rows []*models.Video
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list videos: %w", err)
	}
	return rows, total, nil
}

func (s *gormStore) SoftDelete(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Video{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVideoNotFound
	}
	return nil
}
