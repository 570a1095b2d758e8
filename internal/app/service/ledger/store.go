package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/tool"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// Entry is a signed balance change to be applied together with its ledger row.
type Entry struct {
	UserID      string
	Amount      int64
	Kind        types.CreditKind
	Description string
	ReferenceID *string
	Extra       map[string]any
}

type UserBalance struct {
	UserID    string `json:"user_id"`
	Balance   int64  `json:"balance"`
	LedgerSum int64  `json:"ledger_sum"`
}

// Store persists balances and ledger rows. Apply must change the balance and
// append the row atomically, and must refuse changes that would make the
// balance negative.
type Store interface {
	Apply(ctx context.Context, e *Entry) (*models.CreditTransaction, error)
	Balance(ctx context.Context, userID string) (int64, error)
	List(ctx context.Context, filters types.FiltersAnd, offset, limit int) ([]*models.CreditTransaction, int64, error)
	Balances(ctx context.Context, userID string) ([]*UserBalance, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Apply(ctx context.Context, e *Entry) (*models.CreditTransaction, error) {
	var row *models.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = ApplyWithTx(tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ApplyWithTx applies e inside an existing transaction. The balance update is a
// single conditional statement so concurrent debits cannot overdraw.
func ApplyWithTx(tx *gorm.DB, e *Entry) (*models.CreditTransaction, error) {
	var u models.User
	res := tx.Model(&u).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "credit_balance"}}}).
		Where("id = ? AND credit_balance + ? >= 0", e.UserID, e.Amount).
		UpdateColumn("credit_balance", gorm.Expr("credit_balance + ?", e.Amount))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := tx.Model(&models.User{}).Where("id = ?", e.UserID).Count(&exists).Error; err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		if exists == 0 {
			return nil, ErrUserNotFound
		}
		// a retried debit that already landed reads as a duplicate, not as an overdraw
		if e.ReferenceID != nil {
			var recorded int64
			err := tx.Model(&models.CreditTransaction{}).
				Where("kind = ? AND reference_id = ?", e.Kind, *e.ReferenceID).
				Count(&recorded).Error
			if err != nil {
				return nil, fmt.Errorf("failed to look up credit transaction: %w", err)
			}
			if recorded > 0 {
				return nil, ErrDuplicateEntry
			}
		}
		return nil, ErrInsufficientCredit
	}

	row := &models.CreditTransaction{
		ID:           tool.GenerateUUIDV7(),
		UserID:       e.UserID,
		Amount:       e.Amount,
		Kind:         e.Kind,
		Description:  e.Description,
		BalanceAfter: u.CreditBalance,
		ReferenceID:  e.ReferenceID,
		Extra:        datatypes.JSONMap(e.Extra),
	}
	if row.Extra == nil {
		row.Extra = datatypes.JSONMap{}
	}
	if err := tx.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateEntry
		}
		return nil, fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return row, nil
}

func (s *gormStore) Balance(ctx context.Context, userID string) (int64, error) {
	var u models.User
	err := s.db.WithContext(ctx).Select("credit_balance").Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load balance: %w", err)
	}
	return u.CreditBalance, nil
}

func (s *gormStore) List(ctx context.Context, filters types.FiltersAnd, offset, limit int) ([]*models.CreditTransaction, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where(clause.Where{Exprs: []clause.Expression{filters}})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count credit transactions: %w", err)
	}
	var rows []*models.CreditTransaction
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	return rows, total, nil
}

func (s *gormStore) Balances(ctx context.Context, userID string) ([]*UserBalance, error) {
	q := s.db.WithContext(ctx).Table((models.User{}).TableName()+" AS u").
		Select("u.id AS user_id, u.credit_balance AS balance, COALESCE(SUM(t.amount), 0) AS ledger_sum").
		Joins("LEFT JOIN " + (models.CreditTransaction{}).TableName() + " t ON t.user_id = u.id").
		Group("u.id, u.credit_balance").
		Order("u.id")
	if userID != "" {
		q = q.Where("u.id = ?", userID)
	}
	var res []*UserBalance
	if err := q.Scan(&res).Error; err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	return res, nil
}
