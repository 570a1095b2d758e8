package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/types"
)

var ErrUserNotFound = errors.New("user not found")

// Identity is what the identity provider vouches for.
type Identity struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// Normalize lower-cases the email and applies configured admin emails.
func (id Identity) Normalize(cfg *config.Config) Identity {
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	if cfg != nil && cfg.IsAdminEmail(id.Email) {
		id.IsAdmin = true
	}
	return id
}

type Service struct {
	cfg *config.Config
	db  *gorm.DB
	log *zap.SugaredLogger
	// seen caches identities already provisioned by this process
	seen sync.Map
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, db: db, log: log}
}

// EnsureUser provisions the user on first authentication. Only the call that
// inserts the row grants the signup bonus, in the same transaction. Later
// calls refresh email and admin flag.
func (s *Service) EnsureUser(ctx context.Context, raw Identity) (created bool, err error) {
	id := raw.Normalize(s.cfg)
	if id.UserID == "" {
		return false, fmt.Errorf("identity has no user id")
	}
	if cached, ok := s.seen.Load(id.UserID); ok && cached.(Identity) == id {
		return false, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u := &models.User{ID: id.UserID, Email: id.Email, IsAdmin: id.IsAdmin}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(u)
		if res.Error != nil {
			return fmt.Errorf("failed to insert user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			err := tx.Model(&models.User{}).
				Where("id = ? AND (email <> ? OR is_admin <> ?)", id.UserID, id.Email, id.IsAdmin).
				Updates(map[string]any{"email": id.Email, "is_admin": id.IsAdmin}).Error
			if err != nil {
				return fmt.Errorf("failed to refresh user: %w", err)
			}
			return nil
		}
		created = true
		if bonus := s.cfg.Ledger.SignupBonus; bonus > 0 {
			_, err := ledger.ApplyWithTx(tx, &ledger.Entry{
				UserID:      id.UserID,
				Amount:      bonus,
				Kind:        types.CreditKindSignupBonus,
				Description: "signup bonus",
				ReferenceID: &id.UserID,
			})
			if err != nil {
				return fmt.Errorf("failed to grant signup bonus: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.seen.Store(id.UserID, id)
	if created {
		logctx.FromCtx(ctx, s.log).Infow("user_provisioned", "user_id", id.UserID, "signup_bonus", s.cfg.Ledger.SignupBonus)
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// FindByEmail matches case-insensitively.
func (s *Service) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrUserNotFound
	}
	var u models.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", email).Order("created_at").First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return &u, nil
}

type ListRequest struct {
	Offset int    `json:"offset"`
	Limit  int    `json:"limit" binding:"omitempty,min=1,max=200"`
	Search string `json:"search"`
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*models.User, int64, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	q := s.db.WithContext(ctx).Model(&models.User{})
	if term := strings.TrimSpace(req.Search); term != "" {
		q = q.Where("email ILIKE ? OR id = ?", "%"+term+"%", term)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}
	var users []*models.User
	if err := q.Order("created_at DESC").Offset(req.Offset).Limit(req.Limit).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
