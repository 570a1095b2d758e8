package gift

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/app/service/user"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/internal/platform/mailer"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/tool"
	"github.com/fatflowers/clipmeter/pkg/types"
)

var (
	ErrUserNotFound    = errors.New("no user with that email")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type Crediter interface {
	Credit(ctx context.Context, userID string, amount int64, kind types.CreditKind, description string, opts ...ledger.EntryOption) (int64, error)
}

type Notifier interface {
	SendGiftNotice(ctx context.Context, n mailer.GiftNotice) error
}

type Request struct {
	Email    string `json:"email" binding:"required,email"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
	// Reference makes a retried gift idempotent; generated when empty.
	Reference string `json:"reference"`
}

type Result struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Quantity   int64  `json:"quantity"`
	NewBalance int64  `json:"new_balance"`
}

type Service struct {
	users  UserFinder
	ledger Crediter
	mail   Notifier
	log    *zap.SugaredLogger
}

func NewService(users UserFinder, l Crediter, mail Notifier, log *zap.SugaredLogger) *Service {
	return &Service{users: users, ledger: l, mail: mail, log: log}
}

// GiftCredits grants quantity credits to the user registered under email and
// notifies them in the background. operator is recorded on the ledger row.
func (s *Service) GiftCredits(ctx context.Context, req Request, operator string) (*Result, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find gift recipient: %w", err)
	}

	ref := req.Reference
	if ref == "" {
		ref = tool.GenerateUUIDV7()
	}
	balance, err := s.ledger.Credit(ctx, u.ID, req.Quantity, types.CreditKindGift,
		fmt.Sprintf("gift of %d credits", req.Quantity),
		ledger.WithReference(ref), ledger.WithExtra("operator", operator))
	if err != nil {
		return nil, fmt.Errorf("failed to credit gift: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("credits_gifted", "user_id", u.ID, "quantity", req.Quantity, "operator", operator, "balance", balance)

	notice := mailer.GiftNotice{Email: u.Email, Quantity: req.Quantity, Balance: balance}
	go func() {
		if err := s.mail.SendGiftNotice(context.WithoutCancel(ctx), notice); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("gift notice not sent", "user_id", u.ID, "err", err)
		}
	}()

	return &Result{UserID: u.ID, Email: u.Email, Quantity: req.Quantity, NewBalance: balance}, nil
}

var Module = fx.Options(
	fx.Provide(func(users *user.Service, l *ledger.Service, m *mailer.Mailer, log *zap.SugaredLogger) *Service {
		return NewService(users, l, m, log)
	}),
)
