package ledger

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/metrics"
	"github.com/fatflowers/clipmeter/pkg/types"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type EntryOption func(*Entry)

// WithReference ties the entry to a business object. At most one entry per
// kind may carry the same reference.
func WithReference(id string) EntryOption {
	return func(e *Entry) {
		if id != "" {
			e.ReferenceID = &id
		}
	}
}

func WithExtra(key string, value any) EntryOption {
	return func(e *Entry) {
		if e.Extra == nil {
			e.Extra = map[string]any{}
		}
		e.Extra[key] = value
	}
}

// Service is the credit ledger: one balance per user plus an append-only list
// of signed transactions.
type Service struct {
	store Store
	log   *zap.SugaredLogger
}

func NewService(store Store, log *zap.SugaredLogger) *Service {
	return &Service{store: store, log: log}
}

func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	return s.store.Balance(ctx, userID)
}

// Debit removes amount credits for a video creation. It fails with
// ErrInsufficientCredit and leaves the balance unchanged when the balance is
// lower than amount.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, description string, opts ...EntryOption) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, newEntry(userID, -amount, types.CreditKindVideoCreation, description, opts))
}

// Credit adds amount credits of the given kind. There is no upper bound.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, kind types.CreditKind, description string, opts ...EntryOption) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if !kind.Valid() || kind == types.CreditKindVideoCreation {
		return 0, ErrInvalidKind
	}
	return s.apply(ctx, newEntry(userID, amount, kind, description, opts))
}

func newEntry(userID string, amount int64, kind types.CreditKind, description string, opts []EntryOption) *Entry {
	e := &Entry{UserID: userID, Amount: amount, Kind: kind, Description: description}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (s *Service) apply(ctx context.Context, e *Entry) (int64, error) {
	row, err := s.store.Apply(ctx, e)
	metrics.LedgerOperationTotal.WithLabelValues(string(e.Kind), resultLabel(err)).Inc()
	lg := logctx.FromCtx(ctx, s.log)
	if err != nil {
		lg.Infow("ledger_entry_refused", "user_id", e.UserID, "kind", e.Kind, "amount", e.Amount, "reason", resultLabel(err))
		return 0, err
	}
	lg.Infow("ledger_entry_applied", "user_id", e.UserID, "kind", e.Kind, "amount", e.Amount, "balance_after", row.BalanceAfter)
	return row.BalanceAfter, nil
}

// ListTransactions returns the user's rows, most recent first.
func (s *Service) ListTransactions(ctx context.Context, userID string, offset, limit int) ([]*models.CreditTransaction, int64, error) {
	return s.ListFiltered(ctx, types.FiltersAnd{types.NewEqFilter("user_id", userID)}, offset, limit)
}

func (s *Service) ListFiltered(ctx context.Context, filters types.FiltersAnd, offset, limit int) ([]*models.CreditTransaction, int64, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, filters, offset, limit)
}

type Reconciliation struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledger_sum"`
	Drift      int64  `json:"drift"`
	Consistent bool   `json:"consistent"`
}

func newReconciliation(b *UserBalance) *Reconciliation {
	drift := b.Balance - b.LedgerSum
	return &Reconciliation{UserID: b.UserID, Balance: b.Balance, LedgerSum: b.LedgerSum, Drift: drift, Consistent: drift == 0}
}

// Reconcile compares a user's stored balance with the sum of their ledger rows.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	res, err := s.store.Balances(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrUserNotFound
	}
	return newReconciliation(res[0]), nil
}

// ReconcileAll reports every user; callers filter on Consistent.
func (s *Service) ReconcileAll(ctx context.Context) ([]*Reconciliation, error) {
	res, err := s.store.Balances(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile: %w", err)
	}
	out := make([]*Reconciliation, 0, len(res))
	for _, b := range res {
		r := newReconciliation(b)
		if !r.Consistent {
			logctx.FromCtx(ctx, s.log).Warnw("ledger_drift", "user_id", r.UserID, "balance", r.Balance, "ledger_sum", r.LedgerSum)
		}
		out = append(out, r)
	}
	return out, nil
}

var Module = fx.Options(
	fx.Provide(NewGormStore, NewService),
)
