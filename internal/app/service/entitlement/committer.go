package entitlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/pkg/logctx"
)

var ErrCommitDenied = errors.New("cannot commit consumption for a denied decision")

type Debitor interface {
	Debit(ctx context.Context, userID string, amount int64, description string, opts ...ledger.EntryOption) (int64, error)
}

type UsageTracker interface {
	IncrementUsage(sessionID, userID string)
}

type CommitRequest struct {
	UserID    string
	SessionID string
	Decision  Decision
	// ReferenceID identifies the metered action; a second commit with the same
	// reference is rejected by the ledger.
	ReferenceID string
}

// Committer records the consequence of one successful metered action.
type Committer struct {
	ledger   Debitor
	sessions UsageTracker
	log      *zap.SugaredLogger
}

func NewCommitter(l Debitor, sessions UsageTracker, log *zap.SugaredLogger) *Committer {
	return &Committer{ledger: l, sessions: sessions, log: log}
}

// Commit spends exactly one unit from the channel chosen by the decision. Quota
// spend only bumps session display state since usage is derived from video
// rows; credit spend debits the ledger. It returns the new credit balance for
// credit spends and -1 otherwise.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (int64, error) {
	if !req.Decision.Allowed {
		return -1, ErrCommitDenied
	}
	lg := logctx.FromCtx(ctx, c.log)
	if !req.Decision.SpendsCredits {
		c.sessions.IncrementUsage(req.SessionID, req.UserID)
		lg.Infow("consumption_committed", "user_id", req.UserID, "channel", ChannelSubscription, "reference_id", req.ReferenceID)
		return -1, nil
	}
	balance, err := c.ledger.Debit(ctx, req.UserID, CreditsPerVideo, "video creation", ledger.WithReference(req.ReferenceID))
	if err != nil {
		return -1, fmt.Errorf("failed to debit credits: %w", err)
	}
	lg.Infow("consumption_committed", "user_id", req.UserID, "channel", ChannelCredits, "reference_id", req.ReferenceID, "balance", balance)
	return balance, nil
}
