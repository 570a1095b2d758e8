package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fatflowers/clipmeter/internal/app/service/billing"
	"github.com/fatflowers/clipmeter/internal/app/service/session"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/metrics"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// ErrLookupFailed wraps any store failure while loading decision inputs. It is
// never reported as "no subscription" or "zero usage".
var ErrLookupFailed = errors.New("entitlement lookup failed")

type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, userID string) (*types.SubscriptionSnapshot, error)
}

type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
}

type UsageCounter interface {
	Count(ctx context.Context, userID string, period types.Period) (int64, error)
}

type PlanResolver interface {
	Resolve(priceID *string) *types.Plan
}

type SessionStore interface {
	Get(sessionID, userID string) session.State
	CacheSubscription(sessionID, userID string, snap *types.SubscriptionSnapshot, plan *types.Plan, usage int64)
	DismissBanner(sessionID, userID string)
}

// Evaluation is a decision together with the inputs it was made from.
type Evaluation struct {
	Inputs   Inputs
	Period   types.Period
	Decision Decision
}

type Service struct {
	subs     SnapshotLoader
	balances BalanceReader
	usage    UsageCounter
	plans    PlanResolver
	sessions SessionStore
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewService(subs SnapshotLoader, balances BalanceReader, usage UsageCounter, plans PlanResolver, sessions SessionStore, log *zap.SugaredLogger) *Service {
	return &Service{subs: subs, balances: balances, usage: usage, plans: plans, sessions: sessions, now: time.Now, log: log}
}

// Evaluate reads all inputs fresh and decides whether userID may create a video now.
func (s *Service) Evaluate(ctx context.Context, userID string) (*Evaluation, error) {
	now := s.now()
	var snap *types.SubscriptionSnapshot
	var balance, used int64
	var period types.Period

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if snap, err = s.subs.LoadSnapshot(gctx, userID); err != nil {
			return fmt.Errorf("%w: subscription: %w", ErrLookupFailed, err)
		}
		period = billing.CurrentPeriod(snap, now)
		if used, err = s.usage.Count(gctx, userID, period); err != nil {
			return fmt.Errorf("%w: usage: %w", ErrLookupFailed, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if balance, err = s.balances.GetBalance(gctx, userID); err != nil {
			return fmt.Errorf("%w: balance: %w", ErrLookupFailed, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("entitlement inputs unavailable", "user_id", userID, "err", err)
		return nil, err
	}

	in := Inputs{
		Snapshot:      snap,
		Plan:          s.plans.Resolve(snap.PriceID),
		UsageCount:    used,
		CreditBalance: balance,
		Now:           now,
	}
	d := Decide(in)
	metrics.EntitlementDecisionTotal.WithLabelValues(d.Outcome(), string(d.Channel())).Inc()
	logctx.FromCtx(ctx, s.log).Infow("entitlement_decided",
		"user_id", userID, "allowed", d.Allowed, "channel", d.Channel(), "code", d.Code,
		"usage", used, "balance", balance, "status", snap.Status)
	return &Evaluation{Inputs: in, Period: period, Decision: d}, nil
}

// CanCreateVideo is Evaluate reduced to its verdict.
func (s *Service) CanCreateVideo(ctx context.Context, userID string) (Decision, error) {
	ev, err := s.Evaluate(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return ev.Decision, nil
}

// Status is what the dashboard renders.
type Status struct {
	CurrentPlan        *types.Plan              `json:"current_plan"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	SubscriptionUsable bool                     `json:"subscription_usable"`
	PeriodStart        time.Time                `json:"period_start"`
	PeriodEnd          time.Time                `json:"period_end"`
	VideoLimit         int64                    `json:"video_limit"`
	VideosUsed         int64                    `json:"videos_used"`
	RemainingVideos    int64                    `json:"remaining_videos"`
	CreditBalance      int64                    `json:"credit_balance"`
	CanCreateVideo     Decision                 `json:"can_create_video"`
	BannerDismissed    bool                     `json:"banner_dismissed"`
	ShowUpgradeBanner  bool                     `json:"show_upgrade_banner"`
}

// GetStatus evaluates fresh and folds in per-session display state.
func (s *Service) GetStatus(ctx context.Context, userID, sessionID string) (*Status, error) {
	ev, err := s.Evaluate(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := s.sessions.Get(sessionID, userID)
	in := ev.Inputs
	used := in.UsageCount
	s.sessions.CacheSubscription(sessionID, userID, in.Snapshot, in.Plan, used)

	res := &Status{
		SubscriptionStatus: in.Snapshot.Status,
		SubscriptionUsable: in.QuotaUsable(),
		PeriodStart:        ev.Period.Start,
		PeriodEnd:          ev.Period.End,
		VideosUsed:         used,
		CreditBalance:      in.CreditBalance,
		CanCreateVideo:     ev.Decision,
		BannerDismissed:    st.BannerDismissed,
	}
	// The plan and its limit are shown whenever the price id resolves, so a
	// lapsed subscriber still sees what they had. Only usable quota remains.
	if in.Plan != nil {
		res.CurrentPlan = in.Plan
		res.VideoLimit = in.Plan.MonthlyVideoLimit
	}
	res.RemainingVideos = in.Remaining()
	res.ShowUpgradeBanner = !st.BannerDismissed && res.RemainingVideos == 0
	return res, nil
}

func (s *Service) DismissBanner(userID, sessionID string) {
	s.sessions.DismissBanner(sessionID, userID)
}

// HasFeature is true only while the subscription is usable and its plan
// carries feature.
func (s *Service) HasFeature(ctx context.Context, userID string, feature types.Feature) (bool, error) {
	snap, err := s.subs.LoadSnapshot(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: subscription: %w", ErrLookupFailed, err)
	}
	if !snap.Usable(s.now()) {
		return false, nil
	}
	return s.plans.Resolve(snap.PriceID).HasFeature(feature), nil
}
