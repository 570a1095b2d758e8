package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/entitlement"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/internal/platform/renderer"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/metrics"
	"github.com/fatflowers/clipmeter/pkg/tool"
	"github.com/fatflowers/clipmeter/pkg/types"
)

var (
	ErrVideoNotFound = errors.New("video not found")
	// ErrQuotaRace means the quota was used up between the decision and the
	// reservation by a concurrent request of the same user.
	ErrQuotaRace = errors.New("monthly video limit reached by a concurrent request")
	ErrInvalidRequest = errors.New("invalid generation request")
)

type Evaluator interface {
	Evaluate(ctx context.Context, userID string) (*entitlement.Evaluation, error)
}

type Committer interface {
	Commit(ctx context.Context, req entitlement.CommitRequest) (int64, error)
}

type Renderer interface {
	Submit(ctx context.Context, job renderer.Job) error
}

type Refunder interface {
	Credit(ctx context.Context, userID string, amount int64, kind types.CreditKind, description string, opts ...ledger.EntryOption) (int64, error)
}

type CreateRequest struct {
	UserID          string
	SessionID       string
	Prompt          string
	ImageURL        string
	DurationSeconds int
	Options         map[string]string
}

type CreateResult struct {
	State    AttemptState         `json:"state"`
	Decision entitlement.Decision `json:"decision"`
	Video    *models.Video        `json:"video,omitempty"`
	// CreditBalance is the balance after a credit debit, -1 when quota was spent.
	CreditBalance int64 `json:"credit_balance"`
}

// Callback is the renderer's report for one video.
type Callback struct {
	VideoID  string `json:"video_id" binding:"required"`
	Success  bool   `json:"success"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

type Service struct {
	store      Store
	evaluator  Evaluator
	committer  Committer
	renderer   Renderer
	refunds    Refunder
	defaultMax int
	log        *zap.SugaredLogger
}

func NewService(cfg *config.Config, store Store, evaluator Evaluator, committer Committer, r Renderer, refunds Refunder, log *zap.SugaredLogger) *Service {
	return &Service{
		store:      store,
		evaluator:  evaluator,
		committer:  committer,
		renderer:   r,
		refunds:    refunds,
		defaultMax: cfg.Generation.DefaultMaxClipSeconds,
		log:        log,
	}
}

// Create runs one attempt: decide, reserve, submit, commit. A denial is a
// result, not an error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	defer metrics.ObserveProcess("generation", "create", time.Now())
	lg := logctx.FromCtx(ctx, s.log)
	if req.UserID == "" || req.Prompt == "" || req.DurationSeconds <= 0 {
		return nil, ErrInvalidRequest
	}

	a := &attempt{state: StateIdle}
	res := &CreateResult{CreditBalance: -1}
	_ = a.move(StateDeciding)

	ev, err := s.evaluator.Evaluate(ctx, req.UserID)
	if err != nil {
		_ = a.move(StateFailed)
		return nil, err
	}
	d := ev.Decision
	if d.Allowed {
		if limit := entitlement.MaxClipSeconds(ev.Inputs, s.defaultMax); limit > 0 && req.DurationSeconds > limit {
			d = entitlement.Decision{
				Reason: fmt.Sprintf("clip duration %ds exceeds the %ds limit.", req.DurationSeconds, limit),
				Code:   entitlement.CodeClipTooLong,
			}
		}
	}
	res.Decision = d
	if !d.Allowed {
		_ = a.move(StateDenied)
		res.State = a.state
		lg.Infow("generation_denied", "user_id", req.UserID, "code", d.Code)
		return res, nil
	}
	_ = a.move(StateAllowed)

	video := &models.Video{
		ID:                  tool.GenerateUUIDV7(),
		UserID:              req.UserID,
		Status:              models.VideoStatusProcessing,
		Prompt:              req.Prompt,
		ImageURL:            req.ImageURL,
		ClipDurationSeconds: req.DurationSeconds,
		FundedBy:            models.VideoFundingQuota,
		Extra:               map[string]any{},
	}
	for k, v := range req.Options {
		video.Extra[k] = v
	}
	var guard *QuotaGuard
	if d.SpendsCredits {
		video.FundedBy = models.VideoFundingCredit
	} else {
		guard = &QuotaGuard{Limit: ev.Inputs.Plan.MonthlyVideoLimit, Period: ev.Period}
	}
	if err := s.store.Reserve(ctx, video, guard, entitlement.CreditsPerVideo); err != nil {
		_ = a.move(StateFailed)
		lg.Warnw("generation_reserve_failed", "user_id", req.UserID, "channel", d.Channel(), "err", err)
		return nil, err
	}
	res.Video = video

	_ = a.move(StateSubmitting)
	err = s.renderer.Submit(ctx, renderer.Job{
		VideoID:         video.ID,
		UserID:          video.UserID,
		Prompt:          video.Prompt,
		ImageURL:        video.ImageURL,
		DurationSeconds: video.ClipDurationSeconds,
		Options:         req.Options,
	})
	if err != nil {
		_ = a.move(StateFailed)
		res.State = a.state
		lg.Errorw("generation_submit_failed", "user_id", req.UserID, "video_id", video.ID, "err", err)
		if failed, ferr := s.store.MarkFailed(ctx, video.ID, "submit failed: "+err.Error()); ferr != nil {
			lg.Errorw("failed to mark video failed", "video_id", video.ID, "err", ferr)
		} else {
			res.Video = failed
		}
		return res, nil
	}

	// The renderer owns the job from here on; a caller hanging up must not
	// leave it rendering without its debit.
	ctx = context.WithoutCancel(ctx)
	balance, err := s.committer.Commit(ctx, entitlement.CommitRequest{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Decision:    d,
		ReferenceID: video.ID,
	})
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		// the render callback settled the debit first
		err = nil
	}
	if err != nil {
		_ = a.move(StateFailed)
		res.State = a.state
		lg.Errorw("generation_commit_failed", "user_id", req.UserID, "video_id", video.ID, "err", err)
		if failed, ferr := s.store.MarkFailed(ctx, video.ID, "commit failed"); ferr == nil {
			res.Video = failed
		}
		return res, nil
	}
	_ = a.move(StateCommitted)
	res.State = a.state
	res.CreditBalance = balance

	committed, err := s.store.MarkCommitted(ctx, video.ID)
	if err != nil {
		lg.Errorw("failed to mark video committed", "video_id", video.ID, "err", err)
		return res, nil
	}
	res.Video = committed
	// the renderer may already have reported a failure before the debit landed
	if committed.Status == models.VideoStatusFailed {
		s.refund(ctx, committed)
	}
	lg.Infow("generation_committed", "user_id", req.UserID, "video_id", video.ID, "channel", d.Channel())
	return res, nil
}

// HandleCallback records the render outcome. A success for a credit-funded
// video is only recorded once its debit is. Failed credit-funded videos that
// were already debited get one compensating refund; retries are harmless.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (*models.Video, error) {
	lg := logctx.FromCtx(ctx, s.log)
	var (
		v   *models.Video
		err error
	)
	if cb.Success {
		v, err = s.store.Get(ctx, cb.VideoID)
		if err != nil {
			return nil, err
		}
		if v, err = s.settle(ctx, v); err != nil {
			return nil, err
		}
		if v.Status == models.VideoStatusProcessing {
			v, err = s.store.Complete(ctx, cb.VideoID, cb.VideoURL)
		}
	} else {
		reason := cb.Error
		if reason == "" {
			reason = "render failed"
		}
		v, err = s.store.MarkFailed(ctx, cb.VideoID, reason)
	}
	if err != nil {
		return nil, err
	}
	lg.Infow("render_callback", "video_id", v.ID, "success", cb.Success, "status", v.Status)
	if v.Status == models.VideoStatusFailed {
		s.refund(ctx, v)
	}
	return v, nil
}

// settle debits a credit-funded video whose commit has not been recorded yet,
// so no render is delivered unpaid. A refused debit fails the video instead.
func (s *Service) settle(ctx context.Context, v *models.Video) (*models.Video, error) {
	if !v.SpendsCredits() || v.CommittedAt != nil || v.Status != models.VideoStatusProcessing {
		return v, nil
	}
	lg := logctx.FromCtx(ctx, s.log)
	_, err := s.committer.Commit(ctx, entitlement.CommitRequest{
		UserID:      v.UserID,
		Decision:    entitlement.Decision{Allowed: true, SpendsCredits: true},
		ReferenceID: v.ID,
	})
	switch {
	case err == nil, errors.Is(err, ledger.ErrDuplicateEntry):
		return s.store.MarkCommitted(ctx, v.ID)
	case errors.Is(err, ledger.ErrInsufficientCredit):
		lg.Warnw("render_callback_debit_refused", "user_id", v.UserID, "video_id", v.ID)
		return s.store.MarkFailed(ctx, v.ID, "credit debit failed")
	default:
		return nil, fmt.Errorf("failed to settle video %s: %w", v.ID, err)
	}
}

func (s *Service) refund(ctx context.Context, v *models.Video) {
	if !v.SpendsCredits() || v.CommittedAt == nil {
		return
	}
	lg := logctx.FromCtx(ctx, s.log)
	balance, err := s.refunds.Credit(ctx, v.UserID, entitlement.CreditsPerVideo, types.CreditKindRefund,
		"refund for failed video", ledger.WithReference(v.ID))
	switch {
	case errors.Is(err, ledger.ErrDuplicateEntry):
	case err != nil:
		lg.Errorw("video_refund_failed", "user_id", v.UserID, "video_id", v.ID, "err", err)
	default:
		lg.Infow("video_refunded", "user_id", v.UserID, "video_id", v.ID, "balance", balance)
	}
}

func (s *Service) List(ctx context.Context, userID string, offset, limit int) ([]*models.Video, int64, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	if limit > ledger.MaxListLimit {
		limit = ledger.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, userID, offset, limit)
}

// Delete hides the video from the owner. It keeps counting toward the quota
// of its period.
func (s *Service) Delete(ctx context.Context, userID, videoID string) error {
	if !tool.IsUUID(videoID) {
		return ErrVideoNotFound
	}
	return s.store.SoftDelete(ctx, userID, videoID)
}

var Module = fx.Options(
	fx.Provide(
		NewGormStore,
		func(cfg *config.Config, store Store, ev *entitlement.Service, c *entitlement.Committer, r *renderer.Client, l *ledger.Service, log *zap.SugaredLogger) *Service {
			return NewService(cfg, store, ev, c, r, l, log)
		},
	),
)
