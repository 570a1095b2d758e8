package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/entitlement"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/internal/platform/renderer"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/types"
)

var now = time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

type memStore struct {
	videos     map[string]*models.Video
	guard      *QuotaGuard
	reserveErr error
}

func newMemStore() *memStore {
	return &memStore{videos: map[string]*models.Video{}}
}

func (m *memStore) Reserve(_ context.Context, v *models.Video, guard *QuotaGuard, _ int64) error {
	if m.reserveErr != nil {
		return m.reserveErr
	}
	m.guard = guard
	cp := *v
	m.videos[v.ID] = &cp
	return nil
}

func (m *memStore) update(id string, from models.VideoStatus, fn func(v *models.Video)) (*models.Video, error) {
	v, ok := m.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	if from == "" || v.Status == from {
		fn(v)
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) MarkFailed(ctx context.Context, id, reason string) (*models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.update(id, models.VideoStatusProcessing, func(v *models.Video) {
		v.Status = models.VideoStatusFailed
		v.FailureReason = &reason
	})
}

func (m *memStore) MarkCommitted(ctx context.Context, id string) (*models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.update(id, "", func(v *models.Video) {
		t := now
		v.CommittedAt = &t
	})
}

func (m *memStore) Complete(_ context.Context, id, url string) (*models.Video, error) {
	return m.update(id, models.VideoStatusProcessing, func(v *models.Video) {
		v.Status = models.VideoStatusCompleted
		v.VideoURL = &url
	})
}

func (m *memStore) Get(_ context.Context, id string) (*models.Video, error) {
	if v, ok := m.videos[id]; ok {
		return v, nil
	}
	return nil, ErrVideoNotFound
}

func (m *memStore) List(_ context.Context, userID string, _, _ int) ([]*models.Video, int64, error) {
	var out []*models.Video
	for _, v := range m.videos {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memStore) SoftDelete(_ context.Context, _, id string) error {
	if _, ok := m.videos[id]; !ok {
		return ErrVideoNotFound
	}
	delete(m.videos, id)
	return nil
}

type stubEvaluator struct {
	ev  *entitlement.Evaluation
	err error
}

func (s *stubEvaluator) Evaluate(context.Context, string) (*entitlement.Evaluation, error) {
	return s.ev, s.err
}

type stubCommitter struct {
	calls   []entitlement.CommitRequest
	err     error
	debited map[string]bool
}

func (s *stubCommitter) Commit(ctx context.Context, req entitlement.CommitRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	s.calls = append(s.calls, req)
	if s.err != nil {
		return -1, s.err
	}
	if !req.Decision.SpendsCredits {
		return -1, nil
	}
	if s.debited[req.ReferenceID] {
		return -1, fmt.Errorf("failed to debit credits: %w", ledger.ErrDuplicateEntry)
	}
	if s.debited == nil {
		s.debited = map[string]bool{}
	}
	s.debited[req.ReferenceID] = true
	return 4, nil
}

type stubRenderer struct {
	jobs []renderer.Job
	err  error
	// onSubmit runs after the job was accepted.
	onSubmit func(job renderer.Job)
}

func (s *stubRenderer) Submit(_ context.Context, job renderer.Job) error {
	s.jobs = append(s.jobs, job)
	if s.err == nil && s.onSubmit != nil {
		s.onSubmit(job)
	}
	return s.err
}

type stubRefunder struct {
	refs []string
}

func (s *stubRefunder) Credit(_ context.Context, _ string, _ int64, kind types.CreditKind, _ string, opts ...ledger.EntryOption) (int64, error) {
	e := &ledger.Entry{Kind: kind}
	for _, opt := range opts {
		opt(e)
	}
	for _, r := range s.refs {
		if r == *e.ReferenceID {
			return 0, ledger.ErrDuplicateEntry
		}
	}
	s.refs = append(s.refs, *e.ReferenceID)
	return 1, nil
}

var starter = &types.Plan{ID: types.PlanStarter, MonthlyVideoLimit: 20, MaxClipDurationSeconds: 10}

func evaluation(d entitlement.Decision, withPlan bool) *entitlement.Evaluation {
	end := now.Add(10 * 24 * time.Hour)
	in := entitlement.Inputs{
		Snapshot:      &types.SubscriptionSnapshot{Status: types.SubscriptionStatusActive, PeriodEnd: &end},
		CreditBalance: 5,
		Now:           now,
	}
	if withPlan {
		in.Plan = starter
	} else {
		in.Snapshot = types.NoSubscription()
	}
	return &entitlement.Evaluation{
		Inputs:   in,
		Period:   types.Period{Start: now.AddDate(0, 0, -20), End: end},
		Decision: d,
	}
}

type fixture struct {
	svc       *Service
	store     *memStore
	committer *stubCommitter
	renderer  *stubRenderer
	refunds   *stubRefunder
}

func newFixture(ev *entitlement.Evaluation) *fixture {
	cfg := &config.Config{}
	cfg.Generation.DefaultMaxClipSeconds = 8
	f := &fixture{
		store:     newMemStore(),
		committer: &stubCommitter{},
		renderer:  &stubRenderer{},
		refunds:   &stubRefunder{},
	}
	f.svc = NewService(cfg, f.store, &stubEvaluator{ev: ev}, f.committer, f.renderer, f.refunds, zap.NewNop().Sugar())
	return f
}

func request() CreateRequest {
	return CreateRequest{UserID: "u1", SessionID: "s1", Prompt: "a cat surfing", DurationSeconds: 5}
}

func TestCreate_QuotaCommitted(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true}, true))

	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StateCommitted, res.State)
	require.Equal(t, int64(-1), res.CreditBalance)
	require.Equal(t, models.VideoFundingQuota, res.Video.FundedBy)
	require.NotNil(t, res.Video.CommittedAt)

	require.NotNil(t, f.store.guard)
	require.Equal(t, int64(20), f.store.guard.Limit)

	require.Len(t, f.renderer.jobs, 1)
	require.Equal(t, res.Video.ID, f.renderer.jobs[0].VideoID)
	require.Len(t, f.committer.calls, 1)
	require.Equal(t, res.Video.ID, f.committer.calls[0].ReferenceID)
	require.Equal(t, "s1", f.committer.calls[0].SessionID)
}

func TestCreate_CreditCommitted(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true, SpendsCredits: true}, false))

	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StateCommitted, res.State)
	require.Equal(t, int64(4), res.CreditBalance)
	require.Equal(t, models.VideoFundingCredit, res.Video.FundedBy)
	require.Nil(t, f.store.guard, "credit reservations are not quota guarded")
}

func TestCreate_DeniedReservesNothing(t *testing.T) {
	d := entitlement.Decision{Reason: entitlement.ReasonNoActiveSubscription, Code: entitlement.CodeNoActiveSubscription}
	f := newFixture(evaluation(d, false))

	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StateDenied, res.State)
	require.Equal(t, entitlement.CodeNoActiveSubscription, res.Decision.Code)
	require.Nil(t, res.Video)
	require.Empty(t, f.store.videos)
	require.Empty(t, f.renderer.jobs)
	require.Empty(t, f.committer.calls)
}

func TestCreate_ClipTooLong(t *testing.T) {
	cases := map[string]struct {
		ev       *entitlement.Evaluation
		duration int
	}{
		"plan limit":    {evaluation(entitlement.Decision{Allowed: true}, true), 11},
		"default limit": {evaluation(entitlement.Decision{Allowed: true, SpendsCredits: true}, false), 9},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(tc.ev)
			req := request()
			req.DurationSeconds = tc.duration

			res, err := f.svc.Create(context.Background(), req)
			require.NoError(t, err)
			require.Equal(t, StateDenied, res.State)
			require.Equal(t, entitlement.CodeClipTooLong, res.Decision.Code)
			require.Empty(t, f.store.videos)
		})
	}
}

func TestCreate_SubmitFailureDoesNotCommit(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true, SpendsCredits: true}, false))
	f.renderer.err = errors.New("renderer down")

	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, models.VideoStatusFailed, res.Video.Status)
	require.Empty(t, f.committer.calls)
	require.Empty(t, f.refunds.refs)
}

func TestCreate_ReserveErrorsPropagate(t *testing.T) {
	for _, want := range []error{ErrQuotaRace, ledger.ErrInsufficientCredit} {
		f := newFixture(evaluation(entitlement.Decision{Allowed: true}, true))
		f.store.reserveErr = want

		_, err := f.svc.Create(context.Background(), request())
		require.ErrorIs(t, err, want)
		require.Empty(t, f.renderer.jobs)
	}
}

func TestCreate_EvaluationErrorPropagates(t *testing.T) {
	f := newFixture(nil)
	f.svc.evaluator = &stubEvaluator{err: entitlement.ErrLookupFailed}

	_, err := f.svc.Create(context.Background(), request())
	require.ErrorIs(t, err, entitlement.ErrLookupFailed)
}

func TestCreate_InvalidRequest(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true}, true))
	req := request()
	req.Prompt = ""
	_, err := f.svc.Create(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHandleCallback_RefundsCommittedCreditVideoOnce(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true, SpendsCredits: true}, false))
	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)

	cb := Callback{VideoID: res.Video.ID, Error: "gpu oom"}
	v, err := f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, models.VideoStatusFailed, v.Status)
	require.Equal(t, []string{res.Video.ID}, f.refunds.refs)

	_, err = f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.Len(t, f.refunds.refs, 1)
}

func TestHandleCallback_QuotaFailureNoRefund(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true}, true))
	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)

	_, err = f.svc.HandleCallback(context.Background(), Callback{VideoID: res.Video.ID})
	require.NoError(t, err)
	require.Empty(t, f.refunds.refs)
}

func TestHandleCallback_Success(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true}, true))
	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)

	v, err := f.svc.HandleCallback(context.Background(), Callback{VideoID: res.Video.ID, Success: true, VideoURL: "https://cdn/x.mp4"})
	require.NoError(t, err)
	require.Equal(t, models.VideoStatusCompleted, v.Status)
	require.Equal(t, "https://cdn/x.mp4", *v.VideoURL)

	// a late failure report does not undo a completed render
	v, err = f.svc.HandleCallback(context.Background(), Callback{VideoID: res.Video.ID})
	require.NoError(t, err)
	require.Equal(t, models.VideoStatusCompleted, v.Status)
}

func TestCreate_CommitSurvivesCallerCancel(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true, SpendsCredits: true}, false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.renderer.onSubmit = func(renderer.Job) { cancel() }

	res, err := f.svc.Create(ctx, request())
	require.NoError(t, err)
	require.Equal(t, StateCommitted, res.State)
	require.Equal(t, int64(4), res.CreditBalance)
	require.NotNil(t, res.Video.CommittedAt)
	require.Len(t, f.committer.calls, 1)
	require.True(t, f.committer.debited[res.Video.ID])
}

func TestCreate_CallbackDebitsBeforeCommit(t *testing.T) {
	f := newFixture(evaluation(entitlement.Decision{Allowed: true, SpendsCredits: true}, false))
	var completed *models.Video
	f.renderer.onSubmit = func(job renderer.Job) {
		v, err := f.svc.HandleCallback(context.Background(), Callback{VideoID: job.VideoID, Success: true, VideoURL: "https://cdn/y.mp4"})
		require.NoError(t, err)
		completed = v
	}

	res, err := f.svc.Create(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, models.VideoStatusCompleted, completed.Status)
	require.NotNil(t, completed.CommittedAt)

	// the second commit for the same video is a duplicate, not a second debit
	require.Equal(t, StateCommitted, res.State)
	require.Len(t, f.committer.calls, 2)
	require.Len(t, f.committer.debited, 1)
	require.Equal(t, models.VideoStatusCompleted, res.Video.Status)
}

func TestHandleCallback_DebitsUncommittedCreditVideo(t *testing.T) {
	f := newFixture(nil)
	f.store.videos["v1"] = &models.Video{ID: "v1", UserID: "u1", Status: models.VideoStatusProcessing, FundedBy: models.VideoFundingCredit}

	v, err := f.svc.HandleCallback(context.Background(), Callback{VideoID: "v1", Success: true, VideoURL: "https://cdn/z.mp4"})
	require.NoError(t, err)
	require.Equal(t, models.VideoStatusCompleted, v.Status)
	require.NotNil(t, v.CommittedAt)
	require.Len(t, f.committer.calls, 1)
	require.Equal(t, "v1", f.committer.calls[0].ReferenceID)
	require.True(t, f.committer.calls[0].Decision.SpendsCredits)
}

func TestHandleCallback_RefusedDebitFailsVideo(t *testing.T) {
	f := newFixture(nil)
	f.committer.err = fmt.Errorf("failed to debit credits: %w", ledger.ErrInsufficientCredit)
	f.store.videos["v1"] = &models.Video{ID: "v1", UserID: "u1", Status: models.VideoStatusProcessing, FundedBy: models.VideoFundingCredit}

	v, err := f.svc.HandleCallback(context.Background(), Callback{VideoID: "v1", Success: true, VideoURL: "https://cdn/z.mp4"})
	require.NoError(t, err)
	require.Equal(t, models.VideoStatusFailed, v.Status)
	require.Equal(t, "credit debit failed", *v.FailureReason)
	require.Nil(t, v.VideoURL)
	require.Empty(t, f.refunds.refs)
}

func TestHandleCallback_SettleErrorLeavesVideoProcessing(t *testing.T) {
	f := newFixture(nil)
	f.committer.err = errors.New("db down")
	f.store.videos["v1"] = &models.Video{ID: "v1", UserID: "u1", Status: models.VideoStatusProcessing, FundedBy: models.VideoFundingCredit}

	_, err := f.svc.HandleCallback(context.Background(), Callback{VideoID: "v1", Success: true})
	require.Error(t, err)
	require.Equal(t, models.VideoStatusProcessing, f.store.videos["v1"].Status)
}

func TestHandleCallback_UnknownVideo(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.HandleCallback(context.Background(), Callback{VideoID: "missing"})
	require.ErrorIs(t, err, ErrVideoNotFound)
}

func TestDelete_RejectsMalformedID(t *testing.T) {
	f := newFixture(nil)
	require.ErrorIs(t, f.svc.Delete(context.Background(), "u1", "nope"), ErrVideoNotFound)
}

func TestAttemptTransitions(t *testing.T) {
	a := &attempt{state: StateIdle}
	require.Error(t, a.move(StateCommitted))
	require.NoError(t, a.move(StateDeciding))
	require.NoError(t, a.move(StateAllowed))
	require.NoError(t, a.move(StateSubmitting))
	require.NoError(t, a.move(StateCommitted))
	require.True(t, a.state.Terminal())
	require.Error(t, a.move(StateFailed))
}
