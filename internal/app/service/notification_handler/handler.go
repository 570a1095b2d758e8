package notification_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v74"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	notificationlog "github.com/fatflowers/clipmeter/internal/app/service/notification_log"
	"github.com/fatflowers/clipmeter/internal/app/service/subscription"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/types"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownPack      = errors.New("unknown credit pack")
)

type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type LogSaver interface {
	Save(ctx context.Context, log *models.PaymentNotificationLog)
}

type SubscriptionStore interface {
	OwnerFinder
	UpsertFromProcessor(ctx context.Context, rec *subscription.ProcessorRecord) (*models.Subscription, types.SubscriptionChangeReason, bool, error)
}

type Crediter interface {
	Credit(ctx context.Context, userID string, amount int64, kind types.CreditKind, description string, opts ...ledger.EntryOption) (int64, error)
}

type NotificationHandler struct {
	cfg      *config.Config
	verifier EventVerifier
	notifSvc LogSaver
	subSvc   SubscriptionStore
	ledger   Crediter
	Logger   *zap.SugaredLogger
}

func NewNotificationHandler(cfg *config.Config, verifier EventVerifier, notif LogSaver, sub SubscriptionStore, l Crediter, log *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{cfg: cfg, verifier: verifier, notifSvc: notif, subSvc: sub, ledger: l, Logger: log}
}

// HandleStripe verifies and processes one webhook delivery. Unverifiable
// payloads are rejected without being logged.
func (h *NotificationHandler) HandleStripe(ctx context.Context, payload []byte, signature string) error {
	event, err := h.verifier.ConstructEvent(payload, signature)
	if err != nil {
		logctx.FromCtx(ctx, h.Logger).Warnw("stripe webhook rejected", "err", err)
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return h.HandleStripeEvent(ctx, event)
}

// HandleStripeEvent processes a verified event. Every event is logged as
// received and then as handled, handle_failed or ignored.
func (h *NotificationHandler) HandleStripeEvent(ctx context.Context, event stripe.Event) (resErr error) {
	lg := logctx.FromCtx(ctx, h.Logger)
	parser, err := NewStripeNotificationParser(event, h.subSvc)
	if err != nil {
		return err
	}

	var userID string
	if v, e := parser.GetUserID(ctx); e == nil {
		userID = v
	}
	dataBytes, _ := json.Marshal(parser.GetData())
	base := models.PaymentNotificationLog{
		ProviderID: parser.GetProvider(),
		EventID:    parser.GetEventID(),
		EventType:  parser.GetEventType(),
		UserID: func() *string {
			if userID == "" {
				return nil
			}
			return lo.ToPtr(userID)
		}(),
		TraceID: logctx.TraceID(ctx),
		Data:    datatypes.JSON(dataBytes),
	}

	received := base
	received.NotificationTime = parser.GetNotificationTime()
	received.Status = models.PaymentNotificationLogStatusReceived
	h.notifSvc.Save(ctx, &received)

	var result any
	ignored := false
	defer func() {
		resMap := map[string]any{"result": result}
		if resErr != nil {
			resMap["error"] = resErr.Error()
		}
		resBytes, _ := json.Marshal(resMap)
		status := models.PaymentNotificationLogStatusHandled
		switch {
		case resErr != nil:
			status = models.PaymentNotificationLogStatusHandleFailed
		case ignored:
			status = models.PaymentNotificationLogStatusIgnored
		}
		done := base
		done.NotificationTime = time.Now()
		done.Result = lo.ToPtr(datatypes.JSON(resBytes))
		done.Status = status
		h.notifSvc.Save(ctx, &done)
	}()

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		rec, err := parser.GetSubscriptionRecord(ctx)
		if err != nil {
			return fmt.Errorf("failed to parse subscription: %w", err)
		}
		sub, reason, updated, err := h.subSvc.UpsertFromProcessor(ctx, rec)
		if err != nil {
			lg.Errorw("subscription upsert failed", "event_id", event.ID, "err", err)
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
		result = map[string]any{"subscription": sub, "reason": reason, "updated": updated}
		lg.Infow("subscription_synced", "event_id", event.ID, "user_id", rec.UserID, "reason", reason, "updated", updated)
		return nil

	case EventCheckoutSessionPaid:
		purchase, err := parser.GetCreditPurchase(ctx)
		if err != nil {
			return fmt.Errorf("failed to parse checkout: %w", err)
		}
		if purchase == nil {
			ignored = true
			return nil
		}
		balance, err := h.grantPurchase(ctx, purchase)
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			lg.Infow("credit purchase already granted", "session_id", purchase.SessionID)
			result = map[string]any{"duplicate": true}
			return nil
		}
		if err != nil {
			return err
		}
		result = map[string]any{"pack_id": purchase.PackID, "balance": balance}
		return nil

	default:
		ignored = true
		return nil
	}
}

func (h *NotificationHandler) grantPurchase(ctx context.Context, p *CreditPurchase) (int64, error) {
	if p.UserID == "" {
		return 0, fmt.Errorf("checkout %s has no user id", p.SessionID)
	}
	pack := h.cfg.GetCreditPackByID(p.PackID)
	if pack == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPack, p.PackID)
	}
	balance, err := h.ledger.Credit(ctx, p.UserID, pack.Credits, types.CreditKindPurchase,
		fmt.Sprintf("credit pack %s", pack.ID),
		ledger.WithReference(p.SessionID), ledger.WithExtra("pack_id", pack.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to grant credit pack: %w", err)
	}
	logctx.FromCtx(ctx, h.Logger).Infow("credit_pack_purchased", "user_id", p.UserID, "pack_id", pack.ID, "balance", balance)
	return balance, nil
}

var Module = fx.Options(
	fx.Provide(func(cfg *config.Config, c *stripeapi.Client, notif *notificationlog.Service, sub *subscription.Service, l *ledger.Service, log *zap.SugaredLogger) *NotificationHandler {
		return NewNotificationHandler(cfg, c, notif, sub, l, log)
	}),
)
