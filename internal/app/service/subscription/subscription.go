package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/tool"
	"github.com/fatflowers/clipmeter/pkg/types"
)

var ErrMissingUserID = errors.New("subscription record has no user id")

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// ProcessorRecord is a subscription state reported by the payment processor.
type ProcessorRecord struct {
	EventID string
	// EventTime is when the processor created the event; zero when unknown.
	EventTime              time.Time
	UserID                 string
	ProviderSubscriptionID string
	CustomerID             string
	Status                 types.SubscriptionStatus
	PriceID                *string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      bool
	Deleted                bool
}

// Get returns the stored subscription or nil when the user has none.
func (s *Service) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// LoadSnapshot returns the caller's subscription snapshot. A missing record is
// reported as status none; store failures are returned as errors.
func (s *Service) LoadSnapshot(ctx context.Context, userID string) (*types.SubscriptionSnapshot, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sub.Snapshot(), nil
}

// FindUserID resolves the owner of a processor subscription id.
func (s *Service) FindUserID(ctx context.Context, providerSubscriptionID string) (string, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Select("user_id").
		Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find subscription owner: %w", err)
	}
	return sub.UserID, nil
}

// UpsertFromProcessor stores rec as the user's subscription and appends a
// subscription log row. Records identical to the stored state, and records
// from events older than the last applied one, are ignored and reported with
// updated=false.
func (s *Service) UpsertFromProcessor(ctx context.Context, rec *ProcessorRecord) (sub *models.Subscription, reason types.SubscriptionChangeReason, updated bool, err error) {
	if rec == nil || rec.UserID == "" {
		return nil, "", false, ErrMissingUserID
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var original models.Subscription
		var before *models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", rec.UserID).First(&original).Error
		switch {
		case err == nil:
			before = &original
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to get original subscription: %w", err)
		}

		if stale(before, rec) {
			logctx.FromCtx(ctx, s.log).Infow("subscription_event_stale",
				"user_id", rec.UserID, "event_id", rec.EventID, "event_time", rec.EventTime, "last_event_at", before.LastEventAt)
			sub = before
			return nil
		}
		after := apply(before, rec)
		if before != nil && sameState(before, after) {
			sub = before
			return nil
		}
		reason = ChangeReason(before, after, rec.Deleted)

		if err := tx.Save(after).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
		log := &models.SubscriptionLog{
			ID:      tool.GenerateUUIDV7(),
			UserID:  after.UserID,
			Reason:  reason,
			EventID: rec.EventID,
			Before:  datatypes.NewJSONType(before),
			After:   datatypes.NewJSONType(after),
			Extra:   datatypes.JSONMap{"provider_subscription_id": rec.ProviderSubscriptionID},
		}
		if err := tx.Create(log).Error; err != nil {
			return fmt.Errorf("failed to save subscription log: %w", err)
		}
		sub, updated = after, true
		return nil
	})
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to UpsertFromProcessor: %w", err)
	}
	if updated {
		logctx.FromCtx(ctx, s.log).Infow("subscription_changed",
			"user_id", sub.UserID, "reason", reason, "status", sub.Status, "price_id", sub.PriceID)
	}
	return sub, reason, updated, nil
}

func apply(before *models.Subscription, rec *ProcessorRecord) *models.Subscription {
	after := &models.Subscription{ID: tool.GenerateUUIDV7(), Extra: datatypes.JSON("{}")}
	if before != nil {
		cp := *before
		after = &cp
	}
	after.UserID = rec.UserID
	after.ProviderSubscriptionID = rec.ProviderSubscriptionID
	if rec.CustomerID != "" {
		after.CustomerID = rec.CustomerID
	}
	after.Status = rec.Status
	if rec.Deleted {
		after.Status = types.SubscriptionStatusCanceled
	}
	if rec.PriceID != nil {
		after.PriceID = rec.PriceID
	}
	after.CurrentPeriodStart = rec.PeriodStart
	after.CurrentPeriodEnd = rec.PeriodEnd
	after.CancelAtPeriodEnd = rec.CancelAtPeriodEnd
	if !rec.EventTime.IsZero() {
		after.LastEventAt = &rec.EventTime
	}
	return after
}

// stale reports whether rec comes from an event created before the one that
// produced the stored state. Events within the same second are applied.
func stale(before *models.Subscription, rec *ProcessorRecord) bool {
	if before == nil || before.LastEventAt == nil || rec.EventTime.IsZero() {
		return false
	}
	return rec.EventTime.Before(*before.LastEventAt)
}

func sameState(a, b *models.Subscription) bool {
	return a.Status == b.Status &&
		a.ProviderSubscriptionID == b.ProviderSubscriptionID &&
		a.CancelAtPeriodEnd == b.CancelAtPeriodEnd &&
		equalStr(a.PriceID, b.PriceID) &&
		equalTime(a.CurrentPeriodStart, b.CurrentPeriodStart) &&
		equalTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd)
}

// ChangeReason classifies a transition for the subscription log.
func ChangeReason(before, after *models.Subscription, deleted bool) types.SubscriptionChangeReason {
	switch {
	case deleted || after.Status == types.SubscriptionStatusCanceled:
		return types.SubscriptionChangeReasonCancel
	case after.Status == types.SubscriptionStatusPastDue:
		return types.SubscriptionChangeReasonPaymentFailed
	case before == nil || !before.Status.Billable():
		if after.Status.Billable() {
			return types.SubscriptionChangeReasonPurchase
		}
		return types.SubscriptionChangeReasonUpdate
	case before.CurrentPeriodEnd != nil && after.CurrentPeriodEnd != nil &&
		after.CurrentPeriodEnd.After(*before.CurrentPeriodEnd) && equalStr(before.PriceID, after.PriceID):
		return types.SubscriptionChangeReasonRenew
	default:
		return types.SubscriptionChangeReasonUpdate
	}
}

func equalStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
