package notification_handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v74"

	"github.com/fatflowers/clipmeter/internal/app/service/subscription"
	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	"github.com/fatflowers/clipmeter/pkg/types"
)

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventCheckoutSessionPaid = "checkout.session.completed"
)

// OwnerFinder resolves a processor subscription id to a user when the event
// carries no user metadata.
type OwnerFinder interface {
	FindUserID(ctx context.Context, providerSubscriptionID string) (string, error)
}

// CreditPurchase is a paid credit-pack checkout.
type CreditPurchase struct {
	SessionID string
	UserID    string
	PackID    string
}

type StripeNotificationParser struct {
	event    stripe.Event
	owners   OwnerFinder
	sub      *stripe.Subscription
	checkout *stripe.CheckoutSession
}

func NewStripeNotificationParser(event stripe.Event, owners OwnerFinder) (*StripeNotificationParser, error) {
	p := &StripeNotificationParser{event: event, owners: owners}
	if event.Data == nil {
		return p, nil
	}
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		p.sub = &stripe.Subscription{}
		if err := json.Unmarshal(event.Data.Raw, p.sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription event: %w", err)
		}
	case EventCheckoutSessionPaid:
		p.checkout = &stripe.CheckoutSession{}
		if err := json.Unmarshal(event.Data.Raw, p.checkout); err != nil {
			return nil, fmt.Errorf("failed to decode checkout event: %w", err)
		}
	}
	return p, nil
}

func (p *StripeNotificationParser) GetProvider() types.PaymentProvider {
	return types.PaymentProviderStripe
}

func (p *StripeNotificationParser) GetEventID() string { return p.event.ID }

func (p *StripeNotificationParser) GetEventType() string { return p.event.Type }

func (p *StripeNotificationParser) GetNotificationTime() time.Time {
	if p.event.Created == 0 {
		return time.Now()
	}
	return time.Unix(p.event.Created, 0).UTC()
}

func (p *StripeNotificationParser) GetUserID(ctx context.Context) (string, error) {
	switch {
	case p.sub != nil:
		if id := p.sub.Metadata[stripeapi.MetadataUserID]; id != "" {
			return id, nil
		}
		if p.owners == nil {
			return "", nil
		}
		return p.owners.FindUserID(ctx, p.sub.ID)
	case p.checkout != nil:
		if id := p.checkout.Metadata[stripeapi.MetadataUserID]; id != "" {
			return id, nil
		}
		return p.checkout.ClientReferenceID, nil
	}
	return "", nil
}

func (p *StripeNotificationParser) GetData() any {
	if p.event.Data == nil {
		return nil
	}
	return json.RawMessage(p.event.Data.Raw)
}

// GetSubscriptionRecord maps a subscription lifecycle event to a snapshot
// record. It returns nil for other events.
func (p *StripeNotificationParser) GetSubscriptionRecord(ctx context.Context) (*subscription.ProcessorRecord, error) {
	if p.sub == nil {
		return nil, nil
	}
	userID, err := p.GetUserID(ctx)
	if err != nil {
		return nil, err
	}
	rec := &subscription.ProcessorRecord{
		EventID:                p.event.ID,
		UserID:                 userID,
		ProviderSubscriptionID: p.sub.ID,
		Status:                 mapStripeStatus(p.sub.Status),
		CancelAtPeriodEnd:      p.sub.CancelAtPeriodEnd,
		Deleted:                p.event.Type == EventSubscriptionDeleted,
	}
	if p.event.Created > 0 {
		rec.EventTime = time.Unix(p.event.Created, 0).UTC()
	}
	if p.sub.Customer != nil {
		rec.CustomerID = p.sub.Customer.ID
	}
	if p.sub.Items != nil && len(p.sub.Items.Data) > 0 && p.sub.Items.Data[0].Price != nil {
		rec.PriceID = lo.ToPtr(p.sub.Items.Data[0].Price.ID)
	}
	if p.sub.CurrentPeriodStart > 0 {
		rec.PeriodStart = lo.ToPtr(time.Unix(p.sub.CurrentPeriodStart, 0).UTC())
	}
	if p.sub.CurrentPeriodEnd > 0 {
		rec.PeriodEnd = lo.ToPtr(time.Unix(p.sub.CurrentPeriodEnd, 0).UTC())
	}
	if rec.Deleted {
		rec.Status = types.SubscriptionStatusCanceled
	}
	return rec, nil
}

// GetCreditPurchase returns the purchase for a paid credit-pack checkout and
// nil for anything else, including subscription checkouts.
func (p *StripeNotificationParser) GetCreditPurchase(ctx context.Context) (*CreditPurchase, error) {
	if p.checkout == nil || p.checkout.Metadata[stripeapi.MetadataKind] != string(stripeapi.CheckoutKindCreditPack) {
		return nil, nil
	}
	if p.checkout.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, nil
	}
	userID, err := p.GetUserID(ctx)
	if err != nil {
		return nil, err
	}
	return &CreditPurchase{
		SessionID: p.checkout.ID,
		UserID:    userID,
		PackID:    p.checkout.Metadata[stripeapi.MetadataItemID],
	}, nil
}

func mapStripeStatus(s stripe.SubscriptionStatus) types.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return types.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return types.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return types.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return types.SubscriptionStatusCanceled
	default:
		return types.SubscriptionStatusInactive
	}
}
