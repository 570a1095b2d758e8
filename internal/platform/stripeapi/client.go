package stripeapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/pkg/config"
)

// Metadata keys attached to checkout sessions and subscriptions so webhook
// events can be routed back to a user.
const (
	MetadataUserID = "user_id"
	MetadataKind   = "kind"
	MetadataItemID = "item_id"
)

type CheckoutKind string

const (
	CheckoutKindSubscription CheckoutKind = "subscription"
	CheckoutKindCreditPack   CheckoutKind = "credit_pack"
)

var ErrNotConfigured = errors.New("stripe is not configured")

type CheckoutRequest struct {
	UserID  string
	Email   string
	Kind    CheckoutKind
	ItemID  string
	PriceID string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client wraps the processor API used by the service: hosted checkout and
// webhook signature verification.
type Client struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	log           *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	c := &Client{
		webhookSecret: cfg.Stripe.WebhookSecret,
		successURL:    cfg.Stripe.SuccessURL,
		cancelURL:     cfg.Stripe.CancelURL,
		log:           log,
	}
	if cfg.Stripe.SecretKey != "" {
		c.api = client.New(cfg.Stripe.SecretKey, nil)
	} else {
		log.Warnw("stripe secret key not set, checkout disabled")
	}
	return c
}

// CreateCheckout creates a hosted checkout session. Subscriptions carry the
// user id in subscription metadata so later lifecycle events can be attributed.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, req.UserID)
	params.AddMetadata(MetadataKind, string(req.Kind))
	params.AddMetadata(MetadataItemID, req.ItemID)

	switch req.Kind {
	case CheckoutKindSubscription:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserID: req.UserID},
		}
	case CheckoutKindCreditPack:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
	default:
		return nil, fmt.Errorf("unsupported checkout kind %q", req.Kind)
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if c.webhookSecret == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	return webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
