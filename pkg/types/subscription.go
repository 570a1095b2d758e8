package types

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	// SubscriptionStatusNone is reported when the user has no subscription record at all.
	SubscriptionStatusNone SubscriptionStatus = "none"
)

// Billable reports whether the status alone grants subscription quota.
func (s SubscriptionStatus) Billable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonPurchase      SubscriptionChangeReason = "purchase"
	SubscriptionChangeReasonRenew         SubscriptionChangeReason = "renew"
	SubscriptionChangeReasonUpdate        SubscriptionChangeReason = "update"
	SubscriptionChangeReasonCancel        SubscriptionChangeReason = "cancel"
	SubscriptionChangeReasonPaymentFailed SubscriptionChangeReason = "payment_failed"
)

// SubscriptionSnapshot is the read-only view of a user's subscription as last
// reported by the payment processor.
type SubscriptionSnapshot struct {
	Status      SubscriptionStatus `json:"status"`
	PriceID     *string            `json:"price_id"`
	PeriodStart *time.Time         `json:"period_start"`
	PeriodEnd   *time.Time         `json:"period_end"`
}

// NoSubscription returns the snapshot used when no record exists.
func NoSubscription() *SubscriptionSnapshot {
	return &SubscriptionSnapshot{Status: SubscriptionStatusNone}
}

// Usable reports whether the subscription grants quota at now: the status must be
// active or trialing and now must be strictly before the period end. A missing
// period end is never usable.
func (s *SubscriptionSnapshot) Usable(now time.Time) bool {
	return s != nil &&
		s.Status.Billable() &&
		s.PeriodEnd != nil &&
		now.Before(*s.PeriodEnd)
}

// Period is a closed time window [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}
