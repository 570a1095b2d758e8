package entitlement

import (
	"time"

	"github.com/fatflowers/clipmeter/pkg/types"
)

// CreditsPerVideo is the credit price of one generation.
const CreditsPerVideo int64 = 1

const (
	CodeNoActiveSubscription = "NO_ACTIVE_SUBSCRIPTION"
	CodeMonthlyLimitReached  = "MONTHLY_LIMIT_REACHED"
	CodeClipTooLong          = "CLIP_TOO_LONG"
)

const (
	ReasonNoActiveSubscription = "no active subscription, choose a plan."
	ReasonMonthlyLimitReached  = "monthly video limit reached; resets at period end, or upgrade."
)

type Channel string

const (
	ChannelSubscription Channel = "subscription"
	ChannelCredits      Channel = "credits"
	ChannelNone         Channel = "none"
)

// Inputs are everything a decision depends on.
type Inputs struct {
	Snapshot      *types.SubscriptionSnapshot
	Plan          *types.Plan
	UsageCount    int64
	CreditBalance int64
	Now           time.Time
}

type Decision struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	Code          string `json:"code,omitempty"`
	SpendsCredits bool   `json:"spends_credits"`
}

func (d Decision) Channel() Channel {
	switch {
	case !d.Allowed:
		return ChannelNone
	case d.SpendsCredits:
		return ChannelCredits
	default:
		return ChannelSubscription
	}
}

func (d Decision) Outcome() string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}

// QuotaUsable reports whether the subscription currently grants quota: it must
// be usable and resolve to a known plan.
func (in Inputs) QuotaUsable() bool {
	return in.Snapshot.Usable(in.Now) && in.Plan != nil
}

// Remaining is the unused subscription quota, never negative.
func (in Inputs) Remaining() int64 {
	if !in.QuotaUsable() {
		return 0
	}
	if r := in.Plan.MonthlyVideoLimit - in.UsageCount; r > 0 {
		return r
	}
	return 0
}

// Decide applies the entitlement rules in order; the first match wins.
// Subscription quota is always spent before credits.
func Decide(in Inputs) Decision {
	switch {
	case in.QuotaUsable() && in.Remaining() > 0:
		return Decision{Allowed: true}
	case in.CreditBalance >= CreditsPerVideo:
		return Decision{Allowed: true, SpendsCredits: true}
	case !in.QuotaUsable():
		return Decision{Reason: ReasonNoActiveSubscription, Code: CodeNoActiveSubscription}
	default:
		return Decision{Reason: ReasonMonthlyLimitReached, Code: CodeMonthlyLimitReached}
	}
}

// MaxClipSeconds is the longest clip allowed: the plan's limit while the
// subscription is usable, else defaultSeconds.
func MaxClipSeconds(in Inputs, defaultSeconds int) int {
	if in.QuotaUsable() && in.Plan.MaxClipDurationSeconds > 0 {
		return in.Plan.MaxClipDurationSeconds
	}
	return defaultSeconds
}
