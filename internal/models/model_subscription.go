package models

import (
	"time"

	"github.com/fatflowers/clipmeter/pkg/types"

	"gorm.io/datatypes"
)

// Subscription is the processor-reported subscription record of a user.
// Written only by payment processor notifications.
type Subscription struct {
	ID     string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string                   `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	// ProviderSubscriptionID is the processor's id, e.g. "sub_...".
	ProviderSubscriptionID string  `gorm:"column:provider_subscription_id;type:varchar(128);index" json:"provider_subscription_id"`
	CustomerID             string  `gorm:"column:customer_id;type:varchar(128)" json:"customer_id"`
	PriceID                *string `gorm:"column:price_id;type:varchar(128);default:null" json:"price_id"`
	// CurrentPeriodStart and CurrentPeriodEnd are authoritative billing boundaries.
	CurrentPeriodStart *time.Time `gorm:"column:current_period_start;default:null" json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `gorm:"column:current_period_end;default:null" json:"current_period_end"`
	CancelAtPeriodEnd  bool       `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	// LastEventAt is the creation time of the newest processor event applied.
	LastEventAt *time.Time     `gorm:"column:last_event_at;default:null" json:"last_event_at,omitempty"`
	Extra       datatypes.JSON `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Snapshot converts the stored record into the read-only view used by entitlement.
// A nil receiver yields the "none" snapshot.
func (s *Subscription) Snapshot() *types.SubscriptionSnapshot {
	if s == nil {
		return types.NoSubscription()
	}
	return &types.SubscriptionSnapshot{
		Status:      s.Status,
		PriceID:     s.PriceID,
		PeriodStart: s.CurrentPeriodStart,
		PeriodEnd:   s.CurrentPeriodEnd,
	}
}
