package models

import (
	"time"

	"github.com/fatflowers/clipmeter/pkg/types"

	"gorm.io/datatypes"
)

// SubscriptionLog records every processor-driven change to a subscription.
type SubscriptionLog struct {
	ID     string                         `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string                         `gorm:"column:user_id;type:varchar(64);index:idx_sub_log_user_id_id,priority:1;not null" json:"user_id"`
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// EventID is the processor event that caused the change.
	EventID string                            `gorm:"column:event_id;type:varchar(128)" json:"event_id"`
	Before  datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	After   datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	Extra   datatypes.JSONMap                 `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`

	CreatedAt time.Time `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
