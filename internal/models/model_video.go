package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type VideoStatus string

const (
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

type VideoFundingChannel string

const (
	VideoFundingQuota  VideoFundingChannel = "quota"
	VideoFundingCredit VideoFundingChannel = "credit"
)

// Video is one generation request. Rows are counted against the monthly quota
// by CreatedAt unless the render failed; soft-deleted rows still count.
type Video struct {
	ID                  string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID              string              `gorm:"column:user_id;type:varchar(64);not null;index:idx_video_user_created,priority:1" json:"user_id"`
	Status              VideoStatus         `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Prompt              string              `gorm:"column:prompt;type:text;not null" json:"prompt"`
	ImageURL            string              `gorm:"column:image_url;type:text" json:"image_url"`
	ClipDurationSeconds int                 `gorm:"column:clip_duration_seconds;not null" json:"clip_duration_seconds"`
	VideoURL            *string             `gorm:"column:video_url;type:text;default:null" json:"video_url"`
	FundedBy            VideoFundingChannel `gorm:"column:funded_by;type:varchar(16);not null" json:"funded_by"`
	FailureReason       *string             `gorm:"column:failure_reason;type:text;default:null" json:"failure_reason,omitempty"`
	// CommittedAt is set once the consumption for this video was recorded.
	CommittedAt *time.Time        `gorm:"column:committed_at;default:null" json:"committed_at,omitempty"`
	Extra       datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt   time.Time         `gorm:"index:idx_video_user_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	DeletedAt   gorm.DeletedAt    `gorm:"index" json:"-"`
}

func (Video) TableName() string {
	return "videos"
}

func (v *Video) SpendsCredits() bool {
	return v != nil && v.FundedBy == VideoFundingCredit
}

// Terminal reports whether the render outcome has been recorded.
func (v *Video) Terminal() bool {
	return v != nil && (v.Status == VideoStatusCompleted || v.Status == VideoStatusFailed)
}
