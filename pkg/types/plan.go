package types

type PlanID string

const (
	PlanStarter      PlanID = "starter"
	PlanProfessional PlanID = "professional"
	PlanEnterprise   PlanID = "enterprise"
)

type Feature string

const (
	FeatureHDVideo          Feature = "hd_video"
	FeatureNoWatermark      Feature = "no_watermark"
	FeatureBasicTemplates   Feature = "basic_templates"
	FeaturePremiumTemplates Feature = "premium_templates"
	FeatureEmailSupport     Feature = "email_support"
	FeaturePrioritySupport  Feature = "priority_support"
	FeatureDedicatedSupport Feature = "dedicated_support"
	FeatureAPIAccess        Feature = "api_access"
	FeatureAdvancedAPI      Feature = "advanced_api"
	FeatureWhiteLabel       Feature = "white_label"
)

// Plan is a static, code-defined subscription plan.
type Plan struct {
	ID                     PlanID    `json:"id"`
	Name                   string    `json:"name"`
	PriceID                string    `json:"price_id"`
	PriceMonthly           int64     `json:"price_monthly"`
	Currency               string    `json:"currency"`
	MonthlyVideoLimit      int64     `json:"monthly_video_limit"`
	MaxClipDurationSeconds int       `json:"max_clip_duration_seconds"`
	Features               []Feature `json:"features"`
}

func (p *Plan) HasFeature(f Feature) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Features {
		if have == f {
			return true
		}
	}
	return false
}
