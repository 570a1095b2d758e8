package plan

import (
	"strings"

	"go.uber.org/fx"

	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// Catalog is the static plan table. Prices are in cents.
var Catalog = []*types.Plan{
	{
		ID:                     types.PlanStarter,
		Name:                   "Starter",
		PriceID:                "price_starter_monthly",
		PriceMonthly:           1000,
		Currency:               "USD",
		MonthlyVideoLimit:      20,
		MaxClipDurationSeconds: 10,
		Features: []types.Feature{
			types.FeatureHDVideo,
			types.FeatureNoWatermark,
			types.FeatureBasicTemplates,
			types.FeatureEmailSupport,
		},
	},
	{
		ID:                     types.PlanProfessional,
		Name:                   "Professional",
		PriceID:                "price_professional_monthly",
		PriceMonthly:           2000,
		Currency:               "USD",
		MonthlyVideoLimit:      45,
		MaxClipDurationSeconds: 15,
		Features: []types.Feature{
			types.FeatureHDVideo,
			types.FeatureNoWatermark,
			types.FeatureBasicTemplates,
			types.FeaturePremiumTemplates,
			types.FeaturePrioritySupport,
			types.FeatureAPIAccess,
		},
	},
	{
		ID:                     types.PlanEnterprise,
		Name:                   "Enterprise",
		PriceID:                "price_enterprise_monthly",
		PriceMonthly:           4000,
		Currency:               "USD",
		MonthlyVideoLimit:      100,
		MaxClipDurationSeconds: 15,
		Features: []types.Feature{
			types.FeatureHDVideo,
			types.FeatureNoWatermark,
			types.FeatureBasicTemplates,
			types.FeaturePremiumTemplates,
			types.FeatureDedicatedSupport,
			types.FeatureAPIAccess,
			types.FeatureAdvancedAPI,
			types.FeatureWhiteLabel,
		},
	},
}

// builtinAliases are price identifiers from earlier processor integrations
// that must keep resolving for existing subscribers.
var builtinAliases = map[string]types.PlanID{
	"starter":                        types.PlanStarter,
	"professional":                   types.PlanProfessional,
	"enterprise":                     types.PlanEnterprise,
	"iyzico_starter_monthly":         types.PlanStarter,
	"iyzico_professional_monthly":    types.PlanProfessional,
	"iyzico_enterprise_monthly":      types.PlanEnterprise,
	"iyzico_starter":                 types.PlanStarter,
	"iyzico_professional":            types.PlanProfessional,
	"iyzico_enterprise":              types.PlanEnterprise,
	"price_1SI8r5IXoILZ7benDrZEtPLb": types.PlanStarter,
	"price_1SI93eIXoILZ7benaTtahoH7": types.PlanProfessional,
	"price_1SI995IXoILZ7benbXtYoVJb": types.PlanEnterprise,
	"gift_1_video":                   types.PlanStarter,
}

// Resolver maps price identifiers to plans. Exact match only.
type Resolver struct {
	plans   []*types.Plan
	byID    map[types.PlanID]*types.Plan
	byPrice map[string]*types.Plan
	// configured aliases are matched lower-cased since viper folds map keys
	byAlias map[string]*types.Plan
}

func NewResolver(cfg *config.Config) *Resolver {
	r := &Resolver{
		plans:   Catalog,
		byID:    make(map[types.PlanID]*types.Plan, len(Catalog)),
		byPrice: make(map[string]*types.Plan, len(Catalog)+len(builtinAliases)),
		byAlias: map[string]*types.Plan{},
	}
	for _, p := range Catalog {
		r.byID[p.ID] = p
		r.byPrice[p.PriceID] = p
	}
	for priceID, planID := range builtinAliases {
		r.byPrice[priceID] = r.byID[planID]
	}
	if cfg != nil {
		for priceID, planID := range cfg.Plans.Aliases {
			if p, ok := r.byID[types.PlanID(planID)]; ok {
				r.byAlias[strings.ToLower(priceID)] = p
			}
		}
	}
	return r
}

// Resolve returns nil when priceID is nil or unknown.
func (r *Resolver) Resolve(priceID *string) *types.Plan {
	if priceID == nil || *priceID == "" {
		return nil
	}
	if p, ok := r.byPrice[*priceID]; ok {
		return p
	}
	return r.byAlias[strings.ToLower(*priceID)]
}

func (r *Resolver) ByID(id types.PlanID) *types.Plan {
	return r.byID[id]
}

func (r *Resolver) All() []*types.Plan {
	return r.plans
}

var Module = fx.Options(
	fx.Provide(NewResolver),
)
