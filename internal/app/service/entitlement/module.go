package entitlement

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/app/service/plan"
	"github.com/fatflowers/clipmeter/internal/app/service/session"
	"github.com/fatflowers/clipmeter/internal/app/service/subscription"
	"github.com/fatflowers/clipmeter/internal/app/service/usage"
)

var Module = fx.Options(
	fx.Provide(
		func(subs *subscription.Service, l *ledger.Service, c *usage.Counter, r *plan.Resolver, s *session.Store, log *zap.SugaredLogger) *Service {
			return NewService(subs, l, c, r, s, log)
		},
		func(l *ledger.Service, s *session.Store, log *zap.SugaredLogger) *Committer {
			return NewCommitter(l, s, log)
		},
	),
)
