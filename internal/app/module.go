package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/clipmeter/internal/app/api/server"
	"github.com/fatflowers/clipmeter/internal/app/service/entitlement"
	"github.com/fatflowers/clipmeter/internal/app/service/generation"
	"github.com/fatflowers/clipmeter/internal/app/service/gift"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	notificationhandler "github.com/fatflowers/clipmeter/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/clipmeter/internal/app/service/notification_log"
	"github.com/fatflowers/clipmeter/internal/app/service/plan"
	"github.com/fatflowers/clipmeter/internal/app/service/session"
	"github.com/fatflowers/clipmeter/internal/app/service/statistics"
	"github.com/fatflowers/clipmeter/internal/app/service/subscription"
	"github.com/fatflowers/clipmeter/internal/app/service/usage"
	"github.com/fatflowers/clipmeter/internal/app/service/user"
	"github.com/fatflowers/clipmeter/internal/platform/db"
	"github.com/fatflowers/clipmeter/internal/platform/mailer"
	"github.com/fatflowers/clipmeter/internal/platform/renderer"
	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule is everything except the HTTP server; the operator CLI runs on it.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	stripeapi.Module,
	renderer.Module,
	mailer.Module,
	plan.Module,
	usage.Module,
	ledger.Module,
	subscription.Module,
	session.Module,
	entitlement.Module,
	generation.Module,
	user.Module,
	gift.Module,
	statistics.Module,
	notificationlog.Module,
	notificationhandler.Module,
)

var Module = fx.Options(
	CoreModule,
	server.Module,
)
