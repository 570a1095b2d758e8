package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/resendlabs/resend-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
)

var giftTemplate = template.Must(template.New("gift").Parse(
	`<p>Hi {{.Email}},</p><p>You received <strong>{{.Quantity}}</strong> video credit{{if gt .Quantity 1}}s{{end}}.` +
		` Your balance is now {{.Balance}}.</p>`))

type emailSender interface {
	Send(*resend.SendEmailRequest) (resend.SendEmailResponse, error)
}

// Mailer sends transactional email through Resend. Without an API key it logs
// and drops messages.
type Mailer struct {
	emails emailSender
	from   string
	log    *zap.SugaredLogger
}

func New(cfg *config.Config, log *zap.SugaredLogger) *Mailer {
	m := &Mailer{from: cfg.Mailer.From, log: log}
	if cfg.Mailer.ResendAPIKey != "" {
		m.emails = resend.NewClient(cfg.Mailer.ResendAPIKey).Emails
	}
	return m
}

type GiftNotice struct {
	Email    string
	Quantity int64
	Balance  int64
}

func (m *Mailer) SendGiftNotice(ctx context.Context, n GiftNotice) error {
	lg := logctx.FromCtx(ctx, m.log)
	if m.emails == nil {
		lg.Infow("mailer disabled, gift notice skipped", "email", n.Email)
		return nil
	}
	var body bytes.Buffer
	if err := giftTemplate.Execute(&body, n); err != nil {
		return fmt.Errorf("failed to render gift email: %w", err)
	}
	resp, err := m.emails.Send(&resend.SendEmailRequest{
		From:    m.from,
		To:      []string{n.Email},
		Subject: "You received video credits",
		Html:    body.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to send gift email: %w", err)
	}
	lg.Infow("gift notice sent", "email", n.Email, "message_id", resp.Id)
	return nil
}

var Module = fx.Options(
	fx.Provide(New),
)
