package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/email-auth-api/internal/config"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
)

const verificationEmailSubject = "Verify your email"

var verificationEmailTemplate = template.Must(template.New("verification").Parse(
	`<h1>Your verification code is <strong>{{.Code}}</strong></h1>`,
))

type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// DeliveryResult lists the envelope recipients the transport accepted and
// the ones it refused. A refused recipient is not a transport error.
type DeliveryResult struct {
	Accepted []string
	Rejected []string
}

func (r DeliveryResult) IsAccepted(addr string) bool {
	for _, a := range r.Accepted {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(addr)) {
			return true
		}
	}
	return false
}

type Mailer interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

func NewMailer(cfg *config.Config, logger *slog.Logger) Mailer {
	if cfg.MailTransport == config.MailTransportSMTP {
		return NewSMTPMailer(SMTPSettings{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
			StartTLS: cfg.SMTPStartTLS,
			Timeout:  cfg.SMTPTimeout,
		})
	}
	return NewLogMailer(logger)
}

func verificationMessage(to, code string) (Message, error) {
	var body bytes.Buffer
	if err := verificationEmailTemplate.Execute(&body, struct{ Code string }{Code: code}); err != nil {
		return Message{}, fmt.Errorf("render verification email: %w", err)
	}
	return Message{To: to, Subject: verificationEmailSubject, HTMLBody: body.String()}, nil
}

// LogMailer writes messages to the log instead of delivering them. Every
// recipient is accepted.
//
// The body, and with it the verification code, is logged in plaintext: it is
// the only way to read the code in a local environment. Log redaction of
// verification_code covers structured attributes only, and
// Config.Validate refuses MAIL_TRANSPORT=log outside local environments.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	start := time.Now()
	m.logger.InfoContext(ctx, "mail delivered to log transport",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.HTMLBody,
	)
	observability.RecordMailDelivery(ctx, config.MailTransportLog, "accepted", time.Since(start))
	return DeliveryResult{Accepted: []string{msg.To}}, nil
}
