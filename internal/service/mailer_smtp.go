package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/email-auth-api/internal/config"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
)

type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	StartTLS bool
	Timeout  time.Duration
}

// SMTPMailer opens one connection per message. Recipients refused at RCPT
// time are reported in DeliveryResult.Rejected rather than as an error.
type SMTPMailer struct {
	settings  SMTPSettings
	tlsConfig *tls.Config
}

func NewSMTPMailer(settings SMTPSettings) *SMTPMailer {
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	return &SMTPMailer{
		settings:  settings,
		tlsConfig: &tls.Config{ServerName: settings.Host, MinVersion: tls.VersionTLS12},
	}
}

func (m *SMTPMailer) Addr() string {
	return net.JoinHostPort(m.settings.Host, strconv.Itoa(m.settings.Port))
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	start := time.Now()
	result, err := m.send(ctx, msg)
	outcome := "accepted"
	switch {
	case err != nil:
		outcome = "error"
	case len(result.Accepted) == 0:
		outcome = "rejected"
	}
	observability.RecordMailDelivery(ctx, config.MailTransportSMTP, outcome, time.Since(start))
	return result, err
}

func (m *SMTPMailer) send(ctx context.Context, msg Message) (DeliveryResult, error) {
	var result DeliveryResult
	c, closeConn, err := m.dial(ctx)
	if err != nil {
		return result, err
	}
	defer closeConn()

	if err := c.Mail(m.settings.From); err != nil {
		return result, fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		var perr *textproto.Error
		if !errors.As(err, &perr) {
			return result, fmt.Errorf("smtp RCPT TO: %w", err)
		}
		result.Rejected = append(result.Rejected, msg.To)
		_ = c.Reset()
		_ = c.Quit()
		return result, nil
	}

	w, err := c.Data()
	if err != nil {
		return result, fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(m.compose(msg)); err != nil {
		return result, fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return result, fmt.Errorf("smtp end of data: %w", err)
	}
	result.Accepted = append(result.Accepted, msg.To)
	_ = c.Quit()
	return result, nil
}

// Ping connects and greets the server without sending mail.
func (m *SMTPMailer) Ping(ctx context.Context) error {
	c, closeConn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer closeConn()
	if err := c.Noop(); err != nil {
		return fmt.Errorf("smtp NOOP: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, func(), error) {
	dialer := net.Dialer{Timeout: m.settings.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.Addr())
	if err != nil {
		return nil, nil, fmt.Errorf("smtp dial %s: %w", m.Addr(), err)
	}
	deadline := time.Now().Add(m.settings.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	c, err := smtp.NewClient(conn, m.settings.Host)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("smtp greeting: %w", err)
	}
	closeConn := func() {
		stop()
		_ = c.Close()
	}

	if m.settings.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			closeConn()
			return nil, nil, errors.New("smtp server does not offer STARTTLS")
		}
		if err := c.StartTLS(m.tlsConfig); err != nil {
			closeConn()
			return nil, nil, fmt.Errorf("smtp STARTTLS: %w", err)
		}
	}
	if m.settings.Username != "" {
		auth := smtp.PlainAuth("", m.settings.Username, m.settings.Password, m.settings.Host)
		if err := c.Auth(auth); err != nil {
			closeConn()
			return nil, nil, fmt.Errorf("smtp AUTH: %w", err)
		}
	}
	return c, closeConn, nil
}

func (m *SMTPMailer) compose(msg Message) []byte {
	from := (&mail.Address{Name: m.settings.FromName, Address: m.settings.From}).String()
	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", from)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+m.messageIDHost()+">")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (m *SMTPMailer) messageIDHost() string {
	if at := strings.LastIndex(m.settings.From, "@"); at >= 0 && at < len(m.settings.From)-1 {
		return m.settings.From[at+1:]
	}
	return m.settings.Host
}
