// Package mail delivers plain-text notification emails over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// sendMailHook allows tests to override SMTP sending behavior
var sendMailHook = smtp.SendMail

// ErrNoRecipient is returned for a message without a To address
var ErrNoRecipient = errors.New("mail: recipient required")

// Message is one outgoing email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Config holds SMTP connection settings
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string

	// Extra attempts after the first failure. Permanent (5xx) replies are
	// never retried.
	MaxRetries int
}

// SMTPMailer sends messages through a single SMTP relay
type SMTPMailer struct {
	cfg    Config
	auth   smtp.Auth
	logger *slog.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewSMTPMailer creates a mailer for cfg. Authentication is skipped when no
// user is configured.
func NewSMTPMailer(cfg Config, logger *slog.Logger) *SMTPMailer {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &SMTPMailer{
		cfg:             cfg,
		auth:            auth,
		logger:          logger.With("component", "mailer"),
		initialInterval: 500 * time.Millisecond,
		maxInterval:     5 * time.Second,
	}
}

// Send delivers msg, retrying transient failures with exponential backoff
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	to := sanitizeHeader(msg.To)
	if to == "" {
		return ErrNoRecipient
	}

	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	raw := compose(m.cfg.From, to, msg.Subject, msg.Body, time.Now())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval
	b.MaxInterval = m.maxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := sendMailHook(addr, m.auth, m.cfg.From, []string{to}, raw)
		if err == nil {
			return struct{}{}, nil
		}
		if isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		m.logger.Warn("smtp send failed", "to", to, "attempt", attempt, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(m.cfg.MaxRetries)+1))
	if err != nil {
		return fmt.Errorf("send mail to %s after %d attempt(s): %w", to, attempt, err)
	}

	m.logger.Debug("mail sent", "to", to, "attempts", attempt)
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// SMTP host is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if sanitizeHeader(msg.To) == "" {
		return ErrNoRecipient
	}
	m.logger.Info("mail not sent, no smtp host configured", "to", msg.To, "subject", msg.Subject)
	return nil
}

// isPermanent reports a 5xx SMTP reply
func isPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

func compose(from, to, subject, body string, date time.Time) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", sanitizeHeader(from))
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeHeader(subject)))
	fmt.Fprintf(&sb, "Date: %s\r\n", date.Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(sb.String())
}

// sanitizeHeader drops line breaks so values cannot inject headers
func sanitizeHeader(v string) string {
	v = strings.NewReplacer("\r", "", "\n", "").Replace(v)
	return strings.TrimSpace(v)
}
