// Package notify decides, per event, whether a recipient is told live over
// their notification channel or by email.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/observer/collegecue/internal/domain"
	"github.com/observer/collegecue/internal/mail"
	"github.com/observer/collegecue/internal/metrics"
)

// Presence answers whether an identity is currently reachable live
type Presence interface {
	IsOnline(identity string) bool
}

// LiveChannel delivers a message to every member of a group
type LiveChannel interface {
	Broadcast(ctx context.Context, group, message string) error
}

// Mailer sends the email fallback
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Result reports how an event was delivered
type Result struct {
	Channel domain.DeliveryChannel `json:"channel"`
	Group   string                 `json:"group"`
}

// Dispatcher routes notification events to exactly one delivery channel
type Dispatcher struct {
	presence Presence
	live     LiveChannel
	mailer   Mailer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewDispatcher(presence Presence, live LiveChannel, mailer Mailer, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		presence: presence,
		live:     live,
		mailer:   mailer,
		metrics:  m,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch broadcasts the event's message on the recipient's group when the
// recipient is online and emails them otherwise. A broadcast that reaches
// nobody still counts as delivered live. A broadcast that could not be
// published was never attempted, so the event falls back to email. Only a
// failed email is reported, wrapping domain.ErrEmailDelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.NotificationEvent) (Result, error) {
	if err := event.Validate(); err != nil {
		return Result{}, err
	}

	recipient := domain.NormalizeIdentity(event.Recipient)
	res := Result{Group: domain.GroupName(recipient)}
	logger := d.logger.With("recipient", recipient, "account_type", string(event.AccountType))

	if d.presence.IsOnline(recipient) {
		err := d.live.Broadcast(ctx, res.Group, event.Message)
		if err == nil {
			res.Channel = domain.ChannelLive
			d.metrics.Dispatch(string(res.Channel))
			logger.Debug("dispatched live", "group", res.Group)
			return res, nil
		}
		d.metrics.LiveFailed()
		logger.Warn("live broadcast not published, falling back to email", "group", res.Group, "error", err)
	}

	res.Channel = domain.ChannelEmail
	d.metrics.Dispatch(string(res.Channel))

	if err := d.mailer.Send(ctx, emailFor(recipient, event)); err != nil {
		d.metrics.EmailFailed()
		logger.Error("email fallback failed", "error", err)
		return res, fmt.Errorf("%w: %w", domain.ErrEmailDelivery, err)
	}
	logger.Debug("dispatched by email")
	return res, nil
}

// emailFor renders the fallback email:
//
//	Dear <name>,
//
//	<message>
//
//	<signature>
func emailFor(recipient string, event domain.NotificationEvent) mail.Message {
	subject := strings.TrimSpace(event.Subject)
	if subject == "" {
		subject = domain.DefaultSubject
	}

	name := strings.TrimSpace(event.RecipientName)
	if name == "" {
		name = recipient
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\n\n%s", name, event.Message)
	if sig := strings.TrimSpace(event.Signature); sig != "" {
		body.WriteString("\n\n")
		body.WriteString(sig)
	}

	return mail.Message{To: recipient, Subject: subject, Body: body.String()}
}
