package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

// Message is a plain-text notification for one recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers member notifications. Delivery is best effort; callers log
// failures and move on.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier sends mail through a single SMTP relay.
type SMTPNotifier struct {
	dialer sender
	from   string
}

// NewSMTPNotifier builds a notifier from the SMTP config section.
func NewSMTPNotifier(cfg config.SMTPConfig) (*SMTPNotifier, error) {
	if !cfg.Enabled() {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp sender address is required")
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPNotifier{dialer: dialer, from: cfg.From}, nil
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// LogNotifier writes notifications to the structured log. Used when no SMTP
// relay is configured.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if n.logg == nil {
		return nil
	}
	n.logg.Info(n.logg.WithFields(ctx, map[string]any{
		"to":      msg.To,
		"subject": msg.Subject,
	}), "notification recorded")
	return nil
}

// New picks the SMTP notifier when mail is configured.
func New(cfg config.SMTPConfig, logg *logger.Logger) (Notifier, error) {
	if !cfg.Enabled() {
		return NewLogNotifier(logg), nil
	}
	return NewSMTPNotifier(cfg)
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("recipient required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("subject required")
	}
	return nil
}
