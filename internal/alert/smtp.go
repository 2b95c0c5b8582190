package alert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// =============================================================================
// SMTP Notifier Implementation
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // e.g. "localhost" for Mailhog
	Port     int    // e.g. 1025 for Mailhog
	Username string // empty for Mailhog
	Password string
	From     string
	FromName string
}

const (
	DefaultFromEmail = "alerts@panelcheck.local"
	DefaultFromName  = "Panelcheck Alerts"
)

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails alerts to a fixed recipient list.
type SMTPNotifier struct {
	config     SMTPConfig
	recipients []string
	send       sendFunc
	logger     *slog.Logger
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(config SMTPConfig, recipients []string, logger *slog.Logger) (*SMTPNotifier, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one alert recipient is required")
	}
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	return &SMTPNotifier{
		config:     config,
		recipients: recipients,
		send:       smtp.SendMail,
		logger:     logger,
	}, nil
}

func (n *SMTPNotifier) DispatchFailed(ctx context.Context, a DispatchFailure) error {
	return n.deliver(ctx, FormatDispatchFailure(a))
}

func (n *SMTPNotifier) JobStuck(ctx context.Context, a StuckJob) error {
	return n.deliver(ctx, FormatStuckJob(a))
}

func (n *SMTPNotifier) PendingBacklog(ctx context.Context, a Backlog) error {
	return n.deliver(ctx, FormatBacklog(a))
}

// =============================================================================
// Internal Methods
// =============================================================================

func (n *SMTPNotifier) deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)

	var auth smtp.Auth
	if n.config.Username != "" && n.config.Password != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}

	err := n.send(addr, auth, n.config.From, n.recipients, n.buildMessage(msg, time.Now()))
	if err != nil {
		n.logger.Error("failed to send alert",
			"subject", msg.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send alert: %w", err)
	}

	n.logger.Info("alert sent",
		"subject", msg.Subject,
		"recipients", len(n.recipients),
	)
	return nil
}

// buildMessage constructs the raw plain-text message with headers.
func (n *SMTPNotifier) buildMessage(msg Message, now time.Time) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", n.config.FromName, n.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(n.recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	return buf.Bytes()
}

var _ Notifier = (*SMTPNotifier)(nil)
