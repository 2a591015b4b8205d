package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/zapleads/zapleads/internal/config"
	"github.com/zapleads/zapleads/internal/models"
)

// Mailer emails the operator a summary when a campaign finishes. It is
// strictly best-effort: dispatch never depends on it.
type Mailer struct {
	cfg    config.NotifyConfig
	logger *slog.Logger
}

// New creates a mailer, or nil when notification is disabled
func New(cfg config.NotifyConfig, logger *slog.Logger) *Mailer {
	if !cfg.Enabled {
		return nil
	}
	return &Mailer{
		cfg:    cfg,
		logger: logger.With("component", "notify"),
	}
}

// CampaignCompleted sends the completion summary mail
func (m *Mailer) CampaignCompleted(ctx context.Context, c *models.Campaign) error {
	subject := fmt.Sprintf("Campaign %q completed", c.Name)
	body := fmt.Sprintf(
		"Campaign %s finished dispatching.\n\nLeads: %d\nSent: %d\nFailed: %d\n",
		c.Name, c.TotalLeads, c.SentMessages, c.FailedMessages,
	)

	msg := m.buildMessage(subject, body)

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(m.cfg.SMTPAddr, auth, m.cfg.From, []string{m.cfg.To}, strings.NewReader(msg))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
	}

	m.logger.Info("completion notification sent", "campaign_id", c.ID, "to", m.cfg.To)
	return nil
}

func (m *Mailer) buildMessage(subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.cfg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
