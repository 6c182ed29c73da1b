// Package notify delivers alert emails. The orchestrator fires alerts
// best-effort as results land; the sweep retries anything that was missed,
// using the notification_sent stamp for exactly-once delivery.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/config"
)

// Alert is one triggered result ready to be mailed.
type Alert struct {
	Result           analysis.Result
	SubscriptionName string
	Email            string
	UserName         string
}

// Notifier sends an alert to its recipient.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// SMTPNotifier sends plain-text alert mail over SMTP.
type SMTPNotifier struct {
	cfg  config.SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates a notifier from SMTP config.
func NewSMTP(cfg config.SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) Notify(ctx context.Context, alert Alert) error {
	if alert.Email == "" {
		return fmt.Errorf("alert for subscription %d has no recipient", alert.Result.SubscriptionID)
	}
	if n.cfg.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	msg := composeMessage(n.cfg.From, alert, n.cfg.DashboardURL)

	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, auth, n.cfg.From, []string{alert.Email}, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send alert mail: %w", err)
		}
		return nil
	}
}

func composeMessage(from string, alert Alert, dashboardURL string) []byte {
	subject := fmt.Sprintf("Environmental alert: %s in %s", alert.Result.Category, alert.SubscriptionName)

	greeting := "Hello"
	if alert.UserName != "" {
		greeting = "Hello " + alert.UserName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", alert.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "%s,\r\n\r\n", greeting)
	fmt.Fprintf(&b, "A change was detected in your monitored region %q.\r\n\r\n", alert.SubscriptionName)
	fmt.Fprintf(&b, "Category: %s\r\n", alert.Result.Category)
	if alert.Result.CalculatedValue != nil {
		fmt.Fprintf(&b, "Measured value: %g\r\n", *alert.Result.CalculatedValue)
	}
	if alert.Result.ThresholdValue != nil {
		fmt.Fprintf(&b, "Alert threshold: %g\r\n", *alert.Result.ThresholdValue)
	}
	if alert.Result.Message != "" {
		fmt.Fprintf(&b, "Details: %s\r\n", alert.Result.Message)
	}
	fmt.Fprintf(&b, "Detected at: %s\r\n", alert.Result.CreatedAt.Format(time.RFC1123))
	if dashboardURL != "" {
		fmt.Fprintf(&b, "\r\nView the full report: %s\r\n", dashboardURL)
	}
	b.WriteString("\r\n-- \r\nsentinel environmental monitoring\r\n")

	return []byte(b.String())
}
