package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/HSouheill/agrimarket_backend/config"
	"github.com/HSouheill/agrimarket_backend/models"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailAlerter emails operations when reconciliation corrects a large drift.
type MailAlerter struct {
	sender mailSender
	from   string
	to     string
	logger *zap.Logger
}

// NewMailAlerter returns nil when SMTP or the alert address is not configured.
func NewMailAlerter(cfg config.SMTPConfig, logger *zap.Logger) *MailAlerter {
	if cfg.Host == "" || cfg.AlertEmail == "" {
		return nil
	}
	return &MailAlerter{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		from:   cfg.User,
		to:     cfg.AlertEmail,
		logger: logger,
	}
}

func (a *MailAlerter) DriftDetected(ctx context.Context, report models.ReconcileReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", a.from)
	m.SetHeader("To", a.to)
	m.SetHeader("Subject", fmt.Sprintf("Commission totals drift for partner %s", report.PartnerID.Hex()))
	m.SetBody("text/plain", driftBody(report))

	if err := a.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send drift alert: %w", err)
	}
	a.logger.Info("drift alert sent", zap.String("partnerId", report.PartnerID.Hex()), zap.String("to", a.to))
	return nil
}

func driftBody(r models.ReconcileReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reconciliation at %s corrected the cached commission totals of partner %s.\n\n",
		r.ReconciledAt.UTC().Format("2006-01-02 15:04:05 MST"), r.PartnerID.Hex())
	fmt.Fprintf(&b, "lifetime: %s -> %s (drift %s)\n", FormatNaira(r.Previous.Lifetime), FormatNaira(r.Totals.Lifetime), FormatNaira(r.LifetimeDrift))
	fmt.Fprintf(&b, "pending:  %s -> %s (drift %s)\n", FormatNaira(r.Previous.Pending), FormatNaira(r.Totals.Pending), FormatNaira(r.PendingDrift))
	fmt.Fprintf(&b, "paid:     %s -> %s (drift %s)\n", FormatNaira(r.Previous.Paid), FormatNaira(r.Totals.Paid), FormatNaira(r.PaidDrift))
	return b.String()
}
