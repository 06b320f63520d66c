// Package notifier sends the "you left your card in the reader" emails
// described in original_source/service.py's send_user_email family,
// grounded on gopkg.in/gomail.v2.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Notifier is the interface internal/fsm.Session uses to send
// end-of-session emails, kept narrow so a fake can back tests without SMTP.
type Notifier interface {
	NotifyCardLeftBehind(ctx context.Context, to, userName, equipmentType, location string) error
	NotifyProxyCardLeftBehind(ctx context.Context, to, userName, equipmentType, location string) error
	// NotifyTrainingCardLeftBehind notifies both the trainer and the
	// trainee, matching service.py's send_user_email_training(trainer_id,
	// trainee_id), which addresses a single email to both recipients.
	NotifyTrainingCardLeftBehind(ctx context.Context, trainerEmail, trainerName, traineeEmail, traineeName, equipmentType, location string) error
}

// SMTPNotifier sends mail through a configured SMTP relay via
// gopkg.in/gomail.v2.Dialer.
type SMTPNotifier struct {
	dialer *gomail.Dialer
	from   string
	logger *slog.Logger
}

// New builds an SMTPNotifier that dials the given SMTP relay for every
// notification. It has no enabled switch of its own: when the original's
// email.enabled config switch is off, callers use NewNoop instead.
func New(host string, port int, username, password, from string, logger *slog.Logger) *SMTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		logger: logger,
	}
}

// NotifyCardLeftBehind sends the "Access Card left in PortalBox" email,
// matching service.py's send_user_email.
func (n *SMTPNotifier) NotifyCardLeftBehind(ctx context.Context, to, userName, equipmentType, location string) error {
	return n.send(to, "Access Card left in PortalBox", fmt.Sprintf(
		"Hello %s,\n\nYour access card was left in the %s at %s. Please remember to take your card with you.\n",
		userName, equipmentType, location))
}

// NotifyProxyCardLeftBehind sends the "Proxy Card left in PortalBox" email,
// matching service.py's send_user_email_proxy.
func (n *SMTPNotifier) NotifyProxyCardLeftBehind(ctx context.Context, to, userName, equipmentType, location string) error {
	return n.send(to, "Proxy Card left in PortalBox", fmt.Sprintf(
		"Hello %s,\n\nA proxy card you swiped in was left in the %s at %s. Please remember to take the card with you.\n",
		userName, equipmentType, location))
}

// NotifyTrainingCardLeftBehind sends a single "Training Card left in
// PortalBox" email addressed to both the trainer and the trainee, matching
// service.py's send_user_email_training(trainer_id, trainee_id), which
// mails recipients = [trainer_email, trainee_email].
func (n *SMTPNotifier) NotifyTrainingCardLeftBehind(ctx context.Context, trainerEmail, trainerName, traineeEmail, traineeName, equipmentType, location string) error {
	return n.sendToMany([]string{trainerEmail, traineeEmail}, "Training Card left in PortalBox", fmt.Sprintf(
		"%s (trained by %s), it appears you left your card in the %s at %s. Please remember to take the card with you.\n",
		traineeName, trainerName, equipmentType, location))
}

// send composes and dials a single-recipient email. Per §7's NotifierError
// classification, a delivery failure is logged and swallowed -- a stuck
// mail relay must never block the FSM.
func (n *SMTPNotifier) send(to, subject, body string) error {
	return n.sendToMany([]string{to}, subject, body)
}

// sendToMany composes and dials one email addressed to every non-empty
// recipient in to. Per §7's NotifierError classification, a delivery
// failure is logged and swallowed -- a stuck mail relay must never block
// the FSM.
func (n *SMTPNotifier) sendToMany(to []string, subject, body string) error {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		if addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		n.logger.Warn("notifier: no recipient address, skipping email", "subject", subject)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Error("notifier: send failed", "subject", subject, "error", err)
		return nil
	}
	return nil
}

// Noop is a Notifier that never sends mail, used when email.enabled=false.
type Noop struct {
	logger *slog.Logger
}

// NewNoop builds a Notifier that only logs what it would have sent.
func NewNoop(logger *slog.Logger) *Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Noop{logger: logger}
}

func (n *Noop) NotifyCardLeftBehind(ctx context.Context, to, userName, equipmentType, location string) error {
	n.logger.Info("notifier: email disabled, dropping notification", "kind", "card", "to", to)
	return nil
}

func (n *Noop) NotifyProxyCardLeftBehind(ctx context.Context, to, userName, equipmentType, location string) error {
	n.logger.Info("notifier: email disabled, dropping notification", "kind", "proxy", "to", to)
	return nil
}

func (n *Noop) NotifyTrainingCardLeftBehind(ctx context.Context, trainerEmail, trainerName, traineeEmail, traineeName, equipmentType, location string) error {
	n.logger.Info("notifier: email disabled, dropping notification", "kind", "training", "to", []string{trainerEmail, traineeEmail})
	return nil
}
