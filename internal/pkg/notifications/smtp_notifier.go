package notifications

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/env"
)

// SMTPNotifier sends billing emails via SMTP. Each send runs in its own
// goroutine so callers never block on mail delivery.
type SMTPNotifier struct {
	users repository.UserRepository
}

// NewSMTPNotifier creates an SMTP notifier resolving recipients through
// the user repository.
func NewSMTPNotifier(users repository.UserRepository) *SMTPNotifier {
	return &SMTPNotifier{users: users}
}

func (n *SMTPNotifier) SubscriptionActivated(sub *models.Subscription) {
	planName := ""
	if sub.Plan != nil {
		planName = sub.Plan.Name
	}
	n.sendToUser(sub.UserID, "Your subscription is active",
		fmt.Sprintf("<p>Your subscription%s is now active. Lookups are available immediately.</p>", planLabel(planName)))
}

func (n *SMTPNotifier) PaymentApproved(payment *models.Payment) {
	n.sendToUser(payment.UserID, "Payment received",
		fmt.Sprintf("<p>We received your payment of %d %s. Thank you!</p>", payment.Amount, payment.Currency))
}

func (n *SMTPNotifier) PaymentFailed(payment *models.Payment) {
	reason := payment.FailureReason
	if reason == "" {
		reason = "the payment was not approved"
	}
	n.sendToUser(payment.UserID, "Payment failed",
		fmt.Sprintf("<p>Your payment could not be processed: %s. Please try again or pick another payment method.</p>", reason))
}

func planLabel(name string) string {
	if name == "" {
		return ""
	}
	return " to " + name
}

func (n *SMTPNotifier) sendToUser(userID uint, subject, body string) {
	user, err := n.users.GetByID(userID)
	if err != nil {
		log.Printf("notification: could not resolve user %d: %v", userID, err)
		return
	}
	go func(to string) {
		if err := sendMail(to, subject, body); err != nil {
			log.Printf("notification: send to %s failed: %v", to, err)
		}
	}(user.Email)
}

func sendMail(to, subject, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "25")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if host == "" {
		return fmt.Errorf("SMTP_HOST not configured")
	}
	if sender == "" {
		sender = "no-reply@localhost"
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
	return smtp.SendMail(addr, auth, sender, []string{to}, msg)
}
