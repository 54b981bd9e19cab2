package notifications

import (
	"log"

	"github.com/consultahub/consultahub/app/models"
)

// Notifier delivers fire-and-forget billing notifications. Delivery
// failures are logged and swallowed; they must never roll back a
// subscription or payment state transition.
type Notifier interface {
	SubscriptionActivated(sub *models.Subscription)
	PaymentApproved(payment *models.Payment)
	PaymentFailed(payment *models.Payment)
}

// Noop discards all notifications. Used in tests and when SMTP is not
// configured.
type Noop struct{}

func (Noop) SubscriptionActivated(sub *models.Subscription) {
	log.Printf("notification skipped: subscription %d activated", sub.ID)
}

func (Noop) PaymentApproved(payment *models.Payment) {
	log.Printf("notification skipped: payment %d approved", payment.ID)
}

func (Noop) PaymentFailed(payment *models.Payment) {
	log.Printf("notification skipped: payment %d failed", payment.ID)
}
