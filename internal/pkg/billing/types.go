package billing

import (
	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/internal/pkg/subscription"
)

// CheckoutOptions carries the caller-supplied redirect targets for
// redirect-based gateways.
type CheckoutOptions struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutResult is the canonical checkout outcome. Redirect-based
// gateways fill URL; synchronous flows (free/manual plans) fill Message.
// Gateway errors surface here as Success=false, never as panics or raw
// errors past the provider boundary.
type CheckoutResult struct {
	Success        bool   `json:"success"`
	URL            string `json:"url,omitempty"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	SubscriptionID uint   `json:"subscription_id,omitempty"`
	PaymentID      uint   `json:"payment_id,omitempty"`
}

// Webhook error codes controlling the HTTP status the endpoint returns.
const (
	WebhookErrInvalidSignature = "invalid_signature"
	WebhookErrProcessing       = "processing_error"
)

// WebhookResult is the canonical webhook-handling outcome. Unrecognized
// event types are reported as Success=true ("not handled") so gateways do
// not retry events we intentionally ignore.
type WebhookResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"-"`
}

func webhookOK(message string) *WebhookResult {
	return &WebhookResult{Success: true, Message: message}
}

func webhookInvalidSignature() *WebhookResult {
	return &WebhookResult{Error: "invalid signature", ErrorCode: WebhookErrInvalidSignature}
}

func webhookProcessingError(msg string) *WebhookResult {
	return &WebhookResult{Error: msg, ErrorCode: WebhookErrProcessing}
}

// SubscriptionEngine is the slice of the subscription service the billing
// side is allowed to drive. It is the only path from billing into
// subscription state.
type SubscriptionEngine interface {
	Subscribe(in subscription.SubscribeInput) (*models.Subscription, error)
	CreatePendingSubscription(userID uint, plan *models.Plan, provider, providerReference string) (*models.Subscription, error)
	ConfirmPayment(paymentID uint) (*models.Subscription, error)
}

// PaymentOps reconciles gateway transaction outcomes onto payment records
// by provider reference. Implemented by the billing service so provider
// adapters stay free of persistence details.
type PaymentOps interface {
	ConfirmByReference(provider, reference string) error
	FailByReference(provider, reference, reason string) error
	RefundByReference(provider, reference string) error
}
