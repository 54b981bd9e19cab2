package billing

import (
	"context"
	"log"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/internal/pkg/subscription"
)

// manualProvider is the offline gateway: free plans activate immediately,
// paid plans get a pending payment an admin later approves. It is the
// reference behavior other providers' offline paths match.
type manualProvider struct {
	deps ProviderDeps
}

func newManualProvider(deps ProviderDeps, _ *models.GatewaySetting) Provider {
	return &manualProvider{deps: deps}
}

func (p *manualProvider) Name() string { return models.ProviderManual }

func (p *manualProvider) CreateCheckout(ctx context.Context, user *models.User, plan *models.Plan, _ CheckoutOptions) *CheckoutResult {
	if plan.IsFree() {
		sub, err := p.deps.Subs.Subscribe(subscription.SubscribeInput{
			UserID:   user.ID,
			Plan:     plan,
			Provider: models.ProviderManual,
		})
		if err != nil {
			log.Printf("manual: free subscribe for user %d failed: %v", user.ID, err)
			return &CheckoutResult{Error: "could not activate plan"}
		}
		return &CheckoutResult{
			Success:        true,
			Message:        "Plan activated.",
			SubscriptionID: sub.ID,
		}
	}

	// No collection capability: leave a pending payment for the admin
	// approval flow and tell the user to get in touch.
	sub, err := p.deps.Subs.CreatePendingSubscription(user.ID, plan, models.ProviderManual, "")
	if err != nil {
		log.Printf("manual: pending subscription for user %d failed: %v", user.ID, err)
		return &CheckoutResult{Error: "could not register subscription request"}
	}
	subID := sub.ID
	planID := plan.ID
	payment := &models.Payment{
		SubscriptionID:    &subID,
		UserID:            user.ID,
		PlanID:            &planID,
		Amount:            plan.Price,
		Currency:          plan.Currency,
		Status:            models.PaymentStatusPending,
		Provider:          models.ProviderManual,
		ProviderReference: newPaymentReference(),
		PaymentMethod:     "manual",
	}
	if err := p.deps.Store.Payments().Create(payment); err != nil {
		log.Printf("manual: pending payment for user %d failed: %v", user.ID, err)
		return &CheckoutResult{Error: "could not register payment request"}
	}

	return &CheckoutResult{
		Error:          "This plan requires manual payment. Please contact support to complete your subscription.",
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
	}
}

func (p *manualProvider) HandleWebhook(_ context.Context, _ []byte, _ map[string]string) *WebhookResult {
	return webhookOK("not handled")
}

func (p *manualProvider) CancelSubscription(_ context.Context, _ *models.Subscription) bool {
	return true
}

func (p *manualProvider) ChangePlan(_ context.Context, _ *models.Subscription, _ *models.Plan) bool {
	return true
}

func (p *manualProvider) GetSubscriptionStatus(_ context.Context, sub *models.Subscription) string {
	return sub.Status
}

func (p *manualProvider) Refund(_ context.Context, providerReference string, _ int64) bool {
	// No gateway to call; the refund is purely a ledger transition.
	return p.deps.Payments.RefundByReference(models.ProviderManual, providerReference) == nil
}
