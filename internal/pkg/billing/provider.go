package billing

import (
	"context"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/notifications"
)

// Provider is the capability set each payment gateway integration
// implements. Adapters translate gateway-specific shapes into these
// provider-agnostic operations and catch gateway errors internally.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, user *models.User, plan *models.Plan, opts CheckoutOptions) *CheckoutResult
	HandleWebhook(ctx context.Context, payload []byte, headers map[string]string) *WebhookResult
	CancelSubscription(ctx context.Context, sub *models.Subscription) bool
	ChangePlan(ctx context.Context, sub *models.Subscription, newPlan *models.Plan) bool
	GetSubscriptionStatus(ctx context.Context, sub *models.Subscription) string
	Refund(ctx context.Context, providerReference string, amount int64) bool
}

// ProviderDeps are the collaborators handed to provider constructors.
type ProviderDeps struct {
	Store    repository.Store
	Subs     SubscriptionEngine
	Payments PaymentOps
	Notifier notifications.Notifier
}

// ProviderFactory builds a provider from its dependencies and the admin
// maintained gateway configuration.
type ProviderFactory func(deps ProviderDeps, setting *models.GatewaySetting) Provider

// providerFactories maps provider names to constructors. Dispatch is by
// name through this registry, not reflection.
var providerFactories = map[string]ProviderFactory{
	models.ProviderManual:      newManualProvider,
	models.ProviderStripe:      newStripeProvider,
	models.ProviderMercadoPago: newMercadoPagoProvider,
}

// defaultProviderOrder is the preference order when no provider is named:
// card gateway first, then wallet, then manual.
var defaultProviderOrder = []string{
	models.ProviderStripe,
	models.ProviderMercadoPago,
	models.ProviderManual,
}
