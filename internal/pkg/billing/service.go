package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/notifications"
	"gorm.io/gorm"
)

// ErrUnknownProvider is returned for provider names outside the registry.
var ErrUnknownProvider = errors.New("billing: unknown provider")

// ErrNoProviderEnabled is returned when no gateway is enabled and manual
// fallback is unavailable.
var ErrNoProviderEnabled = errors.New("billing: no payment provider enabled")

// ErrNotRefundable is returned when a refund is requested for a payment
// that is not in the paid state.
var ErrNotRefundable = errors.New("billing: payment is not refundable")

// ErrRefundFailed is returned when the gateway declines or fails the
// refund call.
var ErrRefundFailed = errors.New("billing: gateway refund failed")

// Service resolves providers by name, caches one instance per provider and
// forwards checkout and webhook work. It carries no gateway business logic
// beyond default-provider selection and payment-record reconciliation.
type Service struct {
	store    repository.Store
	subs     SubscriptionEngine
	notifier notifications.Notifier

	mu        sync.Mutex
	instances map[string]Provider
}

// NewService creates the billing orchestrator.
func NewService(store repository.Store, subs SubscriptionEngine, notifier notifications.Notifier) *Service {
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	return &Service{
		store:     store,
		subs:      subs,
		notifier:  notifier,
		instances: make(map[string]Provider),
	}
}

// ResolveProvider returns the provider for name, or the default provider
// when name is empty. Defaults follow the configured preference order
// across enabled gateways, falling back to manual.
func (s *Service) ResolveProvider(name string) (Provider, error) {
	if name == "" {
		return s.defaultProvider()
	}
	return s.provider(name)
}

func (s *Service) defaultProvider() (Provider, error) {
	enabled, err := s.store.GatewaySettings().ListEnabled()
	if err != nil {
		return nil, err
	}
	on := make(map[string]bool, len(enabled))
	for _, g := range enabled {
		on[g.Provider] = true
	}
	for _, name := range defaultProviderOrder {
		if on[name] || name == models.ProviderManual {
			return s.provider(name)
		}
	}
	return nil, ErrNoProviderEnabled
}

func (s *Service) provider(name string) (Provider, error) {
	s.mu.Lock()
	if p, ok := s.instances[name]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	factory, ok := providerFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	setting, err := s.store.GatewaySettings().GetByProvider(name)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// Manual needs no gateway configuration.
		if name != models.ProviderManual {
			return nil, fmt.Errorf("billing: provider %s is not configured", name)
		}
		setting = &models.GatewaySetting{Provider: models.ProviderManual, Enabled: true}
	}

	deps := ProviderDeps{
		Store:    s.store,
		Subs:     s.subs,
		Payments: s,
		Notifier: s.notifier,
	}
	p := factory(deps, setting)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.instances[name]; ok {
		return cached, nil
	}
	s.instances[name] = p
	return p, nil
}

// CreateCheckout dispatches checkout creation to the resolved provider.
func (s *Service) CreateCheckout(ctx context.Context, user *models.User, plan *models.Plan, providerName string, opts CheckoutOptions) *CheckoutResult {
	p, err := s.ResolveProvider(providerName)
	if err != nil {
		log.Printf("billing: resolve provider %q: %v", providerName, err)
		return &CheckoutResult{Error: "payment provider unavailable"}
	}
	return p.CreateCheckout(ctx, user, plan, opts)
}

// HandleWebhook dispatches a raw webhook delivery to the named provider.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, headers map[string]string) *WebhookResult {
	p, err := s.provider(providerName)
	if err != nil {
		log.Printf("billing: webhook for unresolved provider %q: %v", providerName, err)
		return webhookProcessingError("provider unavailable")
	}
	return p.HandleWebhook(ctx, payload, headers)
}

// ApprovePayment is the admin path for manual collection: it moves a
// pending payment to paid through the subscription engine.
func (s *Service) ApprovePayment(paymentID uint) (*models.Subscription, error) {
	return s.subs.ConfirmPayment(paymentID)
}

// RefundPayment is the admin path for refunds: the payment's own provider
// refunds the full amount on the gateway, then the record moves to
// refunded through the usual reference reconciliation.
func (s *Service) RefundPayment(ctx context.Context, paymentID uint) error {
	payment, err := s.store.Payments().GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment.Status != models.PaymentStatusPaid {
		return ErrNotRefundable
	}
	p, err := s.provider(payment.Provider)
	if err != nil {
		return err
	}
	if !p.Refund(ctx, payment.ProviderReference, payment.Amount) {
		return ErrRefundFailed
	}
	return nil
}

// ConfirmByReference resolves a gateway reference to its payment and
// confirms it. An unknown reference is logged and ignored so gateways do
// not retry deliveries we can never reconcile.
func (s *Service) ConfirmByReference(provider, reference string) error {
	payment, err := s.store.Payments().GetByProviderReference(provider, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("billing: %s webhook for unknown reference %q", provider, reference)
			return nil
		}
		return err
	}
	_, err = s.subs.ConfirmPayment(payment.ID)
	return err
}

// FailByReference marks the referenced payment failed. Settled payments
// are left untouched (redelivery no-op).
func (s *Service) FailByReference(provider, reference, reason string) error {
	var failed *models.Payment
	err := s.store.Transaction(func(tx repository.Store) error {
		payment, err := tx.Payments().GetByProviderReferenceForUpdate(provider, reference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("billing: %s failure webhook for unknown reference %q", provider, reference)
				return nil
			}
			return err
		}
		if !payment.CanTransitionTo(models.PaymentStatusFailed) {
			return nil
		}
		payment.Status = models.PaymentStatusFailed
		payment.FailureReason = reason
		if err := tx.Payments().Update(payment); err != nil {
			return err
		}
		failed = payment
		return nil
	})
	if err != nil {
		return err
	}
	if failed != nil {
		s.notifier.PaymentFailed(failed)
	}
	return nil
}

// RefundByReference marks the referenced payment refunded. Only paid
// payments can move there.
func (s *Service) RefundByReference(provider, reference string) error {
	return s.store.Transaction(func(tx repository.Store) error {
		payment, err := tx.Payments().GetByProviderReferenceForUpdate(provider, reference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("billing: %s refund webhook for unknown reference %q", provider, reference)
				return nil
			}
			return err
		}
		if !payment.CanTransitionTo(models.PaymentStatusRefunded) {
			return nil
		}
		payment.Status = models.PaymentStatusRefunded
		return tx.Payments().Update(payment)
	})
}

// recordWebhookEvent persists a delivery idempotently. The returned event
// is nil only on storage errors; duplicate reports whether an identical
// delivery was already fully processed.
func recordWebhookEvent(store repository.Store, provider, eventID, eventType string, payload []byte) (event *models.WebhookEvent, duplicate bool, err error) {
	if eventID == "" {
		eventID = hashEventID(payload)
	}
	created, stored, err := store.WebhookEvents().CreateIfNotExists(&models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, false, err
	}
	return stored, !created && stored.ProcessedAt != nil, nil
}

func markWebhookProcessed(store repository.Store, event *models.WebhookEvent, processingErr error) {
	if event == nil {
		return
	}
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	if err := store.WebhookEvents().MarkProcessed(event.ID, msg); err != nil {
		log.Printf("billing: mark webhook %d processed: %v", event.ID, err)
	}
}

// bounded timeout for all outbound gateway calls; gateway hangs must not
// hold request handlers open.
const gatewayHTTPTimeout = 10 * time.Second
