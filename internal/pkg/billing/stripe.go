package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/consultahub/consultahub/app/models"
	"gorm.io/gorm"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// stripeSignatureTolerance bounds how stale a signed webhook timestamp may
// be before the delivery is rejected as a replay.
const stripeSignatureTolerance = 5 * time.Minute

// stripeProvider is the card gateway adapter. It talks to the Checkout
// Sessions API directly over HTTP and reconciles webhook events onto
// payment records by session id.
type stripeProvider struct {
	deps          ProviderDeps
	secretKey     string
	webhookSecret string
	apiBaseURL    string
	httpClient    *http.Client
}

func newStripeProvider(deps ProviderDeps, setting *models.GatewaySetting) Provider {
	return &stripeProvider{
		deps:          deps,
		secretKey:     setting.Credential("secret_key"),
		webhookSecret: setting.Credential("webhook_secret"),
		apiBaseURL:    defaultStripeAPIBaseURL,
		httpClient:    &http.Client{Timeout: gatewayHTTPTimeout},
	}
}

func (p *stripeProvider) Name() string { return models.ProviderStripe }

type stripeCheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	PaymentIntent string `json:"payment_intent"`
}

func (p *stripeProvider) CreateCheckout(ctx context.Context, user *models.User, plan *models.Plan, opts CheckoutOptions) *CheckoutResult {
	if p.secretKey == "" {
		return &CheckoutResult{Error: "card payments are not configured"}
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", strconv.FormatUint(uint64(user.ID), 10))
	form.Set("success_url", opts.SuccessURL)
	form.Set("cancel_url", opts.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(plan.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(plan.Price, 10))
	form.Set("line_items[0][price_data][product_data][name]", plan.Name)

	var session stripeCheckoutSession
	if err := p.postForm(ctx, "/v1/checkout/sessions", form, &session); err != nil {
		log.Printf("stripe: checkout session for user %d failed: %v", user.ID, err)
		return &CheckoutResult{Error: "could not start card checkout"}
	}
	if session.ID == "" || session.URL == "" {
		return &CheckoutResult{Error: "card gateway returned an incomplete session"}
	}

	sub, err := p.deps.Subs.CreatePendingSubscription(user.ID, plan, models.ProviderStripe, session.ID)
	if err != nil {
		log.Printf("stripe: pending subscription for user %d failed: %v", user.ID, err)
		return &CheckoutResult{Error: "could not register subscription"}
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
		Provider:          models.ProviderStripe,
		ProviderReference: session.ID,
		PaymentMethod:     "card",
	}
	if err := p.deps.Store.Payments().Create(payment); err != nil {
		log.Printf("stripe: pending payment for user %d failed: %v", user.ID, err)
		return &CheckoutResult{Error: "could not register payment"}
	}

	return &CheckoutResult{
		Success:        true,
		URL:            session.URL,
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
	}
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string `json:"id"`
			PaymentIntent string `json:"payment_intent"`
		} `json:"object"`
	} `json:"data"`
}

func (p *stripeProvider) HandleWebhook(_ context.Context, payload []byte, headers map[string]string) *WebhookResult {
	if !VerifyStripeSignature(payload, headers["Stripe-Signature"], p.webhookSecret, stripeSignatureTolerance, time.Now()) {
		return webhookInvalidSignature()
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return webhookProcessingError("malformed payload")
	}

	record, duplicate, err := recordWebhookEvent(p.deps.Store, models.ProviderStripe, event.ID, event.Type, payload)
	if err != nil {
		return webhookProcessingError("could not record event")
	}
	if duplicate {
		return webhookOK("duplicate delivery")
	}

	reference := event.Data.Object.ID

	var procErr error
	result := webhookOK("processed")
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		p.rememberPaymentIntent(reference, event.Data.Object.PaymentIntent)
		procErr = p.deps.Payments.ConfirmByReference(models.ProviderStripe, reference)
	case "checkout.session.expired":
		procErr = p.deps.Payments.FailByReference(models.ProviderStripe, reference, "checkout session expired")
	case "checkout.session.async_payment_failed":
		procErr = p.deps.Payments.FailByReference(models.ProviderStripe, reference, "payment failed")
	case "charge.refunded":
		// Charge events carry the charge id, not our session reference;
		// the payment intent stored at confirmation is the join key.
		procErr = p.refundByPaymentIntent(event.Data.Object.PaymentIntent)
	default:
		// Gateways send plenty of event types we have no interest in;
		// acknowledging them stops pointless retries.
		result = webhookOK("not handled")
	}
	if procErr != nil {
		log.Printf("stripe: processing %s event %s failed: %v", event.Type, event.ID, procErr)
		result = webhookProcessingError("event processing failed")
	}
	markWebhookProcessed(p.deps.Store, record, procErr)
	return result
}

// rememberPaymentIntent stores the session's payment intent on our payment
// record; refunds are keyed by it, not by the session id.
func (p *stripeProvider) rememberPaymentIntent(sessionID, intent string) {
	if intent == "" {
		return
	}
	payment, err := p.deps.Store.Payments().GetByProviderReference(models.ProviderStripe, sessionID)
	if err != nil {
		return
	}
	if payment.Metadata()["payment_intent"] == intent {
		return
	}
	payment.SetMetadataValue("payment_intent", intent)
	if err := p.deps.Store.Payments().Update(payment); err != nil {
		log.Printf("stripe: storing payment intent for %s failed: %v", sessionID, err)
	}
}

func (p *stripeProvider) refundByPaymentIntent(intent string) error {
	if intent == "" {
		log.Printf("stripe: refund event without payment intent, ignoring")
		return nil
	}
	payment, err := p.deps.Store.Payments().GetByProviderMetadata(models.ProviderStripe, "payment_intent", intent)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("stripe: refund event for unknown payment intent %q", intent)
			return nil
		}
		return err
	}
	return p.deps.Payments.RefundByReference(models.ProviderStripe, payment.ProviderReference)
}

func (p *stripeProvider) CancelSubscription(ctx context.Context, sub *models.Subscription) bool {
	if sub.ProviderReference == "" {
		return true
	}
	var out map[string]any
	err := p.postForm(ctx, "/v1/checkout/sessions/"+url.PathEscape(sub.ProviderReference)+"/expire", url.Values{}, &out)
	if err != nil {
		log.Printf("stripe: expire session %s: %v", sub.ProviderReference, err)
		return false
	}
	return true
}

func (p *stripeProvider) ChangePlan(_ context.Context, _ *models.Subscription, _ *models.Plan) bool {
	// Plan changes are billed internally on the next cycle; nothing to
	// mirror on the gateway for session-based collection.
	return true
}

func (p *stripeProvider) GetSubscriptionStatus(ctx context.Context, sub *models.Subscription) string {
	if sub.ProviderReference == "" {
		return sub.Status
	}
	var session stripeCheckoutSession
	if err := p.getJSON(ctx, "/v1/checkout/sessions/"+url.PathEscape(sub.ProviderReference), &session); err != nil {
		log.Printf("stripe: fetch session %s: %v", sub.ProviderReference, err)
		return sub.Status
	}
	if session.PaymentStatus == "paid" {
		return models.SubscriptionStatusActive
	}
	return sub.Status
}

func (p *stripeProvider) Refund(ctx context.Context, providerReference string, amount int64) bool {
	payment, err := p.deps.Store.Payments().GetByProviderReference(models.ProviderStripe, providerReference)
	if err != nil {
		log.Printf("stripe: refund for unknown reference %q", providerReference)
		return false
	}
	intent := payment.Metadata()["payment_intent"]
	if intent == "" {
		// Session ids are not valid refund targets; without the intent
		// captured at confirmation there is nothing to refund against.
		log.Printf("stripe: payment %d has no payment intent, cannot refund", payment.ID)
		return false
	}

	form := url.Values{}
	form.Set("payment_intent", intent)
	if amount > 0 {
		form.Set("amount", strconv.FormatInt(amount, 10))
	}
	var out map[string]any
	if err := p.postForm(ctx, "/v1/refunds", form, &out); err != nil {
		log.Printf("stripe: refund %s failed: %v", providerReference, err)
		return false
	}
	return p.deps.Payments.RefundByReference(models.ProviderStripe, providerReference) == nil
}

func (p *stripeProvider) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.apiBaseURL, "/")+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req, out)
}

func (p *stripeProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.apiBaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *stripeProvider) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stripe api %s: status=%d body=%s", req.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
