package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/consultahub/consultahub/app/models"
	"github.com/google/uuid"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// mercadoPagoProvider is the wallet gateway adapter. Checkout goes through
// preferences; webhook notifications only carry a payment id, so handling
// enriches them with a payment fetch before mapping the status vocabulary.
type mercadoPagoProvider struct {
	deps          ProviderDeps
	accessToken   string
	webhookSecret string
	sandbox       bool
	apiBaseURL    string
	httpClient    *http.Client
}

func newMercadoPagoProvider(deps ProviderDeps, setting *models.GatewaySetting) Provider {
	return &mercadoPagoProvider{
		deps:          deps,
		accessToken:   setting.Credential("access_token"),
		webhookSecret: setting.Credential("webhook_secret"),
		sandbox:       setting.Sandbox,
		apiBaseURL:    defaultMercadoPagoAPIBaseURL,
		httpClient:    &http.Client{Timeout: gatewayHTTPTimeout},
	}
}

func (p *mercadoPagoProvider) Name() string { return models.ProviderMercadoPago }

type mercadoPagoPreference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

func (p *mercadoPagoProvider) CreateCheckout(ctx context.Context, user *models.User, plan *models.Plan, opts CheckoutOptions) *CheckoutResult {
	if p.accessToken == "" {
		return &CheckoutResult{Error: "wallet payments are not configured"}
	}

	externalReference := "mp_" + uuid.NewString()
	body := map[string]any{
		"items": []map[string]any{{
			"title":       plan.Name,
			"quantity":    1,
			"currency_id": strings.ToUpper(plan.Currency),
			"unit_price":  float64(plan.Price) / 100,
		}},
		"external_reference": externalReference,
		"back_urls": map[string]string{
			"success": opts.SuccessURL,
			"failure": opts.CancelURL,
			"pending": opts.SuccessURL,
		},
		"auto_return": "approved",
	}

	var pref mercadoPagoPreference
	if err := p.postJSON(ctx, "/checkout/preferences", body, &pref); err != nil {
		log.Printf("mercadopago: preference for user %d failed: %v", user.ID, err)
		return &CheckoutResult{Error: "could not start wallet checkout"}
	}
	redirect := pref.InitPoint
	if p.sandbox && pref.SandboxInitPoint != "" {
		redirect = pref.SandboxInitPoint
	}
	if redirect == "" {
		return &CheckoutResult{Error: "wallet gateway returned an incomplete preference"}
	}

	sub, err := p.deps.Subs.CreatePendingSubscription(user.ID, plan, models.ProviderMercadoPago, externalReference)
	if err != nil {
		log.Printf("mercadopago: pending subscription for user %d failed: %v", user.ID, err)
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
		Provider:          models.ProviderMercadoPago,
		ProviderReference: externalReference,
		PaymentMethod:     "wallet",
	}
	payment.SetMetadataValue("preference_id", pref.ID)
	if err := p.deps.Store.Payments().Create(payment); err != nil {
		log.Printf("mercadopago: pending payment for user %d failed: %v", user.ID, err)
		return &CheckoutResult{Error: "could not register payment"}
	}

	return &CheckoutResult{
		Success:        true,
		URL:            redirect,
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
	}
}

type mercadoPagoNotification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

type mercadoPagoPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
}

func (p *mercadoPagoProvider) HandleWebhook(ctx context.Context, payload []byte, headers map[string]string) *WebhookResult {
	var note mercadoPagoNotification
	if err := json.Unmarshal(payload, &note); err != nil {
		return webhookProcessingError("malformed payload")
	}

	dataID := note.Data.ID.String()
	if !VerifyMercadoPagoSignature(dataID, headers["X-Request-Id"], headers["X-Signature"], p.webhookSecret) {
		return webhookInvalidSignature()
	}

	if note.Type != "payment" {
		return webhookOK("not handled")
	}

	// Dedupe on the notification's own id: one gateway payment emits
	// several payment.updated notifications over its life (approval,
	// refund), so keying on action+payment would collapse them. An absent
	// id falls back to the payload hash inside recordWebhookEvent.
	record, duplicate, err := recordWebhookEvent(p.deps.Store, models.ProviderMercadoPago, note.ID.String(), note.Action, payload)
	if err != nil {
		return webhookProcessingError("could not record event")
	}
	if duplicate {
		return webhookOK("duplicate delivery")
	}

	// The notification only identifies the gateway payment; enrich it to
	// learn the status and our external reference.
	var gw mercadoPagoPayment
	if err := p.getJSON(ctx, "/v1/payments/"+url.PathEscape(dataID), &gw); err != nil {
		log.Printf("mercadopago: enrich payment %s failed: %v", dataID, err)
		markWebhookProcessed(p.deps.Store, record, err)
		return webhookProcessingError("payment lookup failed")
	}
	if gw.ExternalReference == "" {
		markWebhookProcessed(p.deps.Store, record, nil)
		return webhookOK("no external reference")
	}
	p.rememberGatewayPaymentID(gw.ExternalReference, dataID)

	var procErr error
	result := webhookOK("processed")
	switch gw.Status {
	case "approved":
		procErr = p.deps.Payments.ConfirmByReference(models.ProviderMercadoPago, gw.ExternalReference)
	case "pending", "in_process", "authorized":
		result = webhookOK("payment still pending")
	case "rejected", "cancelled":
		reason := gw.StatusDetail
		if reason == "" {
			reason = gw.Status
		}
		procErr = p.deps.Payments.FailByReference(models.ProviderMercadoPago, gw.ExternalReference, reason)
	case "refunded", "charged_back":
		procErr = p.deps.Payments.RefundByReference(models.ProviderMercadoPago, gw.ExternalReference)
	default:
		result = webhookOK("not handled")
	}
	if procErr != nil {
		log.Printf("mercadopago: processing payment %s (%s) failed: %v", dataID, gw.Status, procErr)
		result = webhookProcessingError("event processing failed")
	}
	markWebhookProcessed(p.deps.Store, record, procErr)
	return result
}

// rememberGatewayPaymentID stores the gateway's own payment id on our
// payment record; the refund endpoint is keyed by it, not by our reference.
func (p *mercadoPagoProvider) rememberGatewayPaymentID(externalReference, gatewayPaymentID string) {
	payment, err := p.deps.Store.Payments().GetByProviderReference(models.ProviderMercadoPago, externalReference)
	if err != nil {
		return
	}
	if payment.Metadata()["gateway_payment_id"] == gatewayPaymentID {
		return
	}
	payment.SetMetadataValue("gateway_payment_id", gatewayPaymentID)
	if err := p.deps.Store.Payments().Update(payment); err != nil {
		log.Printf("mercadopago: storing gateway payment id for %s failed: %v", externalReference, err)
	}
}

func (p *mercadoPagoProvider) CancelSubscription(_ context.Context, _ *models.Subscription) bool {
	// Preference-based collection has nothing long-lived to cancel on the
	// gateway; the local state machine is authoritative.
	return true
}

func (p *mercadoPagoProvider) ChangePlan(_ context.Context, _ *models.Subscription, _ *models.Plan) bool {
	return true
}

func (p *mercadoPagoProvider) GetSubscriptionStatus(_ context.Context, sub *models.Subscription) string {
	return sub.Status
}

func (p *mercadoPagoProvider) Refund(ctx context.Context, providerReference string, amount int64) bool {
	payment, err := p.deps.Store.Payments().GetByProviderReference(models.ProviderMercadoPago, providerReference)
	if err != nil {
		log.Printf("mercadopago: refund for unknown reference %q", providerReference)
		return false
	}
	gatewayPaymentID := payment.Metadata()["gateway_payment_id"]
	if gatewayPaymentID == "" {
		log.Printf("mercadopago: payment %d has no gateway payment id, cannot refund", payment.ID)
		return false
	}

	body := map[string]any{}
	if amount > 0 {
		body["amount"] = float64(amount) / 100
	}
	var out map[string]any
	if err := p.postJSON(ctx, "/v1/payments/"+url.PathEscape(gatewayPaymentID)+"/refunds", body, &out); err != nil {
		log.Printf("mercadopago: refund %s failed: %v", providerReference, err)
		return false
	}
	return p.deps.Payments.RefundByReference(models.ProviderMercadoPago, providerReference) == nil
}

func (p *mercadoPagoProvider) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.apiBaseURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

func (p *mercadoPagoProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.apiBaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *mercadoPagoProvider) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mercadopago api %s: status=%d body=%s", req.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
