package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository/repositorytest"
	"github.com/consultahub/consultahub/internal/pkg/notifications"
	"github.com/consultahub/consultahub/internal/pkg/subscription"
)

type billingFixture struct {
	store *repositorytest.MemoryStore
	subs  *subscription.Service
	svc   *Service
	deps  ProviderDeps
	user  *models.User
	plan  *models.Plan
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	store := repositorytest.NewMemoryStore()
	subs := subscription.NewService(store, nil, time.UTC)
	svc := NewService(store, subs, nil)
	user := store.AddUser(&models.User{
		Name:   "Jane Doe",
		Email:  "jane@example.com",
		Status: models.STATUS_ACTIVE,
	})
	plan := store.AddPlan(&models.Plan{
		Name:         "Pro",
		Slug:         "pro",
		Price:        4990,
		Currency:     "BRL",
		Interval:     models.PlanIntervalMonthly,
		MonthlyQuota: 1000,
		IsActive:     true,
	})
	return &billingFixture{
		store: store,
		subs:  subs,
		svc:   svc,
		deps: ProviderDeps{
			Store:    store,
			Subs:     subs,
			Payments: svc,
			Notifier: notifications.Noop{},
		},
		user: user,
		plan: plan,
	}
}

func TestManualCheckoutFreePlanActivatesImmediately(t *testing.T) {
	fx := newBillingFixture(t)
	free := fx.store.AddPlan(&models.Plan{
		Name:     "Free",
		Slug:     "free",
		Price:    0,
		Currency: "BRL",
		Interval: models.PlanIntervalMonthly,
		IsActive: true,
	})
	p := newManualProvider(fx.deps, nil)

	result := p.CreateCheckout(context.Background(), fx.user, free, CheckoutOptions{})
	require.True(t, result.Success)
	require.NotZero(t, result.SubscriptionID)

	sub := fx.store.Subscription(result.SubscriptionID)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Zero(t, result.PaymentID, "free plans collect no payment")
}

func TestManualCheckoutPaidPlanLeavesPendingPayment(t *testing.T) {
	fx := newBillingFixture(t)
	p := newManualProvider(fx.deps, nil)

	result := p.CreateCheckout(context.Background(), fx.user, fx.plan, CheckoutOptions{})
	require.False(t, result.Success)
	require.NotZero(t, result.SubscriptionID)
	require.NotZero(t, result.PaymentID)

	sub := fx.store.Subscription(result.SubscriptionID)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)

	payment := fx.store.Payment(result.PaymentID)
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, fx.plan.Price, payment.Amount)

	// Admin approval settles the payment and activates the subscription.
	activated, err := fx.svc.ApprovePayment(result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, activated.Status)
	assert.Equal(t, models.PaymentStatusPaid, fx.store.Payment(result.PaymentID).Status)
}

func newStripeTestProvider(fx *billingFixture, apiURL string) *stripeProvider {
	return &stripeProvider{
		deps:          fx.deps,
		secretKey:     "sk_test_123",
		webhookSecret: "whsec_test",
		apiBaseURL:    apiURL,
		httpClient:    &http.Client{Timeout: gatewayHTTPTimeout},
	}
}

func TestStripeCreateCheckout(t *testing.T) {
	fx := newBillingFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			http.NotFound(w, r)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "brl", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "4990", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_test_1",
			"url": "https://checkout.example/cs_test_1",
		})
	}))
	defer srv.Close()
	p := newStripeTestProvider(fx, srv.URL)

	result := p.CreateCheckout(context.Background(), fx.user, fx.plan, CheckoutOptions{
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
	})
	require.True(t, result.Success, "checkout failed: %s", result.Error)
	assert.Equal(t, "https://checkout.example/cs_test_1", result.URL)

	payment := fx.store.Payment(result.PaymentID)
	require.NotNil(t, payment)
	assert.Equal(t, models.ProviderStripe, payment.Provider)
	assert.Equal(t, "cs_test_1", payment.ProviderReference)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)

	sub := fx.store.Subscription(result.SubscriptionID)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
}

func stripeWebhookPayload(eventID, eventType, sessionID string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{"object": map[string]any{"id": sessionID}},
	})
	return raw
}

func stripeWebhookPayloadWithIntent(eventID, eventType, objectID, intent string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{"object": map[string]any{
			"id":             objectID,
			"payment_intent": intent,
		}},
	})
	return raw
}

func seedStripePending(t *testing.T, fx *billingFixture, sessionID string) *models.Payment {
	t.Helper()
	sub, err := fx.subs.CreatePendingSubscription(fx.user.ID, fx.plan, models.ProviderStripe, sessionID)
	require.NoError(t, err)
	subID := sub.ID
	planID := fx.plan.ID
	payment := &models.Payment{
		SubscriptionID:    &subID,
		UserID:            fx.user.ID,
		PlanID:            &planID,
		Amount:            fx.plan.Price,
		Currency:          fx.plan.Currency,
		Status:            models.PaymentStatusPending,
		Provider:          models.ProviderStripe,
		ProviderReference: sessionID,
	}
	require.NoError(t, fx.store.Payments().Create(payment))
	return payment
}

func TestStripeWebhookCompletedActivatesSubscription(t *testing.T) {
	fx := newBillingFixture(t)
	p := newStripeTestProvider(fx, "http://unused.invalid")
	payment := seedStripePending(t, fx, "cs_done_1")

	payload := stripeWebhookPayload("evt_1", "checkout.session.completed", "cs_done_1")
	headers := map[string]string{"Stripe-Signature": stripeHeader(payload, "whsec_test", time.Now())}

	result := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success, "webhook failed: %s", result.Error)

	assert.Equal(t, models.PaymentStatusPaid, fx.store.Payment(payment.ID).Status)
	assert.Equal(t, models.SubscriptionStatusActive, fx.store.Subscription(*payment.SubscriptionID).Status)

	// Redelivery of the same event is acknowledged without reprocessing.
	again := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, again.Success)
	assert.Equal(t, "duplicate delivery", again.Message)
}

// flakyPaymentOps fails the first confirmation to simulate a transient
// store outage during webhook processing.
type flakyPaymentOps struct {
	inner     PaymentOps
	failFirst bool
}

func (f *flakyPaymentOps) ConfirmByReference(provider, reference string) error {
	if f.failFirst {
		f.failFirst = false
		return errStoreOutage
	}
	return f.inner.ConfirmByReference(provider, reference)
}

func (f *flakyPaymentOps) FailByReference(provider, reference, reason string) error {
	return f.inner.FailByReference(provider, reference, reason)
}

func (f *flakyPaymentOps) RefundByReference(provider, reference string) error {
	return f.inner.RefundByReference(provider, reference)
}

var errStoreOutage = errors.New("store unavailable")

func TestStripeWebhookRedeliveryAfterFailureIsReprocessed(t *testing.T) {
	fx := newBillingFixture(t)
	p := newStripeTestProvider(fx, "http://unused.invalid")
	p.deps.Payments = &flakyPaymentOps{inner: fx.svc, failFirst: true}
	payment := seedStripePending(t, fx, "cs_retry_1")

	payload := stripeWebhookPayload("evt_retry_1", "checkout.session.completed", "cs_retry_1")
	headers := map[string]string{"Stripe-Signature": stripeHeader(payload, "whsec_test", time.Now())}

	// First delivery fails mid-processing; the 500-path response makes
	// the gateway redeliver, and the payment must stay pending.
	result := p.HandleWebhook(context.Background(), payload, headers)
	require.False(t, result.Success)
	assert.Equal(t, WebhookErrProcessing, result.ErrorCode)
	assert.Equal(t, models.PaymentStatusPending, fx.store.Payment(payment.ID).Status)

	// The redelivery is not treated as a duplicate and completes the
	// confirmation.
	again := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, again.Success, "redelivery failed: %s", again.Error)
	assert.NotEqual(t, "duplicate delivery", again.Message)
	assert.Equal(t, models.PaymentStatusPaid, fx.store.Payment(payment.ID).Status)
	assert.Equal(t, models.SubscriptionStatusActive, fx.store.Subscription(*payment.SubscriptionID).Status)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	fx := newBillingFixture(t)
	p := newStripeTestProvider(fx, "http://unused.invalid")

	payload := stripeWebhookPayload("evt_2", "checkout.session.completed", "cs_x")
	headers := map[string]string{"Stripe-Signature": stripeHeader(payload, "whsec_wrong", time.Now())}

	result := p.HandleWebhook(context.Background(), payload, headers)
	assert.False(t, result.Success)
	assert.Equal(t, WebhookErrInvalidSignature, result.ErrorCode)
}

func TestStripeWebhookExpiredSessionFailsPayment(t *testing.T) {
	fx := newBillingFixture(t)
	p := newStripeTestProvider(fx, "http://unused.invalid")
	payment := seedStripePending(t, fx, "cs_exp_1")

	payload := stripeWebhookPayload("evt_3", "checkout.session.expired", "cs_exp_1")
	headers := map[string]string{"Stripe-Signature": stripeHeader(payload, "whsec_test", time.Now())}

	result := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success)

	got := fx.store.Payment(payment.ID)
	assert.Equal(t, models.PaymentStatusFailed, got.Status)
	assert.Equal(t, "checkout session expired", got.FailureReason)
}

func TestStripeWebhookRefundRoundtrip(t *testing.T) {
	fx := newBillingFixture(t)
	p := newStripeTestProvider(fx, "http://unused.invalid")
	payment := seedStripePending(t, fx, "cs_rt_1")

	// Confirmation captures the payment intent alongside settling the
	// payment.
	payload := stripeWebhookPayloadWithIntent("evt_rt_1", "checkout.session.completed", "cs_rt_1", "pi_rt_1")
	headers := map[string]string{"Stripe-Signature": stripeHeader(payload, "whsec_test", time.Now())}
	result := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success, "confirm failed: %s", result.Error)

	got := fx.store.Payment(payment.ID)
	require.Equal(t, models.PaymentStatusPaid, got.Status)
	assert.Equal(t, "pi_rt_1", got.Metadata()["payment_intent"])

	// The refund event identifies the charge, not the session; the stored
	// intent joins it back to our payment.
	payload = stripeWebhookPayloadWithIntent("evt_rt_2", "charge.refunded", "ch_rt_1", "pi_rt_1")
	headers = map[string]string{"Stripe-Signature": stripeHeader(payload, "whsec_test", time.Now())}
	result = p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success, "refund failed: %s", result.Error)
	assert.Equal(t, models.PaymentStatusRefunded, fx.store.Payment(payment.ID).Status)
}

func TestStripeRefundRequiresPaymentIntent(t *testing.T) {
	fx := newBillingFixture(t)
	payment := seedStripePending(t, fx, "cs_ref_1")
	require.NoError(t, fx.svc.ConfirmByReference(models.ProviderStripe, "cs_ref_1"))

	var gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			http.NotFound(w, r)
			return
		}
		assert.NoError(t, r.ParseForm())
		gotForm = r.PostForm.Get("payment_intent")
		json.NewEncoder(w).Encode(map[string]string{"id": "re_1", "status": "succeeded"})
	}))
	defer srv.Close()
	p := newStripeTestProvider(fx, srv.URL)

	// Without a captured intent the refund is refused locally; a session
	// id is not a valid refund target.
	assert.False(t, p.Refund(context.Background(), "cs_ref_1", 0))
	assert.Empty(t, gotForm)
	assert.Equal(t, models.PaymentStatusPaid, fx.store.Payment(payment.ID).Status)

	stored := fx.store.Payment(payment.ID)
	stored.SetMetadataValue("payment_intent", "pi_ref_1")
	require.NoError(t, fx.store.Payments().Update(stored))

	assert.True(t, p.Refund(context.Background(), "cs_ref_1", 0))
	assert.Equal(t, "pi_ref_1", gotForm)
	assert.Equal(t, models.PaymentStatusRefunded, fx.store.Payment(payment.ID).Status)
}

func TestStripeWebhookIgnoresUnknownEventTypes(t *testing.T) {
	fx := newBillingFixture(t)
	p := newStripeTestProvider(fx, "http://unused.invalid")

	payload := stripeWebhookPayload("evt_4", "customer.created", "cus_1")
	headers := map[string]string{"Stripe-Signature": stripeHeader(payload, "whsec_test", time.Now())}

	result := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success)
	assert.Equal(t, "not handled", result.Message)
}

func newMercadoPagoTestProvider(fx *billingFixture, apiURL string, sandbox bool) *mercadoPagoProvider {
	return &mercadoPagoProvider{
		deps:          fx.deps,
		accessToken:   "TEST-token",
		webhookSecret: "mp_secret",
		sandbox:       sandbox,
		apiBaseURL:    apiURL,
		httpClient:    &http.Client{Timeout: gatewayHTTPTimeout},
	}
}

func TestMercadoPagoCreateCheckout(t *testing.T) {
	fx := newBillingFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		ref, _ := body["external_reference"].(string)
		assert.True(t, strings.HasPrefix(ref, "mp_"))
		json.NewEncoder(w).Encode(map[string]string{
			"id":                 "pref_1",
			"init_point":         "https://mp.example/init",
			"sandbox_init_point": "https://mp.example/sandbox",
		})
	}))
	defer srv.Close()
	p := newMercadoPagoTestProvider(fx, srv.URL, true)

	result := p.CreateCheckout(context.Background(), fx.user, fx.plan, CheckoutOptions{
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
	})
	require.True(t, result.Success, "checkout failed: %s", result.Error)
	assert.Equal(t, "https://mp.example/sandbox", result.URL, "sandbox mode uses the sandbox init point")

	payment := fx.store.Payment(result.PaymentID)
	require.NotNil(t, payment)
	assert.Equal(t, models.ProviderMercadoPago, payment.Provider)
	assert.True(t, strings.HasPrefix(payment.ProviderReference, "mp_"))
	assert.Equal(t, "pref_1", payment.Metadata()["preference_id"])
}

func seedMercadoPagoPending(t *testing.T, fx *billingFixture, reference string) *models.Payment {
	t.Helper()
	sub, err := fx.subs.CreatePendingSubscription(fx.user.ID, fx.plan, models.ProviderMercadoPago, reference)
	require.NoError(t, err)
	subID := sub.ID
	planID := fx.plan.ID
	payment := &models.Payment{
		SubscriptionID:    &subID,
		UserID:            fx.user.ID,
		PlanID:            &planID,
		Amount:            fx.plan.Price,
		Currency:          fx.plan.Currency,
		Status:            models.PaymentStatusPending,
		Provider:          models.ProviderMercadoPago,
		ProviderReference: reference,
	}
	require.NoError(t, fx.store.Payments().Create(payment))
	return payment
}

func TestMercadoPagoWebhookApprovedActivatesSubscription(t *testing.T) {
	fx := newBillingFixture(t)
	payment := seedMercadoPagoPending(t, fx, "mp_ref_1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/555" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":                 555,
			"status":             "approved",
			"external_reference": "mp_ref_1",
		})
	}))
	defer srv.Close()
	p := newMercadoPagoTestProvider(fx, srv.URL, false)

	payload := []byte(`{"id":1,"type":"payment","action":"payment.updated","data":{"id":"555"}}`)
	headers := map[string]string{
		"X-Request-Id": "req-1",
		"X-Signature":  mercadoPagoHeader("555", "req-1", "1749556800", "mp_secret"),
	}

	result := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success, "webhook failed: %s", result.Error)

	got := fx.store.Payment(payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, got.Status)
	assert.Equal(t, "555", got.Metadata()["gateway_payment_id"])
	assert.Equal(t, models.SubscriptionStatusActive, fx.store.Subscription(*payment.SubscriptionID).Status)
}

func TestMercadoPagoWebhookRefundAfterApproval(t *testing.T) {
	fx := newBillingFixture(t)
	payment := seedMercadoPagoPending(t, fx, "mp_ref_rt")

	// The gateway reports the payment's current status on every fetch;
	// first approved, later refunded.
	status := "approved"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":                 321,
			"status":             status,
			"external_reference": "mp_ref_rt",
		})
	}))
	defer srv.Close()
	p := newMercadoPagoTestProvider(fx, srv.URL, false)

	deliver := func(noteID string) *WebhookResult {
		payload := []byte(`{"id":` + noteID + `,"type":"payment","action":"payment.updated","data":{"id":"321"}}`)
		headers := map[string]string{
			"X-Request-Id": "req-" + noteID,
			"X-Signature":  mercadoPagoHeader("321", "req-"+noteID, "1749556800", "mp_secret"),
		}
		return p.HandleWebhook(context.Background(), payload, headers)
	}

	result := deliver("9001")
	require.True(t, result.Success, "approval failed: %s", result.Error)
	require.Equal(t, models.PaymentStatusPaid, fx.store.Payment(payment.ID).Status)

	// Both notifications carry the same action and payment id; only the
	// notification id distinguishes them, so the refund must not dedupe
	// against the approval.
	status = "refunded"
	result = deliver("9002")
	require.True(t, result.Success, "refund failed: %s", result.Error)
	assert.NotEqual(t, "duplicate delivery", result.Message)
	assert.Equal(t, models.PaymentStatusRefunded, fx.store.Payment(payment.ID).Status)
}

func TestMercadoPagoWebhookRejectedFailsPayment(t *testing.T) {
	fx := newBillingFixture(t)
	payment := seedMercadoPagoPending(t, fx, "mp_ref_2")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":                 777,
			"status":             "rejected",
			"status_detail":      "cc_rejected_insufficient_amount",
			"external_reference": "mp_ref_2",
		})
	}))
	defer srv.Close()
	p := newMercadoPagoTestProvider(fx, srv.URL, false)

	payload := []byte(`{"id":2,"type":"payment","action":"payment.updated","data":{"id":"777"}}`)
	headers := map[string]string{
		"X-Request-Id": "req-2",
		"X-Signature":  mercadoPagoHeader("777", "req-2", "1749556800", "mp_secret"),
	}

	result := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success)

	got := fx.store.Payment(payment.ID)
	assert.Equal(t, models.PaymentStatusFailed, got.Status)
	assert.Equal(t, "cc_rejected_insufficient_amount", got.FailureReason)
}

func TestMercadoPagoWebhookRejectsBadSignature(t *testing.T) {
	fx := newBillingFixture(t)
	p := newMercadoPagoTestProvider(fx, "http://unused.invalid", false)

	payload := []byte(`{"id":3,"type":"payment","action":"payment.updated","data":{"id":"888"}}`)
	headers := map[string]string{
		"X-Request-Id": "req-3",
		"X-Signature":  mercadoPagoHeader("888", "req-3", "1749556800", "wrong_secret"),
	}

	result := p.HandleWebhook(context.Background(), payload, headers)
	assert.False(t, result.Success)
	assert.Equal(t, WebhookErrInvalidSignature, result.ErrorCode)
}

func TestMercadoPagoWebhookIgnoresNonPaymentTypes(t *testing.T) {
	fx := newBillingFixture(t)
	// Enrichment must not be attempted for ignored notification types.
	p := newMercadoPagoTestProvider(fx, "http://unused.invalid", false)

	payload := []byte(`{"id":4,"type":"plan","action":"updated","data":{"id":"999"}}`)
	headers := map[string]string{
		"X-Request-Id": "req-4",
		"X-Signature":  mercadoPagoHeader("999", "req-4", "1749556800", "mp_secret"),
	}

	result := p.HandleWebhook(context.Background(), payload, headers)
	require.True(t, result.Success)
	assert.Equal(t, "not handled", result.Message)
}
