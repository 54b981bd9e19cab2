package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultahub/consultahub/app/models"
)

func TestResolveProviderDefaultsToManual(t *testing.T) {
	fx := newBillingFixture(t)

	p, err := fx.svc.ResolveProvider("")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderManual, p.Name())
}

func TestResolveProviderPrefersEnabledCardGateway(t *testing.T) {
	fx := newBillingFixture(t)
	fx.store.AddGatewaySetting(&models.GatewaySetting{Provider: models.ProviderMercadoPago, Enabled: true})
	fx.store.AddGatewaySetting(&models.GatewaySetting{Provider: models.ProviderStripe, Enabled: true})

	p, err := fx.svc.ResolveProvider("")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderStripe, p.Name())
}

func TestResolveProviderFallsBackToWallet(t *testing.T) {
	fx := newBillingFixture(t)
	fx.store.AddGatewaySetting(&models.GatewaySetting{Provider: models.ProviderMercadoPago, Enabled: true})

	p, err := fx.svc.ResolveProvider("")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderMercadoPago, p.Name())
}

func TestResolveProviderUnknownName(t *testing.T) {
	fx := newBillingFixture(t)

	_, err := fx.svc.ResolveProvider("paypal")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestResolveProviderUnconfiguredGateway(t *testing.T) {
	fx := newBillingFixture(t)

	_, err := fx.svc.ResolveProvider(models.ProviderStripe)
	assert.Error(t, err)
}

func TestResolveProviderCachesInstances(t *testing.T) {
	fx := newBillingFixture(t)

	a, err := fx.svc.ResolveProvider(models.ProviderManual)
	require.NoError(t, err)
	b, err := fx.svc.ResolveProvider(models.ProviderManual)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestHandleWebhookUnresolvedProvider(t *testing.T) {
	fx := newBillingFixture(t)

	result := fx.svc.HandleWebhook(context.Background(), "paypal", []byte("{}"), nil)
	assert.False(t, result.Success)
	assert.Equal(t, WebhookErrProcessing, result.ErrorCode)
}

func TestConfirmByReferenceUnknownIsIgnored(t *testing.T) {
	fx := newBillingFixture(t)

	// Unknown references must not bubble errors, or the gateway retries
	// a delivery we can never reconcile.
	assert.NoError(t, fx.svc.ConfirmByReference(models.ProviderStripe, "cs_never_seen"))
	assert.NoError(t, fx.svc.FailByReference(models.ProviderStripe, "cs_never_seen", "boom"))
	assert.NoError(t, fx.svc.RefundByReference(models.ProviderStripe, "cs_never_seen"))
}

func TestFailByReferenceLeavesSettledPaymentsAlone(t *testing.T) {
	fx := newBillingFixture(t)
	payment := seedStripePending(t, fx, "cs_settled_1")

	require.NoError(t, fx.svc.ConfirmByReference(models.ProviderStripe, "cs_settled_1"))
	require.Equal(t, models.PaymentStatusPaid, fx.store.Payment(payment.ID).Status)

	// Late failure delivery after settlement is a no-op.
	require.NoError(t, fx.svc.FailByReference(models.ProviderStripe, "cs_settled_1", "too late"))
	got := fx.store.Payment(payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, got.Status)
	assert.Empty(t, got.FailureReason)
}

func TestRefundPaymentManual(t *testing.T) {
	fx := newBillingFixture(t)
	p := newManualProvider(fx.deps, nil)

	result := p.CreateCheckout(context.Background(), fx.user, fx.plan, CheckoutOptions{})
	require.NotZero(t, result.PaymentID)

	// Pending payments cannot be refunded.
	err := fx.svc.RefundPayment(context.Background(), result.PaymentID)
	assert.ErrorIs(t, err, ErrNotRefundable)

	_, err = fx.svc.ApprovePayment(result.PaymentID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.RefundPayment(context.Background(), result.PaymentID))
	assert.Equal(t, models.PaymentStatusRefunded, fx.store.Payment(result.PaymentID).Status)
}

func TestRefundByReferenceRequiresPaidPayment(t *testing.T) {
	fx := newBillingFixture(t)
	payment := seedStripePending(t, fx, "cs_refund_1")

	// Pending payments cannot jump straight to refunded.
	require.NoError(t, fx.svc.RefundByReference(models.ProviderStripe, "cs_refund_1"))
	assert.Equal(t, models.PaymentStatusPending, fx.store.Payment(payment.ID).Status)

	require.NoError(t, fx.svc.ConfirmByReference(models.ProviderStripe, "cs_refund_1"))
	require.NoError(t, fx.svc.RefundByReference(models.ProviderStripe, "cs_refund_1"))
	assert.Equal(t, models.PaymentStatusRefunded, fx.store.Payment(payment.ID).Status)
}
