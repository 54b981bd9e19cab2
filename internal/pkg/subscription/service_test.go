package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository/repositorytest"
)

var testNow = time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

func newTestService(store *repositorytest.MemoryStore) *Service {
	svc := NewService(store, nil, time.UTC)
	svc.now = func() time.Time { return testNow }
	return svc
}

func seedPlan(store *repositorytest.MemoryStore, slug string, price int64, monthly, daily int) *models.Plan {
	return store.AddPlan(&models.Plan{
		Name:         slug,
		Slug:         slug,
		Price:        price,
		Currency:     "BRL",
		Interval:     models.PlanIntervalMonthly,
		MonthlyQuota: monthly,
		DailyQuota:   daily,
		IsActive:     true,
	})
}

func TestSubscribeActivatesAndSeedsCounter(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 10)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 1, Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, testNow.AddDate(0, 1, 0), *sub.CurrentPeriodEnd)

	counter := store.Counter(1, models.PeriodKeyFor(testNow, time.UTC))
	require.NotNil(t, counter)
	assert.Equal(t, 100, counter.LimitCount)
	assert.Equal(t, 10, counter.DailyLimit)
	assert.Equal(t, 0, counter.UsedCount)
}

func TestSubscribeGrantsTrialOnlyOnce(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	trialDays := 14
	plan := seedPlan(store, "pro", 4990, 500, 0)
	plan.TrialDays = &trialDays
	store.AddPlan(plan)

	first, err := svc.Subscribe(SubscribeInput{UserID: 7, Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusTrialing, first.Status)
	require.NotNil(t, first.CurrentPeriodEnd)
	assert.Equal(t, testNow.AddDate(0, 0, trialDays), *first.CurrentPeriodEnd)

	// Subscribing again must not grant a second trial.
	second, err := svc.Subscribe(SubscribeInput{UserID: 7, Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, second.Status)
}

func TestSubscribeReplacesExistingSubscription(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	basic := seedPlan(store, "basic", 2990, 100, 0)
	pro := seedPlan(store, "pro", 4990, 500, 0)

	first, err := svc.Subscribe(SubscribeInput{UserID: 3, Plan: basic})
	require.NoError(t, err)
	second, err := svc.Subscribe(SubscribeInput{UserID: 3, Plan: pro})
	require.NoError(t, err)

	old := store.Subscription(first.ID)
	require.NotNil(t, old)
	assert.Equal(t, models.SubscriptionStatusCanceled, old.Status)

	entitled, err := store.Subscriptions().GetEntitledByUser(3)
	require.NoError(t, err)
	assert.Equal(t, second.ID, entitled.ID)
}

func TestSubscribePreservesUsedCounts(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 0)

	_, err := svc.Subscribe(SubscribeInput{UserID: 5, Plan: plan})
	require.NoError(t, err)

	counter := store.Counter(5, models.PeriodKeyFor(testNow, time.UTC))
	require.NotNil(t, counter)
	for i := 0; i < 40; i++ {
		ok, err := store.UsageCounters().Increment(counter.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Re-subscribing inside the same month must not mint a fresh quota.
	_, err = svc.Subscribe(SubscribeInput{UserID: 5, Plan: plan})
	require.NoError(t, err)

	counter = store.Counter(5, models.PeriodKeyFor(testNow, time.UTC))
	assert.Equal(t, 40, counter.UsedCount)
}

func TestConfirmPaymentActivatesPendingSubscription(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "pro", 4990, 500, 50)

	pending, err := svc.CreatePendingSubscription(9, plan, models.ProviderStripe, "cs_123")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, pending.Status)

	subID := pending.ID
	payment := &models.Payment{
		SubscriptionID:    &subID,
		UserID:            9,
		Amount:            4990,
		Currency:          "BRL",
		Status:            models.PaymentStatusPending,
		Provider:          models.ProviderStripe,
		ProviderReference: "cs_123",
	}
	require.NoError(t, store.Payments().Create(payment))

	sub, err := svc.ConfirmPayment(payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	stored := store.Payment(payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	counter := store.Counter(9, models.PeriodKeyFor(testNow, time.UTC))
	require.NotNil(t, counter)
	assert.Equal(t, 500, counter.LimitCount)

	// Redelivery must be a no-op: same period end, no second activation.
	firstEnd := *store.Subscription(subID).CurrentPeriodEnd
	_, err = svc.ConfirmPayment(payment.ID)
	require.NoError(t, err)
	assert.Equal(t, firstEnd, *store.Subscription(subID).CurrentPeriodEnd)
}

func TestConfirmPaymentRejectsFailedPayment(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)

	payment := &models.Payment{
		UserID:            2,
		Status:            models.PaymentStatusFailed,
		Provider:          models.ProviderStripe,
		ProviderReference: "cs_failed",
	}
	require.NoError(t, store.Payments().Create(payment))

	_, err := svc.ConfirmPayment(payment.ID)
	assert.True(t, errors.Is(err, ErrInvalidPaymentTransition))
}

func TestCreatePendingSubscriptionIsIdempotentPerProvider(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "pro", 4990, 500, 0)

	first, err := svc.CreatePendingSubscription(4, plan, models.ProviderMercadoPago, "mp_a")
	require.NoError(t, err)
	second, err := svc.CreatePendingSubscription(4, plan, models.ProviderMercadoPago, "mp_b")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "mp_b", second.ProviderReference)
}

func TestChangePlanImmediateKeepsUsedCounts(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	basic := seedPlan(store, "basic", 2990, 100, 10)
	pro := seedPlan(store, "pro", 4990, 500, 50)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 11, Plan: basic})
	require.NoError(t, err)

	counter := store.Counter(11, models.PeriodKeyFor(testNow, time.UTC))
	for i := 0; i < 30; i++ {
		_, err := store.UsageCounters().Increment(counter.ID)
		require.NoError(t, err)
	}

	changed, err := svc.ChangePlan(sub.ID, pro, true)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, changed.PlanID)

	counter = store.Counter(11, models.PeriodKeyFor(testNow, time.UTC))
	assert.Equal(t, 500, counter.LimitCount)
	assert.Equal(t, 50, counter.DailyLimit)
	assert.Equal(t, 30, counter.UsedCount)
}

func TestChangePlanDeferredAppliesOnLapse(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	basic := seedPlan(store, "basic", 2990, 100, 0)
	pro := seedPlan(store, "pro", 4990, 500, 0)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 12, Plan: basic})
	require.NoError(t, err)

	changed, err := svc.ChangePlan(sub.ID, pro, false)
	require.NoError(t, err)
	assert.Equal(t, basic.ID, changed.PlanID)
	assert.NotEmpty(t, changed.MetadataValue(models.MetaKeyPendingPlanID))

	// Jump past the period end and sweep.
	svc.now = func() time.Time { return testNow.AddDate(0, 1, 1) }
	count, err := svc.CheckAndExpire()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	lapsed := store.Subscription(sub.ID)
	assert.Equal(t, models.SubscriptionStatusPastDue, lapsed.Status)
	assert.Equal(t, pro.ID, lapsed.PlanID)
	assert.Empty(t, lapsed.MetadataValue(models.MetaKeyPendingPlanID))
}

func TestCancelAtPeriodEndKeepsAccess(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 0)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 20, Plan: plan})
	require.NoError(t, err)

	canceled, err := svc.Cancel(sub.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, canceled.Status)
	assert.True(t, canceled.CancelAtPeriodEnd)
	assert.True(t, canceled.CanAccess(testNow))
}

func TestCancelImmediatelyEndsAccess(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 0)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 21, Plan: plan})
	require.NoError(t, err)

	canceled, err := svc.Cancel(sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, canceled.Status)
	assert.False(t, canceled.CanAccess(testNow))
}

func TestReactivateClearsPendingCancellation(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 0)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 22, Plan: plan})
	require.NoError(t, err)
	_, err = svc.Cancel(sub.ID, true)
	require.NoError(t, err)

	reactivated, err := svc.Reactivate(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, reactivated.Status)
	assert.False(t, reactivated.CancelAtPeriodEnd)
	assert.Nil(t, reactivated.CanceledAt)
}

func TestReactivateRejectsTerminalStates(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 0)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 23, Plan: plan})
	require.NoError(t, err)
	_, err = svc.Cancel(sub.ID, false)
	require.NoError(t, err)

	_, err = svc.Reactivate(sub.ID)
	assert.True(t, errors.Is(err, ErrNotReactivatable))

	// Active without a pending cancellation is also not reactivatable.
	fresh, err := svc.Subscribe(SubscribeInput{UserID: 23, Plan: plan})
	require.NoError(t, err)
	_, err = svc.Reactivate(fresh.ID)
	assert.True(t, errors.Is(err, ErrNotReactivatable))
}

func TestCheckAndExpireSplitsByCancellationFlag(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 0)

	renewing, err := svc.Subscribe(SubscribeInput{UserID: 30, Plan: plan})
	require.NoError(t, err)
	ending, err := svc.Subscribe(SubscribeInput{UserID: 31, Plan: plan})
	require.NoError(t, err)
	_, err = svc.Cancel(ending.ID, true)
	require.NoError(t, err)

	svc.now = func() time.Time { return testNow.AddDate(0, 1, 1) }
	count, err := svc.CheckAndExpire()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, models.SubscriptionStatusPastDue, store.Subscription(renewing.ID).Status)
	assert.Equal(t, models.SubscriptionStatusExpired, store.Subscription(ending.ID).Status)
}

func TestCheckAndExpireLeavesCurrentPeriodsAlone(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := newTestService(store)
	plan := seedPlan(store, "basic", 2990, 100, 0)

	sub, err := svc.Subscribe(SubscribeInput{UserID: 32, Plan: plan})
	require.NoError(t, err)

	count, err := svc.CheckAndExpire()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, models.SubscriptionStatusActive, store.Subscription(sub.ID).Status)
}
