package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository/repositorytest"
	"github.com/consultahub/consultahub/internal/pkg/usage"
	"github.com/consultahub/consultahub/internal/pkg/usercontext"
)

func fakeAuth(userID uint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.Set(c, usercontext.UserContext{UserID: userID, IsLoggedIn: true})
		return c.Next()
	}
}

func seedMeteredUser(store *repositorytest.MemoryStore, userID uint, monthly, daily int) {
	plan := store.AddPlan(&models.Plan{
		Name:         "metered",
		Slug:         "metered",
		Interval:     models.PlanIntervalMonthly,
		MonthlyQuota: monthly,
		DailyQuota:   daily,
		IsActive:     true,
	})
	now := time.Now()
	start := now.AddDate(0, 0, -1)
	end := now.AddDate(0, 1, 0)
	sub := &models.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             models.SubscriptionStatusActive,
		StartedAt:          start,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		Provider:           models.ProviderManual,
	}
	if err := store.Subscriptions().Create(sub); err != nil {
		panic(err)
	}
}

func newQuotaApp(svc *usage.Service, userID uint, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/lookup", fakeAuth(userID), RequireQuota(svc), handler)
	return app
}

func okHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

func TestRequireQuotaConsumesOnSuccess(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := usage.NewService(store, time.UTC)
	seedMeteredUser(store, 1, 10, 0)
	app := newQuotaApp(svc, 1, okHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/lookup", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	counter := store.Counter(1, models.PeriodKeyFor(time.Now(), time.UTC))
	require.NotNil(t, counter)
	assert.Equal(t, 1, counter.UsedCount)
}

func TestRequireQuotaSkipsConsumptionOnFailure(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := usage.NewService(store, time.UTC)
	seedMeteredUser(store, 2, 10, 0)
	app := newQuotaApp(svc, 2, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream"})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/lookup", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	counter := store.Counter(2, models.PeriodKeyFor(time.Now(), time.UTC))
	require.NotNil(t, counter)
	assert.Equal(t, 0, counter.UsedCount, "failed lookups must not burn quota")
}

func TestRequireQuotaWithoutUser(t *testing.T) {
	store := repositorytest.NewMemoryStore()
	svc := usage.NewService(store, time.UTC)
	app := fiber.New()
	app.Get("/lookup", RequireQuota(svc), okHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/lookup", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireQuotaDenialStatuses(t *testing.T) {
	t.Run("no subscription means payment required", func(t *testing.T) {
		store := repositorytest.NewMemoryStore()
		svc := usage.NewService(store, time.UTC)
		app := newQuotaApp(svc, 3, okHandler)

		resp, err := app.Test(httptest.NewRequest("GET", "/lookup", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, usage.CodeSubscriptionRequired, body["error"])
	})

	t.Run("exhausted quota means too many requests", func(t *testing.T) {
		store := repositorytest.NewMemoryStore()
		svc := usage.NewService(store, time.UTC)
		seedMeteredUser(store, 4, 1, 0)
		app := newQuotaApp(svc, 4, okHandler)

		resp, err := app.Test(httptest.NewRequest("GET", "/lookup", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		resp, err = app.Test(httptest.NewRequest("GET", "/lookup", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, usage.CodePlanLimitReached, body["error"])
		assert.NotNil(t, body["usage"], "denial carries the counter snapshot")
	})
}

func TestQuotaDenialStatusMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{usage.CodeSubscriptionRequired, fiber.StatusPaymentRequired},
		{usage.CodeSubscriptionExpired, fiber.StatusPaymentRequired},
		{usage.CodePlanLimitReached, fiber.StatusTooManyRequests},
		{usage.CodeDailyLimitReached, fiber.StatusTooManyRequests},
		{"SOMETHING_ELSE", fiber.StatusForbidden},
	}
	for _, tt := range tests {
		if got := quotaDenialStatus(tt.code); got != tt.want {
			t.Fatalf("quotaDenialStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
