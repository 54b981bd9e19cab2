package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/billing"
	"github.com/consultahub/consultahub/internal/pkg/database"
	"github.com/consultahub/consultahub/internal/pkg/metrics/counter"
)

type planPayload struct {
	Name         string   `json:"name"`
	Slug         string   `json:"slug"`
	Description  string   `json:"description"`
	Price        int64    `json:"price"`
	Currency     string   `json:"currency"`
	Interval     string   `json:"interval"`
	MonthlyQuota int      `json:"monthly_quota"`
	DailyQuota   int      `json:"daily_quota"`
	TrialDays    *int     `json:"trial_days"`
	Features     []string `json:"features"`
	SortOrder    int      `json:"sort_order"`
}

// HandleAdminCreatePlan adds a plan to the catalog.
func HandleAdminCreatePlan(c *fiber.Ctx) error {
	var req planPayload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	plan := &models.Plan{
		Name:         req.Name,
		Slug:         req.Slug,
		Description:  req.Description,
		Price:        req.Price,
		Currency:     req.Currency,
		Interval:     req.Interval,
		MonthlyQuota: req.MonthlyQuota,
		DailyQuota:   req.DailyQuota,
		TrialDays:    req.TrialDays,
		IsActive:     true,
		SortOrder:    req.SortOrder,
	}
	if plan.Currency == "" {
		plan.Currency = "BRL"
	}
	if plan.Interval == "" {
		plan.Interval = models.PlanIntervalMonthly
	}
	plan.SetFeatures(req.Features)
	if err := plan.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if err := repository.GetGlobalFactory().GetStore().Plans().Create(plan); err != nil {
		log.Printf("plan create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create plan"})
	}
	invalidatePlanCatalogCache()
	return c.Status(fiber.StatusCreated).JSON(planView(plan))
}

// HandleAdminUpdatePlan updates catalog fields of an existing plan. Quota
// changes only affect future usage-counter initializations; running
// periods keep their limits until renewal or plan change.
func HandleAdminUpdatePlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid plan id"})
	}

	store := repository.GetGlobalFactory().GetStore()
	plan, err := store.Plans().GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}

	var req planPayload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	if req.Name != "" {
		plan.Name = req.Name
	}
	plan.Description = req.Description
	plan.Price = req.Price
	if req.Currency != "" {
		plan.Currency = req.Currency
	}
	if req.Interval != "" {
		plan.Interval = req.Interval
	}
	plan.MonthlyQuota = req.MonthlyQuota
	plan.DailyQuota = req.DailyQuota
	plan.TrialDays = req.TrialDays
	plan.SortOrder = req.SortOrder
	plan.SetFeatures(req.Features)
	if err := plan.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if err := store.Plans().Update(plan); err != nil {
		log.Printf("plan update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update plan"})
	}
	invalidatePlanCatalogCache()
	return c.JSON(planView(plan))
}

// HandleAdminArchivePlan removes a plan from the catalog without touching
// subscriptions that already reference it.
func HandleAdminArchivePlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid plan id"})
	}

	if err := repository.GetGlobalFactory().GetStore().Plans().Archive(uint(id)); err != nil {
		log.Printf("plan archive failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to archive plan"})
	}
	invalidatePlanCatalogCache()
	return c.JSON(fiber.Map{"ok": true})
}

// HandleAdminApprovePayment settles a pending manual payment and activates
// the subscription it belongs to.
func HandleAdminApprovePayment(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid payment id"})
	}

	sub, err := billingService.ApprovePayment(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment not found"})
		}
		log.Printf("payment approval failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Approval failed"})
	}
	if sub == nil {
		return c.JSON(fiber.Map{"ok": true})
	}
	return c.JSON(subscriptionView(sub))
}

// HandleAdminRefundPayment refunds a settled payment through its original
// gateway. The subscription is not touched; revoking access stays a
// separate admin decision.
func HandleAdminRefundPayment(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid payment id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	if err := billingService.RefundPayment(ctx, uint(id)); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment not found"})
		case errors.Is(err, billing.ErrNotRefundable):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "not_refundable", "message": "Only paid payments can be refunded"})
		case errors.Is(err, billing.ErrRefundFailed):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "refund_failed", "message": "Gateway declined the refund"})
		default:
			log.Printf("payment refund failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Refund failed"})
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleAdminLookupStats returns daily lookup aggregates for the last N
// days (default 30). Pending redis counters are flushed first so the
// numbers are current.
func HandleAdminLookupStats(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days < 1 || days > 365 {
		days = 30
	}
	if err := counter.FlushAll(); err != nil {
		log.Printf("lookup counter flush failed: %v", err)
	}

	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	var stats []models.LookupStat
	err := database.GetDB().
		Where("stat_date >= ?", since).
		Order("stat_date DESC, kind ASC").
		Find(&stats).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load stats"})
	}
	return c.JSON(fiber.Map{"since": since, "stats": stats})
}

// HandleAdminRunExpirySweep triggers the subscription sweep on demand,
// outside the cron schedule.
func HandleAdminRunExpirySweep(c *fiber.Ctx) error {
	expired, err := subscriptionService.CheckAndExpire()
	if err != nil {
		log.Printf("manual expiry sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Sweep failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "lapsed": expired})
}
