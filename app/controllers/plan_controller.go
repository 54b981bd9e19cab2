package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/cache"
)

const planCatalogCacheKey = "plans:catalog:v1"
const planCatalogCacheTTL = 5 * time.Minute

// HandleListPlans returns the public plan catalog. The catalog is cached
// because it is read on every pricing page view and changes rarely.
func HandleListPlans(c *fiber.Ctx) error {
	if cached, err := cache.Get(planCatalogCacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	plans, err := repository.GetGlobalFactory().GetStore().Plans().ListActive()
	if err != nil {
		log.Printf("plan catalog query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plans"})
	}

	out := make([]fiber.Map, 0, len(plans))
	for i := range plans {
		out = append(out, planView(&plans[i]))
	}
	body := fiber.Map{"plans": out}

	if raw, err := json.Marshal(body); err == nil {
		if err := cache.Set(planCatalogCacheKey, string(raw), planCatalogCacheTTL); err != nil {
			log.Printf("plan catalog cache write failed: %v", err)
		}
	}
	return c.JSON(body)
}

// HandleGetPlan returns a single plan by slug.
func HandleGetPlan(c *fiber.Ctx) error {
	plan, err := repository.GetGlobalFactory().GetStore().Plans().GetBySlug(c.Params("slug"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}
	if !plan.IsActive {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
	}
	return c.JSON(planView(plan))
}

func planView(p *models.Plan) fiber.Map {
	return fiber.Map{
		"id":            p.ID,
		"slug":          p.Slug,
		"name":          p.Name,
		"description":   p.Description,
		"price":         p.Price,
		"currency":      p.Currency,
		"interval":      p.Interval,
		"monthly_quota": p.MonthlyQuota,
		"daily_quota":   p.DailyQuota,
		"trial_days":    p.TrialDays,
		"features":      p.Features(),
	}
}

func invalidatePlanCatalogCache() {
	if err := cache.Delete(planCatalogCacheKey); err != nil {
		log.Printf("plan catalog cache invalidation failed: %v", err)
	}
}
