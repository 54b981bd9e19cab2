package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/consultahub/consultahub/internal/pkg/usage"
	"github.com/consultahub/consultahub/internal/pkg/usercontext"
)

// HandleUsageSummary returns the caller's quota state for the current
// period: counts, limits, remaining units and period boundaries.
func HandleUsageSummary(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	summary, err := usageService.Summary(userCtx.UserID)
	if err != nil {
		if errors.Is(err, usage.ErrNoSubscription) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No active subscription"})
		}
		log.Printf("usage summary for user %d failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load usage"})
	}
	return c.JSON(summary)
}
