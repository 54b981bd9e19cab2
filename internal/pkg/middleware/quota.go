package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/consultahub/consultahub/internal/pkg/usage"
	"github.com/consultahub/consultahub/internal/pkg/usercontext"
)

const localsAccessCheck = "QUOTA_ACCESS_CHECK"

// RequireQuota gates a metered endpoint. The check runs before the handler;
// the unit is only consumed after the handler returns a success status, so
// failed lookups do not burn quota.
func RequireQuota(svc *usage.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := usercontext.GetUserID(c)
		if userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		check, err := svc.CanPerformLookup(userID)
		if err != nil {
			log.Printf("quota check for user %d failed: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Quota check failed"})
		}
		if !check.Allowed {
			return c.Status(quotaDenialStatus(check.Code)).JSON(quotaDenialBody(check))
		}
		c.Locals(localsAccessCheck, check)

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status >= 200 && status < 300 {
			if ok, err := svc.RecordUsage(userID); err != nil {
				log.Printf("recording usage for user %d failed: %v", userID, err)
			} else if !ok {
				log.Printf("usage increment for user %d rejected after successful lookup", userID)
			}
		}
		return nil
	}
}

// AccessCheckFromContext returns the gate decision stored by RequireQuota.
func AccessCheckFromContext(c *fiber.Ctx) *usage.AccessCheck {
	if v := c.Locals(localsAccessCheck); v != nil {
		if check, ok := v.(*usage.AccessCheck); ok {
			return check
		}
	}
	return nil
}

func quotaDenialStatus(code string) int {
	switch code {
	case usage.CodeSubscriptionRequired, usage.CodeSubscriptionExpired:
		return fiber.StatusPaymentRequired
	case usage.CodePlanLimitReached, usage.CodeDailyLimitReached:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusForbidden
	}
}

func quotaDenialBody(check *usage.AccessCheck) fiber.Map {
	body := fiber.Map{
		"error":   check.Code,
		"message": check.Message,
	}
	if check.Usage != nil {
		body["usage"] = check.Usage
	}
	return body
}
