package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/internal/pkg/billing"
)

const webhookTimeout = 15 * time.Second

// HandleStripeWebhook receives card-gateway event deliveries.
func HandleStripeWebhook(c *fiber.Ctx) error {
	return handleProviderWebhook(c, models.ProviderStripe, []string{"Stripe-Signature"})
}

// HandleMercadoPagoWebhook receives wallet-gateway notifications.
func HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	return handleProviderWebhook(c, models.ProviderMercadoPago, []string{"X-Signature", "X-Request-Id"})
}

// handleProviderWebhook applies the shared delivery contract: 200 for
// handled or intentionally ignored events, 400 for signature failures so
// the gateway alerts, 500 for transient processing errors so it retries.
func handleProviderWebhook(c *fiber.Ctx, provider string, headerNames []string) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := make(map[string]string, len(headerNames))
	for _, name := range headerNames {
		headers[name] = c.Get(name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	result := billingService.HandleWebhook(ctx, provider, rawBody, headers)
	if result.Success {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "message": result.Message})
	}
	switch result.ErrorCode {
	case billing.WebhookErrInvalidSignature:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_error"})
	}
}
