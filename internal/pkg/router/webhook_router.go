package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/consultahub/consultahub/app/controllers"
)

// WebhookRouter installs the gateway callback endpoints. They authenticate
// by payload signature, not API key, and must not sit behind the limiter:
// a throttled webhook would be retried by the gateway anyway.
type WebhookRouter struct {
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhooks")
	hooks.Post("/stripe", controllers.HandleStripeWebhook)
	hooks.Post("/mercadopago", controllers.HandleMercadoPagoWebhook)
}
