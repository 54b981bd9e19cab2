package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/consultahub/consultahub/internal/pkg/usage"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all route groups. Webhooks are installed outside
// the API group because gateways call them unauthenticated.
func InstallRouter(app *fiber.App, usageSvc *usage.Service) {
	setup(app, NewApiRouter(usageSvc), NewWebhookRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
