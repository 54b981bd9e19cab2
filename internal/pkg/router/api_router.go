package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/consultahub/consultahub/app/controllers"
	"github.com/consultahub/consultahub/internal/pkg/middleware"
	"github.com/consultahub/consultahub/internal/pkg/usage"
)

type ApiRouter struct {
	usage *usage.Service
}

func NewApiRouter(usageSvc *usage.Service) *ApiRouter {
	return &ApiRouter{usage: usageSvc}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "ConsultaHub API",
		})
	})

	v1 := api.Group("/v1")

	// Public
	v1.Post("/register", controllers.HandleRegister)
	v1.Get("/plans", controllers.HandleListPlans)
	v1.Get("/plans/:slug", controllers.HandleGetPlan)

	// Authenticated (API key)
	auth := v1.Group("", middleware.APIKeyAuthMiddleware())
	auth.Get("/account", controllers.HandleGetAccount)
	auth.Post("/account/api-key", controllers.HandleRotateAPIKey)

	auth.Get("/subscription", controllers.HandleGetSubscription)
	auth.Post("/billing/checkout", controllers.HandleCreateCheckout)
	auth.Post("/subscription/cancel", controllers.HandleCancelSubscription)
	auth.Post("/subscription/reactivate", controllers.HandleReactivateSubscription)
	auth.Post("/subscription/change-plan", controllers.HandleChangePlan)
	auth.Get("/payments", controllers.HandleListPayments)
	auth.Get("/usage", controllers.HandleUsageSummary)

	// Metered endpoints sit behind the quota gate.
	auth.Get("/lookup/:kind/:query", middleware.RequireQuota(h.usage), controllers.HandleLookup)

	// Admin
	admin := auth.Group("/admin", middleware.AdminOnlyMiddleware())
	admin.Post("/plans", controllers.HandleAdminCreatePlan)
	admin.Put("/plans/:id", controllers.HandleAdminUpdatePlan)
	admin.Delete("/plans/:id", controllers.HandleAdminArchivePlan)
	admin.Post("/payments/:id/approve", controllers.HandleAdminApprovePayment)
	admin.Post("/payments/:id/refund", controllers.HandleAdminRefundPayment)
	admin.Post("/subscriptions/sweep", controllers.HandleAdminRunExpirySweep)
	admin.Get("/stats/lookups", controllers.HandleAdminLookupStats)
}
