package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/consultahub/consultahub/app/models"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/billing"
	"github.com/consultahub/consultahub/internal/pkg/subscription"
	"github.com/consultahub/consultahub/internal/pkg/usercontext"
)

const checkoutTimeout = 20 * time.Second

type checkoutRequest struct {
	Plan       string `json:"plan"`
	Provider   string `json:"provider"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// HandleCreateCheckout starts a checkout for the authenticated user. Free
// plans activate immediately; gateway plans return a redirect URL.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if strings.TrimSpace(req.Plan) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Plan is required"})
	}

	store := repository.GetGlobalFactory().GetStore()
	plan, err := store.Plans().GetBySlug(req.Plan)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}
	if !plan.IsActive {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "plan_unavailable", "message": "This plan is no longer offered"})
	}
	user, err := store.Users().GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
	defer cancel()

	result := billingService.CreateCheckout(ctx, user, plan, req.Provider, checkoutOptions(c, req))
	if !result.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
	}
	return c.JSON(result)
}

// HandleGetSubscription returns the caller's current subscription, if any.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	sub, err := repository.GetGlobalFactory().GetStore().Subscriptions().GetEntitledByUser(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No subscription"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}
	return c.JSON(subscriptionView(sub))
}

type cancelRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"`
}

// HandleCancelSubscription cancels the caller's subscription. Default is
// cancellation at period end; access continues until then.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req cancelRequest
	_ = c.BodyParser(&req)
	atPeriodEnd := true
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	}

	sub, err := currentSubscription(userCtx.UserID)
	if err != nil {
		return subscriptionLookupError(c, err)
	}

	updated, err := subscriptionService.Cancel(sub.ID, atPeriodEnd)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Cancellation failed"})
	}
	return c.JSON(subscriptionView(updated))
}

// HandleReactivateSubscription undoes a pending cancellation or recovers a
// past_due subscription. Expired subscriptions require a new checkout.
func HandleReactivateSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	sub, err := currentSubscription(userCtx.UserID)
	if err != nil {
		return subscriptionLookupError(c, err)
	}

	updated, err := subscriptionService.Reactivate(sub.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotReactivatable) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "not_reactivatable", "message": "Subscription cannot be reactivated; start a new checkout instead"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reactivation failed"})
	}
	return c.JSON(subscriptionView(updated))
}

type changePlanRequest struct {
	Plan      string `json:"plan"`
	Immediate bool   `json:"immediate"`
}

// HandleChangePlan switches the caller's subscription to another plan,
// either immediately or at the next renewal.
func HandleChangePlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if strings.TrimSpace(req.Plan) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Plan is required"})
	}

	store := repository.GetGlobalFactory().GetStore()
	plan, err := store.Plans().GetBySlug(req.Plan)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}
	if !plan.IsActive {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "plan_unavailable", "message": "This plan is no longer offered"})
	}

	sub, err := currentSubscription(userCtx.UserID)
	if err != nil {
		return subscriptionLookupError(c, err)
	}

	updated, err := subscriptionService.ChangePlan(sub.ID, plan, req.Immediate)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Plan change failed"})
	}
	return c.JSON(subscriptionView(updated))
}

// HandleListPayments returns the caller's payment history, newest first.
func HandleListPayments(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	payments, err := repository.GetGlobalFactory().GetStore().Payments().ListByUser(userCtx.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payments"})
	}

	out := make([]fiber.Map, 0, len(payments))
	for i := range payments {
		out = append(out, paymentView(&payments[i]))
	}
	return c.JSON(fiber.Map{"payments": out, "offset": offset, "limit": limit})
}

func currentSubscription(userID uint) (*models.Subscription, error) {
	return repository.GetGlobalFactory().GetStore().Subscriptions().GetEntitledByUser(userID)
}

func subscriptionLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No subscription"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
}

func checkoutOptions(c *fiber.Ctx, req checkoutRequest) billing.CheckoutOptions {
	opts := billing.CheckoutOptions{
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}
	if opts.SuccessURL == "" {
		opts.SuccessURL = c.BaseURL() + "/billing/success"
	}
	if opts.CancelURL == "" {
		opts.CancelURL = c.BaseURL() + "/billing/canceled"
	}
	return opts
}

func subscriptionView(sub *models.Subscription) fiber.Map {
	view := fiber.Map{
		"id":                   sub.ID,
		"plan_id":              sub.PlanID,
		"status":               sub.Status,
		"provider":             sub.Provider,
		"started_at":           sub.StartedAt,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"canceled_at":          sub.CanceledAt,
	}
	if sub.Plan != nil {
		view["plan"] = planView(sub.Plan)
	}
	if pending := sub.MetadataValue(models.MetaKeyPendingPlanID); pending != "" {
		view["pending_plan_id"] = pending
	}
	return view
}

func paymentView(p *models.Payment) fiber.Map {
	return fiber.Map{
		"id":             p.ID,
		"amount":         p.Amount,
		"currency":       p.Currency,
		"status":         p.Status,
		"provider":       p.Provider,
		"payment_method": p.PaymentMethod,
		"failure_reason": p.FailureReason,
		"created_at":     p.CreatedAt,
		"paid_at":        p.PaidAt,
	}
}
