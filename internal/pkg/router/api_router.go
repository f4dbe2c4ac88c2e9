package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/relay-funder/relay-funder-app-sub004/internal/api/v1"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", middleware.RateLimit(h.deps.Limiter, h.deps.LimiterStorage))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	if h.deps.API != nil {
		apiv1.RegisterHandlers(v1, h.deps.API)
	}

	admin := v1.Group("/admin", middleware.RequireBearer(h.deps.AdminAPIKey))
	admin.Get("/campaigns/:campaignId/reconciliation", h.deps.Reconciliation.HandleReconciliation)
	admin.Get("/campaigns/:campaignId/on-chain-transactions", h.deps.Reconciliation.HandleOnChainTransactions)
	admin.Post("/payments/:id/retry-pledge", h.deps.AdminPayments.HandleRetryPledge)

	cron := api.Group("/cron", middleware.RequireBearer(h.deps.CronSecret))
	cron.Get("/reprocess-webhooks", h.deps.Cron.HandleReprocessWebhooks)
	cron.Get("/retry-failed-pledges", h.deps.Cron.HandleRetryFailedPledges)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
