package router

import (
	"github.com/gofiber/fiber/v2"
)

type WebhookRouter struct {
	deps Dependencies
}

// InstallRouter mounts the processor webhooks. They authenticate with their
// own signatures, not with bearer tokens.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/api/webhooks")
	hooks.Post("/daimo-pay", h.deps.Webhooks.HandleDaimoPay)
	hooks.Post("/crowdsplit", h.deps.Webhooks.HandleCrowdsplit)
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}
