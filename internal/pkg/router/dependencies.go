package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/relay-funder/relay-funder-app-sub004/app/controllers"
	apiv1 "github.com/relay-funder/relay-funder-app-sub004/internal/api/v1"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/middleware"
)

// Dependencies carries the constructed controllers and route guards.
type Dependencies struct {
	Webhooks       *controllers.PaymentWebhookController
	Reconciliation *controllers.ReconciliationController
	AdminPayments  *controllers.AdminPaymentController
	Cron           *controllers.CronController
	API            apiv1.ServerInterface

	AdminAPIKey string
	CronSecret  string

	Limiter        middleware.LimiterConfig
	LimiterStorage fiber.Storage
}
