package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/jobqueue"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

const cronTimeout = 5 * time.Minute

// CronJobs is implemented by jobqueue.Manager.
type CronJobs interface {
	ReplayStuckWebhooks(ctx context.Context) ([]billing.ReplayResult, error)
	RetryFailedPledges(ctx context.Context) (*jobqueue.SweepResult, error)
}

// CronController exposes the background sweeps for external schedulers.
type CronController struct {
	jobs   CronJobs
	logger *zap.Logger
}

func NewCronController(jobs CronJobs, log *zap.Logger) *CronController {
	return &CronController{jobs: jobs, logger: logger.OrNop(log).Named("cron")}
}

// HandleReprocessWebhooks handles GET /api/cron/reprocess-webhooks.
func (cc *CronController) HandleReprocessWebhooks(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), cronTimeout)
	defer cancel()

	results, err := cc.jobs.ReplayStuckWebhooks(ctx)
	if err != nil {
		cc.logger.Error("Stuck webhook replay failed", zap.Error(err))
		return internalError(c, "Failed to reprocess webhooks")
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"processed": len(results),
		"failed":    failed,
		"results":   results,
	})
}

// HandleRetryFailedPledges handles GET /api/cron/retry-failed-pledges.
func (cc *CronController) HandleRetryFailedPledges(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), cronTimeout)
	defer cancel()

	res, err := cc.jobs.RetryFailedPledges(ctx)
	if err != nil {
		cc.logger.Error("Failed pledge sweep failed", zap.Error(err))
		return internalError(c, "Failed to retry pledges")
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"found":     res.Found,
		"scheduled": res.Scheduled,
		"errors":    res.Errors,
	})
}
