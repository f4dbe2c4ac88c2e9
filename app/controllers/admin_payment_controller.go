package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/jobqueue"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/pledge"
)

type PaymentGetter interface {
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
}

// PledgeEnqueuer is implemented by jobqueue.Manager.
type PledgeEnqueuer interface {
	EnqueuePledge(ctx context.Context, paymentID uint, source string) (*jobqueue.Job, error)
}

// AdminPaymentController exposes manual pledge operations.
type AdminPaymentController struct {
	payments PaymentGetter
	pledges  PledgeEnqueuer
	logger   *zap.Logger
}

func NewAdminPaymentController(payments PaymentGetter, pledges PledgeEnqueuer, log *zap.Logger) *AdminPaymentController {
	return &AdminPaymentController{payments: payments, pledges: pledges, logger: logger.OrNop(log).Named("admin.payments")}
}

// HandleRetryPledge handles POST /api/v1/admin/payments/:id/retry-pledge.
func (ac *AdminPaymentController) HandleRetryPledge(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid payment ID")
	}

	payment, err := ac.payments.GetByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Payment not found")
		}
		ac.logger.Error("Failed to load payment", zap.Uint("payment_id", id), zap.Error(err))
		return internalError(c, "Failed to load payment")
	}

	if payment.PledgeExecutionStatus == models.PledgeExecutionSuccess {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "already_executed",
			"message": "Pledge already executed",
			"txHash":  payment.PledgeExecutionTxHash,
		})
	}
	if err := pledge.CheckEligible(payment); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "not_eligible", "message": err.Error()})
	}

	job, err := ac.pledges.EnqueuePledge(c.UserContext(), id, "admin")
	if err != nil {
		ac.logger.Error("Failed to enqueue pledge", zap.Uint("payment_id", id), zap.Error(err))
		return internalError(c, "Failed to schedule pledge execution")
	}

	ac.logger.Info("Pledge retry scheduled", zap.Uint("payment_id", id), zap.String("job_id", job.ID))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":   true,
		"paymentId": id,
		"jobId":     job.ID,
		"status":    models.PledgeExecutionPending,
	})
}
