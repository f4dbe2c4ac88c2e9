package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/pledge"
)

// PledgeExecutor runs the pledge for one payment.
type PledgeExecutor interface {
	Execute(ctx context.Context, paymentID uint) (*pledge.Outcome, error)
}

// NewPledgeProcessor returns the processor for JobTypePledgeExecution.
// Ineligible and unknown payments complete the job; they cannot succeed on retry.
func NewPledgeProcessor(exec PledgeExecutor, log *zap.Logger) Processor {
	log = logger.OrNop(log)
	return func(ctx context.Context, job *Job) error {
		payload, err := PledgeExecutionJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid pledge payload: %w", err)
		}
		if payload.PaymentID == 0 {
			return errors.New("invalid pledge payload: missing payment_id")
		}

		l := log.With(zap.String("job_id", job.ID), zap.Uint("payment_id", payload.PaymentID), zap.String("source", payload.Source))

		out, err := exec.Execute(ctx, payload.PaymentID)
		switch {
		case err == nil:
			l.Info("Pledge job done", zap.String("tx_hash", out.TransactionHash), zap.Bool("already_executed", out.AlreadyExecuted))
			return nil
		case pledge.IsIneligible(err), errors.Is(err, billing.ErrPaymentNotFound):
			l.Warn("Pledge job dropped", zap.Error(err))
			return nil
		default:
			return err
		}
	}
}
