package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/metrics"
	"go.uber.org/zap"
)

// Side effect action names, used as metric labels.
const (
	ActionNotify = "notify"
	ActionRounds = "round_association"
	ActionPledge = "pledge_execution"
	ActionEvent  = "event_publish"
)

// Notifier tells the campaign owner about a confirmed contribution.
type Notifier interface {
	NotifyPaymentConfirmed(ctx context.Context, payment *models.Payment, eventUUID string) error
}

// RoundStore reads round participations and writes contributions.
type RoundStore interface {
	ActiveApprovedParticipations(ctx context.Context, campaignID uint, at time.Time) ([]models.RoundCampaign, error)
	UserHumanityScore(ctx context.Context, userID uint) (int, error)
	// CreateContribution returns false when the (payment, round) pair already exists.
	CreateContribution(ctx context.Context, c *models.RoundContribution) (bool, error)
}

// PledgeScheduler queues on-chain pledge execution for a payment.
type PledgeScheduler interface {
	SchedulePledge(ctx context.Context, paymentID uint) error
}

// PledgeTracker records scheduling failures so the retry sweep picks them up.
type PledgeTracker interface {
	MarkPledgeFailed(ctx context.Context, paymentID uint, reason string) error
}

// EventPublisher fans confirmed payments out to other services.
type EventPublisher interface {
	PublishPaymentConfirmed(ctx context.Context, payment *models.Payment) error
}

// Dispatcher runs the confirmation side effects. Each action is isolated: a
// failure is logged and counted and never reaches the webhook response.
type Dispatcher struct {
	Notifier  Notifier
	Rounds    RoundStore
	Pledges   PledgeScheduler
	Tracker   PledgeTracker
	Publisher EventPublisher
	Logger    *zap.Logger
	Now       func() time.Time
}

func (d *Dispatcher) Dispatch(ctx context.Context, payment *models.Payment, idempotencyKey string) {
	log := d.logger().With(
		zap.Uint("payment_id", payment.ID),
		zap.Uint("campaign_id", payment.CampaignID),
		zap.String("external_payment_id", payment.ExternalPaymentID),
	)

	if d.Notifier != nil {
		d.run(log, ActionNotify, payment.ID, func() error {
			return d.Notifier.NotifyPaymentConfirmed(ctx, payment, idempotencyKey)
		})
	}
	if d.Rounds != nil {
		d.run(log, ActionRounds, payment.ID, func() error {
			n, err := d.AssociateRounds(ctx, payment)
			if err == nil && n > 0 {
				log.Info("round contributions created", zap.Int("count", n))
			}
			return err
		})
	}
	if d.Publisher != nil {
		d.run(log, ActionEvent, payment.ID, func() error {
			return d.Publisher.PublishPaymentConfirmed(ctx, payment)
		})
	}
	if d.Pledges != nil && payment.Provider == models.PaymentProviderDaimo {
		// Scheduling outlives the request; the job itself runs on queue workers.
		bg := context.WithoutCancel(ctx)
		d.run(log, ActionPledge, payment.ID, func() error {
			err := d.Pledges.SchedulePledge(bg, payment.ID)
			if err != nil && d.Tracker != nil {
				if mErr := d.Tracker.MarkPledgeFailed(bg, payment.ID, "schedule: "+err.Error()); mErr != nil {
					log.Error("failed to mark pledge for retry", zap.Error(mErr))
				}
			}
			return err
		})
	}
}

// AssociateRounds links the payment to every approved round of its campaign
// that is open now. Repeated calls are no-ops per round.
func (d *Dispatcher) AssociateRounds(ctx context.Context, payment *models.Payment) (int, error) {
	participations, err := d.Rounds.ActiveApprovedParticipations(ctx, payment.CampaignID, d.now())
	if err != nil {
		return 0, fmt.Errorf("load round participations: %w", err)
	}
	if len(participations) == 0 {
		return 0, nil
	}
	score, err := d.Rounds.UserHumanityScore(ctx, payment.UserID)
	if err != nil {
		return 0, fmt.Errorf("load humanity score for user %d: %w", payment.UserID, err)
	}

	created := 0
	for _, rc := range participations {
		ok, err := d.Rounds.CreateContribution(ctx, &models.RoundContribution{
			PaymentID:       payment.ID,
			RoundID:         rc.RoundID,
			RoundCampaignID: rc.ID,
			CampaignID:      payment.CampaignID,
			UserID:          payment.UserID,
			Amount:          payment.Amount,
			HumanityScore:   score,
		})
		if err != nil {
			return created, fmt.Errorf("create contribution for round %d: %w", rc.RoundID, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (d *Dispatcher) run(log *zap.Logger, action string, paymentID uint, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncSideEffectFailure(action)
			log.Error("side effect panicked", zap.String("action", action), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		metrics.IncSideEffectFailure(action)
		se := &SideEffectError{Action: action, PaymentID: paymentID, Err: err}
		log.Error("side effect failed", zap.String("action", action), zap.Error(se))
	}
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}
