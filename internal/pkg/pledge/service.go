package pledge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/metrics"
)

const (
	// MaxAttempts caps automatic retries of a failed pledge.
	MaxAttempts = 10
	// RetrySpacing is the minimum time between two attempts for one payment.
	RetrySpacing = 5 * time.Minute
	// RetryBatchSize bounds one sweep run.
	RetryBatchSize = 5

	lockTTL = 5 * time.Minute
)

// ErrLocked means another worker is executing the same pledge.
var ErrLocked = errors.New("pledge execution already in progress")

// IneligibleError explains why a payment cannot be pledged. It is not retryable.
type IneligibleError struct {
	PaymentID uint
	Reason    string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("payment %d not eligible for pledge execution: %s", e.PaymentID, e.Reason)
}

// IsIneligible reports whether err is an IneligibleError.
func IsIneligible(err error) bool {
	var ie *IneligibleError
	return errors.As(err, &ie)
}

// Store is the subset of the payment repository used here.
type Store interface {
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	ListFailedPledges(ctx context.Context, maxAttempts int, lastAttemptBefore time.Time, limit int) ([]models.Payment, error)
	StartPledgeAttempt(ctx context.Context, id uint) error
	CompletePledge(ctx context.Context, id uint, txHash string, metadata map[string]interface{}) error
	MarkPledgeFailed(ctx context.Context, id uint, reason string) error
}

// Locker serialises executions per payment across processes.
type Locker interface {
	// Acquire returns ok=false when the key is held by someone else.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Outcome is returned for executed and already-executed pledges.
type Outcome struct {
	PaymentID       uint   `json:"paymentId"`
	PledgeID        string `json:"pledgeId"`
	TransactionHash string `json:"transactionHash"`
	AlreadyExecuted bool   `json:"alreadyExecuted"`
}

// Service executes pledges for confirmed payments and tracks each attempt on
// the payment row.
type Service struct {
	store    Store
	executor Executor
	locker   Locker
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, executor Executor, locker Locker, log *zap.Logger) *Service {
	if executor == nil {
		executor = disabledExecutor{}
	}
	return &Service{
		store:    store,
		executor: executor,
		locker:   locker,
		logger:   logger.OrNop(log).Named("pledge"),
		now:      time.Now,
	}
}

// DeterministicPledgeID derives the on-chain pledge id from the treasury, the
// backer and the payment so repeated attempts reuse the same id.
func DeterministicPledgeID(treasury, backer string, paymentID uint) string {
	seed := "pledge-" + treasury + "-" + backer + "-" + strconv.FormatUint(uint64(paymentID), 10)
	return crypto.Keccak256Hash([]byte(seed)).Hex()
}

// CheckEligible validates the payment itself. It does not look at the
// execution tracking columns.
func CheckEligible(p *models.Payment) error {
	switch {
	case p.Provider != models.PaymentProviderDaimo:
		return &IneligibleError{PaymentID: p.ID, Reason: "only daimo payments are executed via the gateway, provider " + p.Provider}
	case p.Status != models.PaymentStatusConfirmed:
		return &IneligibleError{PaymentID: p.ID, Reason: "payment must be confirmed, current status " + p.Status}
	case p.Campaign == nil || p.Campaign.Treasury() == "":
		return &IneligibleError{PaymentID: p.ID, Reason: "campaign has no treasury address"}
	case p.User == nil || p.User.Address == "":
		return &IneligibleError{PaymentID: p.ID, Reason: "payment has no backer address"}
	case !p.Amount.IsPositive():
		return &IneligibleError{PaymentID: p.ID, Reason: "pledge amount must be greater than zero"}
	}
	return nil
}

// Execute runs the pledge for one payment. A payment that already carries a
// pledge transaction returns the stored result without calling the executor.
func (s *Service) Execute(ctx context.Context, paymentID uint) (*Outcome, error) {
	p, err := s.store.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %d: %w", paymentID, billing.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("failed to load payment %d: %w", paymentID, err)
	}

	if prior := priorOutcome(p); prior != nil {
		metrics.IncPledgeExecution("skipped")
		return prior, nil
	}
	if err := CheckEligible(p); err != nil {
		metrics.IncPledgeExecution("ineligible")
		return nil, err
	}

	log := s.logger.With(
		zap.Uint("payment_id", p.ID),
		zap.Uint("campaign_id", p.CampaignID),
		zap.String("external_payment_id", p.ExternalPaymentID),
		zap.Int("attempt", p.PledgeExecutionAttempts+1),
	)

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, lockKey(p.ID), lockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire pledge lock: %w", err)
		}
		if !ok {
			return nil, ErrLocked
		}
		defer release()
	}

	if err := s.store.StartPledgeAttempt(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("failed to record pledge attempt: %w", err)
	}

	treasury := p.Campaign.Treasury()
	req := Request{
		PaymentID:       p.ID,
		PledgeID:        DeterministicPledgeID(treasury, p.User.Address, p.ID),
		TreasuryAddress: treasury,
		BackerAddress:   p.User.Address,
		PledgeAmount:    p.Amount,
		TipAmount:       p.TipAmount,
		Token:           p.Token,
	}

	log.Info("Executing pledge", zap.String("pledge_id", req.PledgeID), zap.String("amount", req.PledgeAmount.String()))
	res, err := s.executor.Execute(ctx, req)
	if err != nil {
		metrics.IncPledgeExecution("failed")
		log.Error("Pledge execution failed", zap.Error(err))
		// the request context may already be gone; the failure must still land
		if merr := s.store.MarkPledgeFailed(context.WithoutCancel(ctx), p.ID, err.Error()); merr != nil {
			log.Error("Failed to record pledge failure", zap.Error(merr))
		}
		return nil, err
	}

	md := make(map[string]interface{}, len(p.Metadata)+5)
	for k, v := range p.Metadata {
		md[k] = v
	}
	md["onChainPledgeId"] = res.PledgeID
	md["treasuryTxHash"] = res.TxHash
	md["executionTimestamp"] = s.now().UTC().Format(time.RFC3339)
	md["pledgeAmount"] = req.PledgeAmount.String()
	md["tipAmount"] = req.TipAmount.String()

	if err := s.store.CompletePledge(context.WithoutCancel(ctx), p.ID, res.TxHash, md); err != nil {
		// the pledge is on chain; never report it as failed or it gets paid twice
		log.Error("Pledge executed but result could not be stored", zap.String("tx_hash", res.TxHash), zap.Error(err))
		return nil, fmt.Errorf("pledge %s executed (tx %s) but not recorded: %w", res.PledgeID, res.TxHash, err)
	}

	metrics.IncPledgeExecution("success")
	log.Info("Pledge executed", zap.String("tx_hash", res.TxHash), zap.Uint64("block", res.BlockNumber))
	return &Outcome{PaymentID: p.ID, PledgeID: res.PledgeID, TransactionHash: res.TxHash}, nil
}

// DueForRetry lists failed pledges eligible for another automatic attempt.
func (s *Service) DueForRetry(ctx context.Context) ([]models.Payment, error) {
	return s.store.ListFailedPledges(ctx, MaxAttempts, s.now().Add(-RetrySpacing), RetryBatchSize)
}

func priorOutcome(p *models.Payment) *Outcome {
	if p.PledgeExecutionTxHash != nil && *p.PledgeExecutionTxHash != "" {
		return &Outcome{
			PaymentID:       p.ID,
			PledgeID:        p.MetadataString("onChainPledgeId"),
			TransactionHash: *p.PledgeExecutionTxHash,
			AlreadyExecuted: true,
		}
	}
	if id := p.MetadataString("onChainPledgeId"); id != "" {
		return &Outcome{
			PaymentID:       p.ID,
			PledgeID:        id,
			TransactionHash: p.MetadataString("treasuryTxHash"),
			AlreadyExecuted: true,
		}
	}
	return nil
}

func lockKey(paymentID uint) string {
	return "pledge:lock:" + strconv.FormatUint(uint64(paymentID), 10)
}
