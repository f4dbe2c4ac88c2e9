package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxStatusWriteAttempts = 3
	idempotencyKeyPrefix   = "webhook:idempotency:"
	defaultIdempotencyTTL  = 24 * time.Hour

	MessageAlreadyProcessed = "Event already processed"
	MessageTestEvent        = "Test event acknowledged"
	MessageBlocked          = "State transition blocked (out-of-order webhook)"
	MessagePaymentNotFound  = "Payment not found and could not be created"
)

// SideEffects runs the post-confirmation actions. Implementations must isolate
// their own failures.
type SideEffects interface {
	Dispatch(ctx context.Context, payment *models.Payment, idempotencyKey string)
}

// Service applies normalized webhook events to the payment ledger.
type Service struct {
	repo           Repository
	effects        SideEffects
	rdb            *redis.Client
	idempotencyTTL time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

type Option func(*Service)

func WithSideEffects(e SideEffects) Option {
	return func(s *Service) { s.effects = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIdempotencyCache puts a Redis lookup in front of the idempotency table.
func WithIdempotencyCache(rdb *redis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.rdb = rdb
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the confirmation service from an injected repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "payment_webhooks"))
	return s
}

// NewServiceFromDB creates the confirmation service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, opts ...Option) *Service {
	return NewService(NewRepository(db), opts...)
}

// Process applies one delivery. Duplicate keys and test events short-circuit
// before the payment is read.
func (s *Service) Process(ctx context.Context, ev Event, idempotencyKey string) (*Outcome, error) {
	log := s.logger.With(
		zap.String("correlation_id", correlationID(idempotencyKey)),
		zap.String("provider", ev.Provider),
		zap.String("external_payment_id", ev.ExternalPaymentID),
		zap.String("event_type", ev.Type),
	)

	if idempotencyKey != "" {
		seen, err := s.isProcessed(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		}
		if seen {
			log.Info("duplicate delivery skipped")
			return &Outcome{Kind: OutcomeDuplicate, ExternalPaymentID: ev.ExternalPaymentID, EventType: ev.Type, Message: MessageAlreadyProcessed}, nil
		}
	}

	if ev.IsTest {
		return &Outcome{Kind: OutcomeTestEvent, EventType: ev.Type, Message: MessageTestEvent}, nil
	}

	storedID := s.storeEvent(ctx, log, ev, idempotencyKey)
	outcome, err := s.apply(ctx, log, ev, idempotencyKey)
	s.markProcessed(ctx, log, storedID, outcome, err)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" && outcome.Kind != OutcomePaymentNotFound {
		s.recordIdempotency(ctx, log, ev, idempotencyKey)
	}
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, log *zap.Logger, ev Event, idempotencyKey string) (*Outcome, error) {
	payment, created, err := s.loadOrCreate(ctx, log, ev)
	if errors.Is(err, ErrPaymentNotFound) {
		log.Info("payment not yet visible, asking for redelivery")
		return &Outcome{
			Kind:              OutcomePaymentNotFound,
			ExternalPaymentID: ev.ExternalPaymentID,
			EventType:         ev.Type,
			Message:           MessagePaymentNotFound,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxStatusWriteAttempts; attempt++ {
		current := Status(payment.Status)
		d := Decide(current, ev.Status)
		metrics.IncDecision(string(d.Verdict))

		out := &Outcome{
			PaymentID:         payment.ID,
			ExternalPaymentID: ev.ExternalPaymentID,
			EventType:         ev.Type,
			PreviousStatus:    current,
			Status:            d.Next,
			Verdict:           d.Verdict,
			Created:           created,
		}

		switch d.Verdict {
		case VerdictRejectedRegression, VerdictRejectedTerminalFlip:
			log.Info("status change blocked",
				zap.Uint("payment_id", payment.ID),
				zap.String("current", string(current)),
				zap.String("incoming", string(ev.Status)),
				zap.String("verdict", string(d.Verdict)))
			out.Kind = OutcomeBlocked
			out.Message = MessageBlocked
			return out, nil
		case VerdictUnchanged:
			out.Kind = OutcomeUnchanged
			return out, nil
		}

		merged := s.mergeMetadata(payment.Metadata, ev.Metadata)
		won, err := s.repo.CompareAndSwapStatus(ctx, payment.ID, current, d.Next, merged, ev.TransactionHash)
		if err != nil {
			return nil, fmt.Errorf("update payment %d status: %w", payment.ID, err)
		}
		if won {
			payment.Status = string(d.Next)
			payment.Metadata = merged
			if ev.TransactionHash != "" {
				hash := ev.TransactionHash
				payment.TransactionHash = &hash
			}
			log.Info("payment status updated",
				zap.Uint("payment_id", payment.ID),
				zap.String("from", string(current)),
				zap.String("to", string(d.Next)))

			out.Kind = OutcomeApplied
			if d.Dispatch && s.effects != nil {
				s.effects.Dispatch(ctx, payment, idempotencyKey)
				out.Dispatched = true
			}
			return out, nil
		}

		log.Debug("status write lost race, re-reading", zap.Int("attempt", attempt))
		payment, err = s.repo.FindPaymentByExternalID(ctx, ev.ExternalPaymentID)
		if err != nil {
			return nil, fmt.Errorf("re-read payment %s: %w", ev.ExternalPaymentID, err)
		}
	}
	return nil, ErrConcurrentUpdate
}

func (s *Service) loadOrCreate(ctx context.Context, log *zap.Logger, ev Event) (*models.Payment, bool, error) {
	payment, err := s.repo.FindPaymentByExternalID(ctx, ev.ExternalPaymentID)
	if err == nil {
		return payment, false, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) || !ev.Initiating {
		return nil, false, err
	}

	if ev.creationErr != nil {
		return nil, false, ev.creationErr
	}
	c := ev.Creation
	if c == nil || c.CampaignID == 0 {
		return nil, false, &ParameterError{Field: "payment.metadata.campaignId", Message: "Missing campaignId in payment metadata"}
	}
	if c.PayerAddress == "" {
		return nil, false, &ParameterError{Field: "payment.source.payerAddress", Message: "Missing payer address in payment source"}
	}
	if len(c.PayerAddress) > models.MaxAddressLength {
		return nil, false, &ParameterError{
			Field:   "payment.source.payerAddress",
			Message: fmt.Sprintf("payer address longer than %d characters", models.MaxAddressLength),
		}
	}
	exists, err := s.repo.CampaignExists(ctx, c.CampaignID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup campaign %d: %w", c.CampaignID, err)
	}
	if !exists {
		return nil, false, &ParameterError{Field: "payment.metadata.campaignId", Message: fmt.Sprintf("campaign %d does not exist", c.CampaignID)}
	}

	user, err := s.repo.FindOrCreateUserByAddress(ctx, c.PayerAddress, c.Email)
	if err != nil {
		return nil, false, fmt.Errorf("resolve payer %s: %w", c.PayerAddress, err)
	}

	meta := map[string]interface{}{
		"pledgeAmount":      c.Amount.String(),
		"tipAmount":         c.TipAmount.String(),
		"userAddress":       c.PayerAddress,
		"createdViaWebhook": true,
		"createdAt":         s.now().UTC().Format(time.RFC3339),
	}
	if ev.Provider == models.PaymentProviderDaimo {
		meta["daimoPaymentId"] = ev.ExternalPaymentID
	}
	putString(meta, "userEmail", c.Email)

	p := &models.Payment{
		ExternalPaymentID: ev.ExternalPaymentID,
		Amount:            c.Amount,
		TipAmount:         c.TipAmount,
		Token:             c.Token,
		CampaignID:        c.CampaignID,
		UserID:            user.ID,
		Status:            models.PaymentStatusConfirming,
		Provider:          ev.Provider,
		IsAnonymous:       c.IsAnonymous,
		Metadata:          meta,
	}
	if err := p.Validate(); err != nil {
		return nil, false, validationError(err)
	}

	created, stored, err := s.repo.CreatePayment(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("create payment %s: %w", ev.ExternalPaymentID, err)
	}
	if created {
		log.Info("payment created from initiating event", zap.Uint("payment_id", stored.ID), zap.Uint("campaign_id", c.CampaignID))
	}
	return stored, created, nil
}

// mergeMetadata overlays event fields on the stored metadata. Existing keys
// absent from the event are kept.
func (s *Service) mergeMetadata(existing map[string]interface{}, incoming map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(incoming)+1)
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	merged["webhookProcessedAt"] = s.now().UTC().Format(time.RFC3339Nano)
	return merged
}

func (s *Service) isProcessed(ctx context.Context, key string) (bool, error) {
	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, idempotencyKeyPrefix+key).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		if err != nil {
			s.logger.Warn("idempotency cache unavailable", zap.Error(err))
		}
	}
	return s.repo.IdempotencyExists(ctx, key)
}

func (s *Service) recordIdempotency(ctx context.Context, log *zap.Logger, ev Event, key string) {
	created, err := s.repo.RecordIdempotency(ctx, &models.IdempotencyRecord{
		EventUUID:         key,
		Provider:          ev.Provider,
		ExternalPaymentID: ev.ExternalPaymentID,
		EventType:         ev.Type,
	})
	if err != nil {
		// The status write already committed; a lost record only costs a no-op redelivery.
		log.Error("failed to record idempotency key", zap.Error(err))
		return
	}
	if !created {
		log.Info("idempotency key recorded concurrently")
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, idempotencyKeyPrefix+key, ev.ExternalPaymentID, s.idempotencyTTL).Err(); err != nil {
			log.Warn("failed to cache idempotency key", zap.Error(err))
		}
	}
}

func (s *Service) storeEvent(ctx context.Context, log *zap.Logger, ev Event, key string) uint {
	if len(ev.RawPayload) == 0 {
		return 0
	}
	eventID := key
	if eventID == "" {
		sum := sha256.Sum256(ev.RawPayload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	_, stored, err := s.repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{
		Provider:          ev.Provider,
		EventID:           eventID,
		ExternalPaymentID: ev.ExternalPaymentID,
		EventType:         ev.Type,
		PaymentStatus:     ev.ProviderStatus,
		PayloadJSON:       string(ev.RawPayload),
		ReceivedAt:        s.now(),
	})
	if err != nil {
		log.Warn("failed to store webhook event", zap.Error(err))
		return 0
	}
	return stored.ID
}

func (s *Service) markProcessed(ctx context.Context, log *zap.Logger, id uint, out *Outcome, procErr error) {
	if id == 0 {
		return
	}
	msg := ""
	switch {
	case procErr != nil:
		msg = procErr.Error()
	case out != nil && out.Kind == OutcomePaymentNotFound:
		msg = ErrPaymentNotFound.Error()
	}
	if err := s.repo.MarkWebhookProcessed(ctx, id, msg); err != nil {
		log.Warn("failed to mark webhook event processed", zap.Uint("webhook_event_id", id), zap.Error(err))
	}
}

// DecodeEvent parses a stored payload of the given provider.
func DecodeEvent(provider string, raw []byte) (Event, error) {
	switch provider {
	case models.PaymentProviderDaimo:
		p, err := ParseDaimoPayload(raw)
		if err != nil {
			return Event{}, err
		}
		return p.ToEvent(raw), nil
	case models.PaymentProviderCrowdsplit:
		p, err := ParseCrowdsplitPayload(raw)
		if err != nil {
			return Event{}, err
		}
		if !p.HandlesPayments() {
			return Event{}, ErrUnhandledEventType
		}
		return p.ToEvent(raw)
	default:
		return Event{}, fmt.Errorf("unknown provider %q", provider)
	}
}

// Replay re-applies a stored delivery without authentication or idempotency checks.
func (s *Service) Replay(ctx context.Context, stored *models.PaymentWebhookEvent) (*Outcome, error) {
	ev, err := DecodeEvent(stored.Provider, []byte(stored.PayloadJSON))
	if err != nil {
		return nil, fmt.Errorf("decode stored event %d: %w", stored.ID, err)
	}
	ev.IsTest = false
	log := s.logger.With(
		zap.String("correlation_id", "replay:"+stored.EventID),
		zap.String("provider", ev.Provider),
		zap.String("external_payment_id", ev.ExternalPaymentID),
		zap.String("event_type", ev.Type),
	)
	out, err := s.apply(ctx, log, ev, stored.EventID)
	if mErr := s.repo.MarkWebhookReplayed(ctx, stored.ID); mErr != nil {
		log.Warn("failed to mark webhook event replayed", zap.Error(mErr))
	}
	return out, err
}

// ReplayStuck replays the newest event typed or reporting payment_completed
// (else the newest event) for payments still confirming after olderThan.
func (s *Service) ReplayStuck(ctx context.Context, olderThan time.Duration, limit int) ([]ReplayResult, error) {
	stuck, err := s.repo.ListStuckPayments(ctx, models.PaymentProviderDaimo, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck payments: %w", err)
	}

	results := make([]ReplayResult, 0, len(stuck))
	for _, p := range stuck {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res := ReplayResult{PaymentID: p.ID, ExternalPaymentID: p.ExternalPaymentID}
		stored, err := s.repo.LatestWebhookEvent(ctx, p.Provider, p.ExternalPaymentID, DaimoEventPaymentCompleted)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stored, err = s.repo.LatestWebhookEvent(ctx, p.Provider, p.ExternalPaymentID, "")
		}
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				res.Error = "no stored webhook events"
			} else {
				res.Error = err.Error()
			}
			results = append(results, res)
			continue
		}

		res.EventID = stored.ID
		res.EventType = stored.EventType
		out, err := s.Replay(ctx, stored)
		if err != nil {
			res.Error = err.Error()
			s.logger.Warn("stuck payment replay failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		}
		res.Outcome = out
		results = append(results, res)
	}
	return results, nil
}

func correlationID(key string) string {
	if k := strings.TrimSpace(key); k != "" {
		return k
	}
	return uuid.NewString()
}
