package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/cache"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/explorer"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/metrics"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// Message types sent on a reconciliation stream in addition to the explorer ones.
const MessageReconciliation = "reconciliation"

const cacheKeyPrefix = "reconciliation:txs:"

// Fetcher streams a treasury's transactions.
type Fetcher interface {
	Stream(ctx context.Context, address string) <-chan explorer.StreamEvent
}

type CampaignReader interface {
	GetByID(ctx context.Context, id uint) (*models.Campaign, error)
}

type PaymentReader interface {
	ListConfirmedByCampaign(ctx context.Context, campaignID uint) ([]models.Payment, error)
}

// PaymentView is the ledger row shown next to the on-chain data.
type PaymentView struct {
	ID              uint      `json:"id"`
	ExternalID      string    `json:"externalPaymentId"`
	Amount          string    `json:"amount"`
	TipAmount       string    `json:"tipAmount"`
	Token           string    `json:"token"`
	Status          string    `json:"status"`
	Provider        string    `json:"provider"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	IsAnonymous     bool      `json:"isAnonymous"`
	UserAddress     string    `json:"userAddress,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func newPaymentView(p models.Payment) PaymentView {
	v := PaymentView{
		ID:          p.ID,
		ExternalID:  p.ExternalPaymentID,
		Amount:      p.Amount.String(),
		TipAmount:   p.TipAmount.String(),
		Token:       p.Token,
		Status:      p.Status,
		Provider:    p.Provider,
		IsAnonymous: p.IsAnonymous,
		CreatedAt:   p.CreatedAt,
	}
	if p.TransactionHash != nil {
		v.TransactionHash = *p.TransactionHash
	}
	if p.User != nil && !p.IsAnonymous {
		v.UserAddress = p.User.Address
	}
	return v
}

// Report is the non-streaming reconciliation response.
type Report struct {
	DatabasePayments    []PaymentView          `json:"databasePayments"`
	OnChainTransactions []explorer.Transaction `json:"onChainTransactions"`
	Comparison          Snapshot               `json:"comparison"`
}

// Message is one server-sent event.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Service loads campaign data, fetches the treasury history and compares them.
type Service struct {
	campaigns CampaignReader
	payments  PaymentReader
	fetcher   Fetcher
	engine    *Engine
	redis     *redis.Client
	cacheTTL  time.Duration
	logger    *zap.Logger
}

type Option func(*Service)

// WithCache caches complete transaction lists per treasury in Redis.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.redis = client
		s.cacheTTL = ttl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNop(l).Named("reconciliation") }
}

func NewService(campaigns CampaignReader, payments PaymentReader, fetcher Fetcher, engine *Engine, opts ...Option) *Service {
	if engine == nil {
		engine = NewEngine(DefaultTolerance)
	}
	s := &Service{
		campaigns: campaigns,
		payments:  payments,
		fetcher:   fetcher,
		engine:    engine,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheTTLFromEnv reads RECONCILIATION_CACHE_TTL (default 30m).
func CacheTTLFromEnv() time.Duration {
	return env.GetDuration("RECONCILIATION_CACHE_TTL", 30*time.Minute)
}

type campaignData struct {
	campaign *models.Campaign
	payments []models.Payment
}

func (s *Service) load(ctx context.Context, campaignID uint, withPayments bool) (*campaignData, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
	}
	d := &campaignData{campaign: c}
	if withPayments {
		d.payments, err = s.payments.ListConfirmedByCampaign(ctx, campaignID)
		if err != nil {
			return nil, fmt.Errorf("failed to load payments of campaign %d: %w", campaignID, err)
		}
	}
	return d, nil
}

func views(payments []models.Payment) []PaymentView {
	out := make([]PaymentView, 0, len(payments))
	for _, p := range payments {
		out = append(out, newPaymentView(p))
	}
	return out
}

func cacheKey(treasury string) string {
	return cacheKeyPrefix + strings.ToLower(treasury)
}

func (s *Service) cached(ctx context.Context, treasury string) ([]explorer.Transaction, bool) {
	if s.redis == nil {
		return nil, false
	}
	var txs []explorer.Transaction
	if err := cache.GetJSON(ctx, s.redis, cacheKey(treasury), &txs); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("Reconciliation cache read failed", zap.String("treasury", treasury), zap.Error(err))
		}
		return nil, false
	}
	return txs, true
}

func (s *Service) store(ctx context.Context, treasury string, txs []explorer.Transaction) {
	if s.redis == nil {
		return
	}
	if txs == nil {
		txs = []explorer.Transaction{}
	}
	if err := cache.SetJSON(ctx, s.redis, cacheKey(treasury), txs, s.cacheTTL); err != nil {
		s.logger.Warn("Reconciliation cache write failed", zap.String("treasury", treasury), zap.Error(err))
	}
}

// Transactions returns the campaign treasury's transactions. Campaigns without
// a treasury have none.
func (s *Service) Transactions(ctx context.Context, campaignID uint, refresh bool) ([]explorer.Transaction, error) {
	d, err := s.load(ctx, campaignID, false)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, d.campaign.Treasury(), refresh)
}

func (s *Service) fetch(ctx context.Context, treasury string, refresh bool) ([]explorer.Transaction, error) {
	if treasury == "" {
		return []explorer.Transaction{}, nil
	}
	if !refresh {
		if txs, ok := s.cached(ctx, treasury); ok {
			return txs, nil
		}
	}
	txs, err := explorer.Collect(ctx, s.fetcher.Stream(ctx, treasury))
	if err != nil {
		return nil, err
	}
	s.store(ctx, treasury, txs)
	return txs, nil
}

// Reconcile compares the campaign's confirmed payments with its treasury.
func (s *Service) Reconcile(ctx context.Context, campaignID uint, refresh bool) (*Report, error) {
	d, err := s.load(ctx, campaignID, true)
	if err != nil {
		return nil, err
	}
	treasury := d.campaign.Treasury()
	txs, err := s.fetch(ctx, treasury, refresh)
	if err != nil {
		return nil, err
	}
	snap := s.engine.Compare(d.payments, txs, treasury)
	metrics.IncReconciliation(snap.Status)
	s.logger.Info("Reconciliation completed",
		zap.Uint("campaign_id", campaignID),
		zap.String("status", snap.Status),
		zap.String("difference", snap.Difference.StringFixed(amountPlaces)),
		zap.Int("transactions", len(txs)))
	return &Report{
		DatabasePayments:    views(d.payments),
		OnChainTransactions: txs,
		Comparison:          snap,
	}, nil
}

// StreamTransactions validates the campaign and streams its treasury's
// transactions as messages.
func (s *Service) StreamTransactions(ctx context.Context, campaignID uint, refresh bool) (<-chan Message, error) {
	d, err := s.load(ctx, campaignID, false)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, d, refresh, nil), nil
}

// StreamReconcile is StreamTransactions plus a provisional snapshot after each
// transaction and a final one before complete.
func (s *Service) StreamReconcile(ctx context.Context, campaignID uint, refresh bool) (<-chan Message, error) {
	d, err := s.load(ctx, campaignID, true)
	if err != nil {
		return nil, err
	}
	tally := s.engine.NewTally(d.payments, d.campaign.Treasury())
	return s.stream(ctx, d, refresh, tally), nil
}

type countData struct {
	Total int `json:"total"`
}

type transactionData struct {
	Transaction explorer.Transaction `json:"transaction"`
	Progress    explorer.Progress    `json:"progress"`
}

type completeData struct {
	ProcessedCount int `json:"processedCount"`
}

type errorData struct {
	Error string `json:"error"`
}

func (s *Service) stream(ctx context.Context, d *campaignData, refresh bool, tally *Tally) <-chan Message {
	out := make(chan Message)
	treasury := d.campaign.Treasury()

	go func() {
		defer close(out)
		send := func(m Message) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- m:
				return true
			}
		}
		snapshot := func(loading bool) bool {
			if tally == nil {
				return true
			}
			return send(Message{Type: MessageReconciliation, Data: tally.Snapshot(loading)})
		}
		finish := func(n int) {
			if tally != nil {
				metrics.IncReconciliation(tally.Snapshot(false).Status)
			}
			if snapshot(false) {
				send(Message{Type: explorer.EventComplete, Data: completeData{ProcessedCount: n}})
			}
		}

		var events <-chan explorer.StreamEvent
		switch {
		case treasury == "":
			events = replay(ctx, nil)
		case !refresh:
			if txs, ok := s.cached(ctx, treasury); ok {
				events = replay(ctx, txs)
			}
		}
		fromCache := events != nil && treasury != ""
		if events == nil {
			events = s.fetcher.Stream(ctx, treasury)
		}

		var collected []explorer.Transaction
		for ev := range events {
			switch ev.Type {
			case explorer.EventTransactionCount:
				if !send(Message{Type: ev.Type, Data: countData{Total: ev.Count}}) {
					return
				}
			case explorer.EventTransaction:
				tx := *ev.Transaction
				collected = append(collected, tx)
				if !send(Message{Type: ev.Type, Data: transactionData{Transaction: tx, Progress: ev.Progress}}) {
					return
				}
				if tally != nil {
					tally.Add(tx)
					if !snapshot(true) {
						return
					}
				}
			case explorer.EventError:
				s.logger.Warn("Transaction stream failed", zap.Uint("campaign_id", d.campaign.ID), zap.Error(ev.Err))
				send(Message{Type: explorer.EventError, Data: errorData{Error: ev.Err.Error()}})
				return
			case explorer.EventComplete:
				if !fromCache && treasury != "" {
					s.store(ctx, treasury, collected)
				}
				finish(ev.Processed)
				return
			}
		}
	}()
	return out
}

// replay emits txs as a finished explorer stream.
func replay(ctx context.Context, txs []explorer.Transaction) <-chan explorer.StreamEvent {
	out := make(chan explorer.StreamEvent)
	go func() {
		defer close(out)
		events := make([]explorer.StreamEvent, 0, len(txs)+2)
		events = append(events, explorer.StreamEvent{Type: explorer.EventTransactionCount, Count: len(txs)})
		for i := range txs {
			events = append(events, explorer.StreamEvent{
				Type:        explorer.EventTransaction,
				Transaction: &txs[i],
				Progress:    explorer.Progress{Loaded: i + 1, Total: len(txs)},
			})
		}
		events = append(events, explorer.StreamEvent{Type: explorer.EventComplete, Processed: len(txs)})
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()
	return out
}

// ParseTolerance parses a non-negative decimal tolerance.
func ParseTolerance(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid reconciliation tolerance %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid reconciliation tolerance %q: must not be negative", s)
	}
	return d, nil
}
