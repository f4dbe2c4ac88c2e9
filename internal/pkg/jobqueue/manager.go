package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

const (
	// StuckPaymentAge is how long a payment may stay confirming before its
	// stored webhook events are replayed.
	StuckPaymentAge = 10 * time.Minute
	// StuckReplayBatch bounds one replay run.
	StuckReplayBatch = 10
)

// PledgeSweeper lists failed pledges that are due for another attempt.
type PledgeSweeper interface {
	DueForRetry(ctx context.Context) ([]models.Payment, error)
}

// PledgeMarker moves a payment's pledge tracking to PENDING.
type PledgeMarker interface {
	MarkPledgePending(ctx context.Context, id uint) error
}

// StuckReplayer replays stored webhook events for stuck payments.
type StuckReplayer interface {
	ReplayStuck(ctx context.Context, olderThan time.Duration, limit int) ([]billing.ReplayResult, error)
}

// RetentionRunner prunes (and optionally archives) old webhook data.
type RetentionRunner interface {
	Run(ctx context.Context) error
}

// Intervals configures the background tickers. Zero disables a ticker.
type Intervals struct {
	PledgeRetry   time.Duration
	StuckReplay   time.Duration
	Retention     time.Duration
	MetricsUpdate time.Duration
}

// IntervalsFromEnv reads PLEDGE_RETRY_INTERVAL, STUCK_REPLAY_INTERVAL and
// RETENTION_INTERVAL.
func IntervalsFromEnv() Intervals {
	return Intervals{
		PledgeRetry:   env.GetDuration("PLEDGE_RETRY_INTERVAL", 5*time.Minute),
		StuckReplay:   env.GetDuration("STUCK_REPLAY_INTERVAL", 5*time.Minute),
		Retention:     env.GetDuration("RETENTION_INTERVAL", 24*time.Hour),
		MetricsUpdate: 30 * time.Second,
	}
}

// Manager owns the job queue and the periodic maintenance tasks around
// confirmed payments.
type Manager struct {
	queue     *Queue
	sweeper   PledgeSweeper
	marker    PledgeMarker
	replayer  StuckReplayer
	retention RetentionRunner
	intervals Intervals
	logger    *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// ManagerDeps wires a Manager. Nil collaborators disable their ticker.
type ManagerDeps struct {
	Queue     *Queue
	Sweeper   PledgeSweeper
	Marker    PledgeMarker
	Replayer  StuckReplayer
	Retention RetentionRunner
	Intervals Intervals
	Logger    *zap.Logger
}

func NewManager(d ManagerDeps) *Manager {
	return &Manager{
		queue:     d.Queue,
		sweeper:   d.Sweeper,
		marker:    d.Marker,
		replayer:  d.Replayer,
		retention: d.Retention,
		intervals: d.Intervals,
		logger:    logger.OrNop(d.Logger).Named("jobqueue.manager"),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Fresh context per start cycle so the manager can be restarted safely.
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true
	m.logger.Info("Starting job queue and background tasks")

	m.queue.Start()

	if m.sweeper != nil {
		m.every("pledge-retry", m.intervals.PledgeRetry, func(ctx context.Context) error {
			_, err := m.RetryFailedPledges(ctx)
			return err
		})
	}
	if m.replayer != nil {
		m.every("stuck-replay", m.intervals.StuckReplay, func(ctx context.Context) error {
			_, err := m.ReplayStuckWebhooks(ctx)
			return err
		})
	}
	if m.retention != nil {
		m.every("retention", m.intervals.Retention, m.retention.Run)
	}
	m.every("metrics", m.intervals.MetricsUpdate, func(ctx context.Context) error {
		m.queue.RefreshMetrics(ctx)
		return nil
	})
}

// every runs fn on a ticker until Stop. fn receives the manager's context,
// which Stop cancels. Must be called with m.mu held.
func (m *Manager) every(name string, interval time.Duration, fn func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.logger.Info("Started background task", zap.String("task", name), zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error("Background task failed", zap.String("task", name), zap.Error(err))
				}
			}
		}
	}()
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.logger.Info("Stopping job queue and background tasks")
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.queue.Stop()
	m.logger.Info("Stopped")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SchedulePledge marks the payment PENDING and enqueues its pledge job.
func (m *Manager) SchedulePledge(ctx context.Context, paymentID uint) error {
	_, err := m.EnqueuePledge(ctx, paymentID, "webhook")
	return err
}

// EnqueuePledge is SchedulePledge with an explicit source label.
func (m *Manager) EnqueuePledge(ctx context.Context, paymentID uint, source string) (*Job, error) {
	if m.marker != nil {
		if err := m.marker.MarkPledgePending(ctx, paymentID); err != nil {
			return nil, fmt.Errorf("failed to mark pledge pending: %w", err)
		}
	}
	return m.queue.EnqueueJob(ctx, JobTypePledgeExecution, PledgeExecutionJobPayload{
		PaymentID: paymentID,
		Source:    source,
	}.ToMap())
}

// SweepResult reports one failed-pledge sweep.
type SweepResult struct {
	Found     int      `json:"found"`
	Scheduled []uint   `json:"scheduled"`
	Errors    []string `json:"errors,omitempty"`
}

// RetryFailedPledges re-enqueues failed pledges that are due for retry.
func (m *Manager) RetryFailedPledges(ctx context.Context) (*SweepResult, error) {
	if m.sweeper == nil {
		return &SweepResult{}, nil
	}
	due, err := m.sweeper.DueForRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed pledges: %w", err)
	}
	res := &SweepResult{Found: len(due), Scheduled: []uint{}}
	for _, p := range due {
		if _, err := m.EnqueuePledge(ctx, p.ID, "sweep"); err != nil {
			m.logger.Error("Failed to re-enqueue pledge", zap.Uint("payment_id", p.ID), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("payment %d: %v", p.ID, err))
			continue
		}
		res.Scheduled = append(res.Scheduled, p.ID)
	}
	if len(due) > 0 {
		m.logger.Info("Failed pledge sweep", zap.Int("found", res.Found), zap.Int("scheduled", len(res.Scheduled)))
	}
	return res, nil
}

// ReplayStuckWebhooks replays stored events of payments stuck in confirming.
func (m *Manager) ReplayStuckWebhooks(ctx context.Context) ([]billing.ReplayResult, error) {
	if m.replayer == nil {
		return []billing.ReplayResult{}, nil
	}
	return m.replayer.ReplayStuck(ctx, StuckPaymentAge, StuckReplayBatch)
}
