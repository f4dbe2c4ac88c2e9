package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/pledge"
)

type fakeSweeper struct{ due []models.Payment }

func (f *fakeSweeper) DueForRetry(context.Context) ([]models.Payment, error) { return f.due, nil }

type fakeMarker struct {
	mu      sync.Mutex
	pending []uint
	err     error
}

func (f *fakeMarker) MarkPledgePending(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pending = append(f.pending, id)
	return nil
}

type fakeReplayer struct {
	olderThan time.Duration
	limit     int
}

func (f *fakeReplayer) ReplayStuck(_ context.Context, olderThan time.Duration, limit int) ([]billing.ReplayResult, error) {
	f.olderThan, f.limit = olderThan, limit
	return []billing.ReplayResult{{PaymentID: 1}}, nil
}

func TestManager_SchedulePledge(t *testing.T) {
	_, client := newTestRedis(t)
	marker := &fakeMarker{}
	m := NewManager(ManagerDeps{Queue: NewQueue(client, 1, nil), Marker: marker})
	ctx := context.Background()

	require.NoError(t, m.SchedulePledge(ctx, 21))
	assert.Equal(t, []uint{21}, marker.pending)

	size, err := m.GetQueue().GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestManager_SchedulePledgeMarkFailure(t *testing.T) {
	_, client := newTestRedis(t)
	m := NewManager(ManagerDeps{Queue: NewQueue(client, 1, nil), Marker: &fakeMarker{err: errors.New("db down")}})

	err := m.SchedulePledge(context.Background(), 21)
	require.Error(t, err)
	size, _ := m.GetQueue().GetQueueSize(context.Background())
	assert.Zero(t, size)
}

func TestManager_RetryFailedPledges(t *testing.T) {
	_, client := newTestRedis(t)
	marker := &fakeMarker{}
	m := NewManager(ManagerDeps{
		Queue:   NewQueue(client, 1, nil),
		Sweeper: &fakeSweeper{due: []models.Payment{{ID: 4}, {ID: 8}}},
		Marker:  marker,
	})

	res, err := m.RetryFailedPledges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, []uint{4, 8}, res.Scheduled)
	assert.Empty(t, res.Errors)
}

func TestManager_ReplayStuckWebhooks(t *testing.T) {
	_, client := newTestRedis(t)
	r := &fakeReplayer{}
	m := NewManager(ManagerDeps{Queue: NewQueue(client, 1, nil), Replayer: r})

	results, err := m.ReplayStuckWebhooks(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 10*time.Minute, r.olderThan)
	assert.Equal(t, 10, r.limit)
}

func TestManager_StartStop(t *testing.T) {
	_, client := newTestRedis(t)
	m := NewManager(ManagerDeps{Queue: NewQueue(client, 1, nil), Intervals: Intervals{MetricsUpdate: 10 * time.Millisecond}})

	assert.False(t, m.IsRunning())
	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())

	// restartable
	m.Start()
	m.Stop()
}

type blockingRetention struct {
	started chan struct{}
	err     chan error
}

func (b *blockingRetention) Run(ctx context.Context) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	select {
	case b.err <- ctx.Err():
	default:
	}
	return ctx.Err()
}

func TestManager_StopCancelsRunningTask(t *testing.T) {
	_, client := newTestRedis(t)
	r := &blockingRetention{started: make(chan struct{}, 1), err: make(chan error, 1)}
	m := NewManager(ManagerDeps{
		Queue:     NewQueue(client, 1, nil),
		Retention: r,
		Intervals: Intervals{Retention: 5 * time.Millisecond},
	})
	m.Start()

	select {
	case <-r.started:
	case <-time.After(5 * time.Second):
		t.Fatal("retention task never ran")
	}

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running task")
	}
	assert.ErrorIs(t, <-r.err, context.Canceled)
}

type stubPledgeExecutor struct {
	err error
}

func (s stubPledgeExecutor) Execute(_ context.Context, id uint) (*pledge.Outcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &pledge.Outcome{PaymentID: id, TransactionHash: "0x1"}, nil
}

func TestPledgeProcessor(t *testing.T) {
	job := func() *Job {
		return &Job{ID: "j", Payload: PledgeExecutionJobPayload{PaymentID: 5}.ToMap()}
	}
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"ineligible is dropped", &pledge.IneligibleError{PaymentID: 5, Reason: "not confirmed"}, false},
		{"missing payment is dropped", billing.ErrPaymentNotFound, false},
		{"executor failure retries", errors.New("rpc timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPledgeProcessor(stubPledgeExecutor{err: tt.err}, zap.NewNop())
			err := p(context.Background(), job())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("missing payment id", func(t *testing.T) {
		p := NewPledgeProcessor(stubPledgeExecutor{}, zap.NewNop())
		assert.Error(t, p(context.Background(), &Job{Payload: map[string]interface{}{}}))
	})
}
