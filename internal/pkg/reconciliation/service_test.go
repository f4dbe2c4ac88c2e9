package reconciliation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/explorer"
)

type stubCampaigns map[uint]*models.Campaign

func (s stubCampaigns) GetByID(_ context.Context, id uint) (*models.Campaign, error) {
	if c, ok := s[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type stubPayments []models.Payment

func (s stubPayments) ListConfirmedByCampaign(context.Context, uint) ([]models.Payment, error) {
	return s, nil
}

// fakeFetcher replays a fixed transaction list, or fails.
type fakeFetcher struct {
	txs   []explorer.Transaction
	err   error
	calls int32
}

func (f *fakeFetcher) Stream(ctx context.Context, _ string) <-chan explorer.StreamEvent {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		out := make(chan explorer.StreamEvent, 1)
		out <- explorer.StreamEvent{Type: explorer.EventError, Err: f.err}
		close(out)
		return out
	}
	return replay(ctx, f.txs)
}

func strPtr(s string) *string { return &s }

func newTestService(t *testing.T, f *fakeFetcher) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	campaigns := stubCampaigns{
		1: {ID: 1, Title: "with treasury", TreasuryAddress: strPtr(treasury)},
		2: {ID: 2, Title: "no treasury"},
	}
	payments := stubPayments{confirmed("10", "0"), confirmed("5", "0.5")}
	return NewService(campaigns, payments, f, nil, WithCache(client, time.Minute)), mr
}

func TestReconcile(t *testing.T) {
	f := &fakeFetcher{txs: []explorer.Transaction{usdcTx(backer, treasury, "15.5")}}
	svc, _ := newTestService(t, f)

	report, err := svc.Reconcile(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Len(t, report.DatabasePayments, 2)
	assert.Len(t, report.OnChainTransactions, 1)
	assert.Equal(t, StatusMatched, report.Comparison.Status)
}

func TestReconcileUsesCacheUnlessRefresh(t *testing.T) {
	f := &fakeFetcher{txs: []explorer.Transaction{usdcTx(backer, treasury, "1")}}
	svc, mr := newTestService(t, f)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, 1, false)
	require.NoError(t, err)
	_, err = svc.Reconcile(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
	assert.True(t, mr.Exists(cacheKey(treasury)))

	_, err = svc.Reconcile(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.calls))

	mr.FastForward(2 * time.Minute)
	_, err = svc.Reconcile(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.calls))
}

func TestReconcileWithoutTreasury(t *testing.T) {
	f := &fakeFetcher{}
	svc, _ := newTestService(t, f)

	report, err := svc.Reconcile(context.Background(), 2, false)
	require.NoError(t, err)
	assert.Empty(t, report.OnChainTransactions)
	assert.Equal(t, StatusBlockchainShort, report.Comparison.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.calls))
}

func TestReconcileUnknownCampaign(t *testing.T) {
	svc, _ := newTestService(t, &fakeFetcher{})
	_, err := svc.Reconcile(context.Background(), 99, false)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestReconcileFetchError(t *testing.T) {
	svc, mr := newTestService(t, &fakeFetcher{err: errors.New("explorer down")})
	_, err := svc.Reconcile(context.Background(), 1, false)
	assert.EqualError(t, err, "explorer down")
	assert.False(t, mr.Exists(cacheKey(treasury)))
}

func collect(ch <-chan Message) []Message {
	var out []Message
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func TestStreamReconcile(t *testing.T) {
	f := &fakeFetcher{txs: []explorer.Transaction{usdcTx(backer, treasury, "10"), usdcTx(backer, treasury, "5.5")}}
	svc, mr := newTestService(t, f)

	ch, err := svc.StreamReconcile(context.Background(), 1, false)
	require.NoError(t, err)
	msgs := collect(ch)

	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	assert.Equal(t, []string{
		explorer.EventTransactionCount,
		explorer.EventTransaction, MessageReconciliation,
		explorer.EventTransaction, MessageReconciliation,
		MessageReconciliation,
		explorer.EventComplete,
	}, types)

	first := msgs[2].Data.(Snapshot)
	assert.True(t, first.IsBlockchainDataLoading)
	assert.Equal(t, StatusBlockchainShort, first.Status)

	final := msgs[5].Data.(Snapshot)
	assert.False(t, final.IsBlockchainDataLoading)
	assert.Equal(t, StatusMatched, final.Status)
	assert.Equal(t, completeData{ProcessedCount: 2}, msgs[6].Data)
	assert.True(t, mr.Exists(cacheKey(treasury)))
}

func TestStreamTransactionsError(t *testing.T) {
	svc, _ := newTestService(t, &fakeFetcher{err: errors.New("boom")})

	ch, err := svc.StreamTransactions(context.Background(), 1, false)
	require.NoError(t, err)
	msgs := collect(ch)
	require.Len(t, msgs, 1)
	assert.Equal(t, explorer.EventError, msgs[0].Type)
	assert.Equal(t, errorData{Error: "boom"}, msgs[0].Data)
}

func TestStreamUnknownCampaign(t *testing.T) {
	svc, _ := newTestService(t, &fakeFetcher{})
	_, err := svc.StreamReconcile(context.Background(), 42, false)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestStreamStopsWhenClientLeaves(t *testing.T) {
	f := &fakeFetcher{txs: []explorer.Transaction{usdcTx(backer, treasury, "1"), usdcTx(backer, treasury, "2")}}
	svc, _ := newTestService(t, f)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := svc.StreamReconcile(ctx, 1, true)
	require.NoError(t, err)
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close")
	}
}
