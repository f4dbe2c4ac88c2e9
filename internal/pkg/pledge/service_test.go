package pledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
)

type fakeStore struct {
	mu        sync.Mutex
	payments  map[uint]*models.Payment
	started   int
	failed    map[uint]string
	completed map[uint]map[string]interface{}
}

func newFakeStore(payments ...*models.Payment) *fakeStore {
	s := &fakeStore{payments: map[uint]*models.Payment{}, failed: map[uint]string{}, completed: map[uint]map[string]interface{}{}}
	for _, p := range payments {
		s.payments[p.ID] = p
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id uint) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) ListFailedPledges(context.Context, int, time.Time, int) ([]models.Payment, error) {
	return nil, nil
}

func (s *fakeStore) StartPledgeAttempt(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	s.payments[id].PledgeExecutionAttempts++
	return nil
}

func (s *fakeStore) CompletePledge(_ context.Context, id uint, txHash string, md map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = md
	s.payments[id].PledgeExecutionTxHash = &txHash
	s.payments[id].PledgeExecutionStatus = models.PledgeExecutionSuccess
	return nil
}

func (s *fakeStore) MarkPledgeFailed(_ context.Context, id uint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = reason
	return nil
}

type stubExecutor struct {
	calls int
	err   error
	last  Request
}

func (e *stubExecutor) Execute(_ context.Context, req Request) (*Result, error) {
	e.calls++
	e.last = req
	if e.err != nil {
		return nil, e.err
	}
	return &Result{TxHash: "0xfeed", PledgeID: req.PledgeID, BlockNumber: 42}, nil
}

type heldLocker struct{ held bool }

func (l *heldLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func confirmedPayment() *models.Payment {
	treasury := "0x1111111111111111111111111111111111111111"
	return &models.Payment{
		ID:                7,
		ExternalPaymentID: "ext-7",
		Amount:            decimal.RequireFromString("25"),
		TipAmount:         decimal.RequireFromString("2.5"),
		Token:             "USDT",
		CampaignID:        3,
		UserID:            9,
		Status:            models.PaymentStatusConfirmed,
		Provider:          models.PaymentProviderDaimo,
		Metadata:          map[string]interface{}{"daimoEventType": "payment_completed"},
		Campaign:          &models.Campaign{ID: 3, TreasuryAddress: &treasury},
		User:              &models.User{ID: 9, Address: "0x2222222222222222222222222222222222222222"},
	}
}

func TestExecuteSuccessMergesMetadata(t *testing.T) {
	store := newFakeStore(confirmedPayment())
	exec := &stubExecutor{}
	svc := NewService(store, exec, &heldLocker{}, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	out, err := svc.Execute(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", out.TransactionHash)
	assert.False(t, out.AlreadyExecuted)
	assert.Equal(t, 1, store.started)
	assert.True(t, exec.last.PledgeAmount.Equal(decimal.RequireFromString("25")))

	md := store.completed[7]
	assert.Equal(t, "payment_completed", md["daimoEventType"])
	assert.Equal(t, "0xfeed", md["treasuryTxHash"])
	assert.Equal(t, exec.last.PledgeID, md["onChainPledgeId"])
	assert.Equal(t, "2026-05-01T12:00:00Z", md["executionTimestamp"])
}

func TestExecuteSkipsWhenTxHashPresent(t *testing.T) {
	p := confirmedPayment()
	hash := "0xdone"
	p.PledgeExecutionTxHash = &hash
	exec := &stubExecutor{}
	svc := NewService(newFakeStore(p), exec, nil, nil)

	out, err := svc.Execute(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, out.AlreadyExecuted)
	assert.Equal(t, "0xdone", out.TransactionHash)
	assert.Zero(t, exec.calls)
}

func TestExecuteIneligible(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *models.Payment)
	}{
		{"not confirmed", func(p *models.Payment) { p.Status = models.PaymentStatusConfirming }},
		{"other provider", func(p *models.Payment) { p.Provider = models.PaymentProviderCrowdsplit }},
		{"zero amount", func(p *models.Payment) { p.Amount = decimal.Zero }},
		{"no treasury", func(p *models.Payment) { p.Campaign.TreasuryAddress = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := confirmedPayment()
			tt.mutate(p)
			exec := &stubExecutor{}
			_, err := NewService(newFakeStore(p), exec, nil, nil).Execute(context.Background(), 7)
			require.Error(t, err)
			assert.True(t, IsIneligible(err))
			assert.Zero(t, exec.calls)
		})
	}
}

func TestExecuteFailureMarksPayment(t *testing.T) {
	store := newFakeStore(confirmedPayment())
	exec := &stubExecutor{err: errors.New("insufficient admin balance")}

	_, err := NewService(store, exec, nil, nil).Execute(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, "insufficient admin balance", store.failed[7])
	assert.Empty(t, store.completed)
}

func TestExecuteLocked(t *testing.T) {
	store := newFakeStore(confirmedPayment())
	_, err := NewService(store, &stubExecutor{}, &heldLocker{held: true}, nil).Execute(context.Background(), 7)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Zero(t, store.started)
}

func TestExecuteUnknownPayment(t *testing.T) {
	_, err := NewService(newFakeStore(), &stubExecutor{}, nil, nil).Execute(context.Background(), 99)
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
}

func TestDeterministicPledgeIDStable(t *testing.T) {
	a := DeterministicPledgeID("0xT", "0xU", 1)
	assert.Equal(t, a, DeterministicPledgeID("0xT", "0xU", 1))
	assert.NotEqual(t, a, DeterministicPledgeID("0xT", "0xU", 2))
	assert.Len(t, a, 66)
}

func TestHTTPExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer signer-token", r.Header.Get("Authorization"))
		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, uint(7), req.PaymentID)
		_ = json.NewEncoder(w).Encode(Result{TxHash: "0xabc", BlockNumber: 10})
	}))
	defer srv.Close()

	exec := &HTTPExecutor{URL: srv.URL, Token: "signer-token", HTTPClient: srv.Client()}
	res, err := exec.Execute(context.Background(), Request{PaymentID: 7, PledgeID: "0xpledge"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.TxHash)
	assert.Equal(t, "0xpledge", res.PledgeID)
}

func TestHTTPExecutorUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "reverted", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := (&HTTPExecutor{URL: srv.URL}).Execute(context.Background(), Request{PaymentID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestDisabledExecutor(t *testing.T) {
	_, err := disabledExecutor{}.Execute(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrExecutorDisabled)
}
