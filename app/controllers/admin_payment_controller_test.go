package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/jobqueue"
)

type stubPayments map[uint]*models.Payment

func (s stubPayments) GetByID(_ context.Context, id uint) (*models.Payment, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type stubEnqueuer struct {
	ids     []uint
	sources []string
	err     error
}

func (s *stubEnqueuer) EnqueuePledge(_ context.Context, id uint, source string) (*jobqueue.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.ids = append(s.ids, id)
	s.sources = append(s.sources, source)
	return &jobqueue.Job{ID: "job-1", Type: jobqueue.JobTypePledgeExecution}, nil
}

func eligiblePayment(id uint) *models.Payment {
	treasury := "0x00000000000000000000000000000000000000aa"
	return &models.Payment{
		ID:                    id,
		Provider:              models.PaymentProviderDaimo,
		Status:                models.PaymentStatusConfirmed,
		Amount:                decimal.NewFromInt(25),
		PledgeExecutionStatus: models.PledgeExecutionFailed,
		Campaign:              &models.Campaign{ID: 1, TreasuryAddress: &treasury},
		User:                  &models.User{ID: 2, Address: "0x00000000000000000000000000000000000000bb"},
	}
}

func retry(t *testing.T, payments stubPayments, enq *stubEnqueuer, id string) (int, map[string]interface{}) {
	t.Helper()
	ac := NewAdminPaymentController(payments, enq, nil)
	app := fiber.New()
	app.Post("/payments/:id/retry-pledge", ac.HandleRetryPledge)

	resp, err := app.Test(httptest.NewRequest("POST", "/payments/"+id+"/retry-pledge", nil))
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestRetryPledge(t *testing.T) {
	enq := &stubEnqueuer{}
	status, body := retry(t, stubPayments{7: eligiblePayment(7)}, enq, "7")
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, "job-1", body["jobId"])
	assert.Equal(t, models.PledgeExecutionPending, body["status"])
	assert.Equal(t, []uint{7}, enq.ids)
	assert.Equal(t, []string{"admin"}, enq.sources)
}

func TestRetryPledgeRejections(t *testing.T) {
	done := eligiblePayment(1)
	done.PledgeExecutionStatus = models.PledgeExecutionSuccess

	crowdsplit := eligiblePayment(2)
	crowdsplit.Provider = models.PaymentProviderCrowdsplit

	payments := stubPayments{1: done, 2: crowdsplit}
	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"invalid id", "x", fiber.StatusBadRequest},
		{"unknown payment", "99", fiber.StatusNotFound},
		{"already executed", "1", fiber.StatusConflict},
		{"ineligible provider", "2", fiber.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := &stubEnqueuer{}
			status, _ := retry(t, payments, enq, tt.id)
			assert.Equal(t, tt.status, status)
			assert.Empty(t, enq.ids)
		})
	}
}

func TestRetryPledgeEnqueueFailure(t *testing.T) {
	status, body := retry(t, stubPayments{7: eligiblePayment(7)}, &stubEnqueuer{err: errors.New("redis down")}, "7")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "internal_server_error", body["error"])
}
