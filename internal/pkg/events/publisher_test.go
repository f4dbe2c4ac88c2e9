package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
)

type recordingConn struct {
	subject string
	data    []byte
	err     error
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	c.subject, c.data = subject, data
	return c.err
}

func TestPublishPaymentConfirmed(t *testing.T) {
	conn := &recordingConn{}
	p := NewPublisher(conn, nil)
	p.now = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }

	hash := "0xdead"
	err := p.PublishPaymentConfirmed(context.Background(), &models.Payment{
		ID:                12,
		ExternalPaymentID: "daimo-12",
		CampaignID:        3,
		UserID:            4,
		Provider:          models.PaymentProviderDaimo,
		Amount:            decimal.RequireFromString("50"),
		TipAmount:         decimal.RequireFromString("5"),
		Token:             "USDT",
		TransactionHash:   &hash,
	})
	require.NoError(t, err)
	assert.Equal(t, SubjectPaymentConfirmed, conn.subject)

	var msg PaymentConfirmed
	require.NoError(t, json.Unmarshal(conn.data, &msg))
	assert.Equal(t, uint(12), msg.PaymentID)
	assert.Equal(t, "50", msg.Amount)
	assert.Equal(t, "5", msg.TipAmount)
	assert.Equal(t, "0xdead", msg.TransactionHash)
}

func TestPublishPaymentConfirmedError(t *testing.T) {
	conn := &recordingConn{err: errors.New("nats: connection closed")}
	err := NewPublisher(conn, nil).PublishPaymentConfirmed(context.Background(), &models.Payment{ID: 1})
	assert.ErrorContains(t, err, "connection closed")
}

func TestConnectWithoutURL(t *testing.T) {
	nc, err := Connect("", nil)
	assert.NoError(t, err)
	assert.Nil(t, nc)
}
