package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

// SubjectPaymentConfirmed carries one message per payment that reached confirmed.
const SubjectPaymentConfirmed = "payments.confirmed"

// PaymentConfirmed is the message body published on SubjectPaymentConfirmed.
type PaymentConfirmed struct {
	PaymentID         uint      `json:"payment_id"`
	ExternalPaymentID string    `json:"external_payment_id"`
	CampaignID        uint      `json:"campaign_id"`
	UserID            uint      `json:"user_id"`
	Provider          string    `json:"provider"`
	Amount            string    `json:"amount"`
	TipAmount         string    `json:"tip_amount"`
	Token             string    `json:"token"`
	TransactionHash   string    `json:"transaction_hash,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends payment events to NATS.
type Publisher struct {
	conn   Conn
	logger *zap.Logger
	now    func() time.Time
}

func NewPublisher(conn Conn, log *zap.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger.OrNop(log).Named("events"), now: time.Now}
}

// Connect dials NATS. An empty url returns (nil, nil): publishing is optional.
func Connect(url string, log *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	log = logger.OrNop(log)
	nc, err := nats.Connect(url,
		nats.Name("relayfunder"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	return nc, nil
}

func (p *Publisher) PublishPaymentConfirmed(_ context.Context, payment *models.Payment) error {
	msg := PaymentConfirmed{
		PaymentID:         payment.ID,
		ExternalPaymentID: payment.ExternalPaymentID,
		CampaignID:        payment.CampaignID,
		UserID:            payment.UserID,
		Provider:          payment.Provider,
		Amount:            payment.Amount.String(),
		TipAmount:         payment.TipAmount.String(),
		Token:             payment.Token,
		Timestamp:         p.now().UTC(),
	}
	if payment.TransactionHash != nil {
		msg.TransactionHash = *payment.TransactionHash
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}
	if err := p.conn.Publish(SubjectPaymentConfirmed, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("Published payment event", zap.String("subject", SubjectPaymentConfirmed), zap.Uint("payment_id", payment.ID))
	return nil
}
