package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentStatusConfirming = "confirming"
	PaymentStatusConfirmed  = "confirmed"
	PaymentStatusFailed     = "failed"
)

const (
	PaymentProviderDaimo      = "daimo"
	PaymentProviderCrowdsplit = "crowdsplit"
)

// Pledge execution lifecycle of a confirmed payment.
const (
	PledgeExecutionNotStarted = "NOT_STARTED"
	PledgeExecutionPending    = "PENDING"
	PledgeExecutionProcessing = "PROCESSING"
	PledgeExecutionSuccess    = "SUCCESS"
	PledgeExecutionFailed     = "FAILED"
)

// Payment is the ledger entry for one funding contribution. Amount holds the
// base pledge, TipAmount the optional platform tip.
type Payment struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	ExternalPaymentID string            `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_external_payment_id" json:"external_payment_id" validate:"required"`
	TransactionHash   *string           `gorm:"type:varchar(100);index" json:"transaction_hash,omitempty"`
	Amount            decimal.Decimal   `gorm:"type:decimal(36,18);not null" json:"amount"`
	TipAmount         decimal.Decimal   `gorm:"type:decimal(36,18);not null;default:0" json:"tip_amount"`
	Token             string            `gorm:"type:varchar(20);not null" json:"token" validate:"required"`
	CampaignID        uint              `gorm:"not null;index" json:"campaign_id" validate:"required"`
	UserID            uint              `gorm:"not null;index" json:"user_id" validate:"required"`
	Status            string            `gorm:"type:varchar(20);not null;index" json:"status" validate:"required,oneof=confirming confirmed failed"`
	Provider          string            `gorm:"type:varchar(20);not null;index" json:"provider" validate:"required"`
	IsAnonymous       bool              `gorm:"default:false" json:"is_anonymous"`
	Metadata          datatypes.JSONMap `gorm:"type:json" json:"metadata"`

	PledgeExecutionStatus      string     `gorm:"type:varchar(20);not null;default:'NOT_STARTED';index" json:"pledge_execution_status"`
	PledgeExecutionAttempts    int        `gorm:"not null;default:0" json:"pledge_execution_attempts"`
	PledgeExecutionLastAttempt *time.Time `gorm:"type:timestamp;default:null" json:"pledge_execution_last_attempt,omitempty"`
	PledgeExecutionError       string     `gorm:"type:text" json:"pledge_execution_error,omitempty"`
	PledgeExecutionTxHash      *string    `gorm:"type:varchar(100)" json:"pledge_execution_tx_hash,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`

	Campaign *Campaign `gorm:"foreignKey:CampaignID" json:"-"`
	User     *User     `gorm:"foreignKey:UserID" json:"-"`
}

// TotalAmount is the amount the backer paid: base pledge plus tip.
func (p *Payment) TotalAmount() decimal.Decimal {
	return p.Amount.Add(p.TipAmount)
}

// MetadataString returns a string metadata field or "".
func (p *Payment) MetadataString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata[key].(string); ok {
		return v
	}
	return ""
}

func (p *Payment) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}
