package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundContribution links a confirmed payment to a round the campaign was
// approved for at confirmation time. One row per (payment, round).
type RoundContribution struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	PaymentID       uint            `gorm:"not null;index:ux_round_contributions_payment_round,unique,priority:1" json:"payment_id"`
	RoundID         uint            `gorm:"not null;index:ux_round_contributions_payment_round,unique,priority:2;index" json:"round_id"`
	RoundCampaignID uint            `gorm:"not null;index" json:"round_campaign_id"`
	CampaignID      uint            `gorm:"not null;index" json:"campaign_id"`
	UserID          uint            `gorm:"not null;index" json:"user_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	HumanityScore   int             `gorm:"not null;default:0" json:"humanity_score"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
