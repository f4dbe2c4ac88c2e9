package models

import "time"

const (
	RoundCampaignStatusPending  = "PENDING"
	RoundCampaignStatusApproved = "APPROVED"
	RoundCampaignStatusRejected = "REJECTED"
)

// Round is a matching-funds round with a fixed window.
type Round struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	StartTime time.Time `gorm:"not null;index" json:"start_time"`
	EndTime   time.Time `gorm:"not null;index" json:"end_time"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsOpen reports whether t lies within the round window (inclusive).
func (r *Round) IsOpen(t time.Time) bool {
	return !t.Before(r.StartTime) && !t.After(r.EndTime)
}

// RoundCampaign is a campaign's participation in a round.
type RoundCampaign struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RoundID    uint      `gorm:"not null;index:ux_round_campaigns_round_campaign,unique,priority:1" json:"round_id"`
	CampaignID uint      `gorm:"not null;index:ux_round_campaigns_round_campaign,unique,priority:2;index" json:"campaign_id"`
	Status     string    `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Round Round `gorm:"foreignKey:RoundID" json:"round"`
}
