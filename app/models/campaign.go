package models

import (
	"strings"
	"time"
)

// Campaign is owned by the campaign CRUD code. This service only reads it.
type Campaign struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Title           string    `gorm:"type:varchar(255);not null" json:"title"`
	Status          string    `gorm:"type:varchar(30);index" json:"status"`
	CreatorAddress  string    `gorm:"type:varchar(42);index" json:"creator_address"`
	TreasuryAddress *string   `gorm:"type:varchar(42)" json:"treasury_address,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Treasury returns the trimmed treasury address or "" when none is deployed.
func (c *Campaign) Treasury() string {
	if c.TreasuryAddress == nil {
		return ""
	}
	return strings.TrimSpace(*c.TreasuryAddress)
}
