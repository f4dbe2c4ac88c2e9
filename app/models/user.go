package models

import (
	"strings"
	"time"
)

// MaxAddressLength is the width of the address columns.
const MaxAddressLength = 42

// User is a backer or campaign creator identified by wallet address.
// Address is stored lower-cased; RawAddress keeps the checksummed form.
type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Address       string    `gorm:"type:varchar(42);not null;uniqueIndex:ux_users_address" json:"address"`
	RawAddress    string    `gorm:"type:varchar(42)" json:"raw_address"`
	Email         *string   `gorm:"type:varchar(255)" json:"email,omitempty"`
	Username      *string   `gorm:"type:varchar(100)" json:"username,omitempty"`
	FirstName     *string   `gorm:"type:varchar(100)" json:"first_name,omitempty"`
	LastName      *string   `gorm:"type:varchar(100)" json:"last_name,omitempty"`
	HumanityScore int       `gorm:"not null;default:0" json:"humanity_score"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeAddress lower-cases and trims an address for lookups.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// DisplayName prefers the username, then the full name. Returns "" when neither is set.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Username != nil && strings.TrimSpace(*u.Username) != "" {
		return strings.TrimSpace(*u.Username)
	}
	var parts []string
	if u.FirstName != nil && strings.TrimSpace(*u.FirstName) != "" {
		parts = append(parts, strings.TrimSpace(*u.FirstName))
	}
	if u.LastName != nil && strings.TrimSpace(*u.LastName) != "" {
		parts = append(parts, strings.TrimSpace(*u.LastName))
	}
	return strings.Join(parts, " ")
}
