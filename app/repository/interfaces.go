package repository

import (
	"context"
	"time"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"gorm.io/gorm"
)

// CampaignRepository reads campaigns owned by the campaign CRUD service.
type CampaignRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Campaign, error)
}

// UserRepository defines the user lookups used by notifications and pledges
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByAddress(ctx context.Context, address string) (*models.User, error)
}

// PaymentRepository covers reconciliation reads and pledge execution tracking.
type PaymentRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	ListConfirmedByCampaign(ctx context.Context, campaignID uint) ([]models.Payment, error)
	ListFailedPledges(ctx context.Context, maxAttempts int, lastAttemptBefore time.Time, limit int) ([]models.Payment, error)
	MarkPledgePending(ctx context.Context, id uint) error
	MarkPledgeFailed(ctx context.Context, id uint, reason string) error
	StartPledgeAttempt(ctx context.Context, id uint) error
	CompletePledge(ctx context.Context, id uint, txHash string, metadata map[string]interface{}) error
}

// RoundRepository links confirmed payments to matching rounds.
type RoundRepository interface {
	ActiveApprovedParticipations(ctx context.Context, campaignID uint, at time.Time) ([]models.RoundCampaign, error)
	UserHumanityScore(ctx context.Context, userID uint) (int, error)
	CreateContribution(ctx context.Context, c *models.RoundContribution) (bool, error)
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	// Create returns false when a notification with the same event UUID exists.
	Create(ctx context.Context, n *models.Notification) (bool, error)
}

// WebhookEventRepository prunes the webhook delivery log and idempotency keys.
type WebhookEventRepository interface {
	ListReceivedBefore(ctx context.Context, before time.Time, afterID uint, limit int) ([]models.PaymentWebhookEvent, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
	DeleteIdempotencyBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Campaign     CampaignRepository
	User         UserRepository
	Payment      PaymentRepository
	Round        RoundRepository
	Notification NotificationRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Campaign:     NewCampaignRepository(db),
		User:         NewUserRepository(db),
		Payment:      NewPaymentRepository(db),
		Round:        NewRoundRepository(db),
		Notification: NewNotificationRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
