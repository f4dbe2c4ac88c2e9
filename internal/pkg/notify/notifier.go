package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/app/repository"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

// Notifier writes in-app notifications for campaign creators. Delivery
// (push, email) happens elsewhere and reads the notifications table.
type Notifier struct {
	campaigns     repository.CampaignRepository
	users         repository.UserRepository
	notifications repository.NotificationRepository
	logger        *zap.Logger
}

func NewNotifier(repos *repository.Repositories, log *zap.Logger) *Notifier {
	return &Notifier{
		campaigns:     repos.Campaign,
		users:         repos.User,
		notifications: repos.Notification,
		logger:        logger.OrNop(log).Named("notify"),
	}
}

// NotifyPaymentConfirmed tells the campaign creator about a confirmed payment.
// Campaigns without a known creator are skipped silently. eventUUID makes the
// write idempotent; an empty value disables the guard.
func (n *Notifier) NotifyPaymentConfirmed(ctx context.Context, payment *models.Payment, eventUUID string) error {
	campaign := payment.Campaign
	if campaign == nil {
		c, err := n.campaigns.GetByID(ctx, payment.CampaignID)
		if err != nil {
			return fmt.Errorf("failed to load campaign %d: %w", payment.CampaignID, err)
		}
		campaign = c
	}
	if strings.TrimSpace(campaign.CreatorAddress) == "" {
		return nil
	}

	creator, err := n.users.GetByAddress(ctx, campaign.CreatorAddress)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			n.logger.Debug("Campaign creator has no user record", zap.Uint("campaign_id", campaign.ID))
			return nil
		}
		return fmt.Errorf("failed to load campaign creator: %w", err)
	}

	backer := payment.User
	if backer == nil && !payment.IsAnonymous {
		// a missing backer only degrades the donor name
		if u, err := n.users.GetByID(ctx, payment.UserID); err == nil {
			backer = u
		}
	}

	notification := &models.Notification{
		ReceiverID: creator.ID,
		CreatorID:  payment.UserID,
		Type:       models.NotificationTypeCampaignPayment,
		Data: datatypes.JSONMap{
			"type":            models.NotificationTypeCampaignPayment,
			"campaignId":      campaign.ID,
			"campaignTitle":   campaign.Title,
			"paymentId":       payment.ID,
			"formattedAmount": FormatAmount(payment),
			"donorName":       DonorName(payment.IsAnonymous, backer),
		},
	}
	if eventUUID != "" {
		notification.EventUUID = &eventUUID
	}

	created, err := n.notifications.Create(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	if !created {
		n.logger.Debug("Notification already exists", zap.String("event_uuid", eventUUID), zap.Uint("payment_id", payment.ID))
	}
	return nil
}

// DonorName is "anon" for anonymous payments, else the display name, else the
// wallet address, else "unknown".
func DonorName(anonymous bool, u *models.User) string {
	if anonymous {
		return "anon"
	}
	if name := u.DisplayName(); name != "" {
		return name
	}
	if u != nil && u.Address != "" {
		return u.Address
	}
	return "unknown"
}

// FormatAmount renders the base pledge with two decimals and the token, e.g. "25.00 USDT".
func FormatAmount(p *models.Payment) string {
	return strings.TrimSpace(p.Amount.StringFixed(2) + " " + p.Token)
}
