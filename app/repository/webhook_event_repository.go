package repository

import (
	"context"
	"time"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"gorm.io/gorm"
)

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// ListReceivedBefore pages through old deliveries by ascending id.
func (r *webhookEventRepository) ListReceivedBefore(ctx context.Context, before time.Time, afterID uint, limit int) ([]models.PaymentWebhookEvent, error) {
	var events []models.PaymentWebhookEvent
	err := r.db.WithContext(ctx).
		Where("received_at < ? AND id > ?", before, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.PaymentWebhookEvent{})
	return tx.RowsAffected, tx.Error
}

func (r *webhookEventRepository) DeleteIdempotencyBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.IdempotencyRecord{})
	return tx.RowsAffected, tx.Error
}
