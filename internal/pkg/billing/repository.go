package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the payment confirmation service.
type Repository interface {
	FindPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	CreatePayment(ctx context.Context, p *models.Payment) (bool, *models.Payment, error)
	CompareAndSwapStatus(ctx context.Context, id uint, expected, next Status, metadata map[string]interface{}, txHash string) (bool, error)
	FindOrCreateUserByAddress(ctx context.Context, rawAddress, email string) (*models.User, error)
	CampaignExists(ctx context.Context, id uint) (bool, error)
	IdempotencyExists(ctx context.Context, key string) (bool, error)
	RecordIdempotency(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	MarkWebhookReplayed(ctx context.Context, id uint) error
	LatestWebhookEvent(ctx context.Context, provider, externalID, eventType string) (*models.PaymentWebhookEvent, error)
	ListStuckPayments(ctx context.Context, provider string, updatedBefore time.Time, limit int) ([]models.Payment, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("external_payment_id = ?", externalID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts p unless a payment with the same external id exists.
// The stored row is returned in both cases.
func (r *gormRepository) CreatePayment(ctx context.Context, p *models.Payment) (bool, *models.Payment, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_payment_id"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	created := tx.RowsAffected > 0

	stored, err := r.FindPaymentByExternalID(ctx, p.ExternalPaymentID)
	if err != nil {
		return false, nil, fmt.Errorf("re-read payment %s: %w", p.ExternalPaymentID, err)
	}
	return created, stored, nil
}

// CompareAndSwapStatus writes status, metadata and tx hash in one statement,
// only while the row still holds the expected status.
func (r *gormRepository) CompareAndSwapStatus(ctx context.Context, id uint, expected, next Status, metadata map[string]interface{}, txHash string) (bool, error) {
	updates := map[string]interface{}{
		"status":   string(next),
		"metadata": datatypes.JSONMap(metadata),
	}
	if txHash != "" {
		updates["transaction_hash"] = txHash
	}
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) FindOrCreateUserByAddress(ctx context.Context, rawAddress, email string) (*models.User, error) {
	address := strings.ToLower(strings.TrimSpace(rawAddress))
	if address == "" {
		return nil, errors.New("address is required")
	}
	user := &models.User{Address: address, RawAddress: strings.TrimSpace(rawAddress)}
	if email != "" {
		user.Email = &email
	}
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(user).Error; err != nil {
		return nil, err
	}

	var stored models.User
	if err := db.Where("address = ?", address).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) CampaignExists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) IdempotencyExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("event_uuid = ?", key).Count(&count).Error
	return count > 0, err
}

// RecordIdempotency returns false when the key was already recorded.
func (r *gormRepository) RecordIdempotency(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_uuid"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := db.Where("provider = ? AND event_id = ?", event.Provider, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) MarkWebhookReplayed(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"replay_count":     gorm.Expr("replay_count + 1"),
		"last_replayed_at": &now,
	}).Error
}

// LatestWebhookEvent returns the newest stored event for a payment whose event
// type or reported payment status equals eventType. An empty eventType matches
// any event.
func (r *gormRepository) LatestWebhookEvent(ctx context.Context, provider, externalID, eventType string) (*models.PaymentWebhookEvent, error) {
	q := r.db.WithContext(ctx).Where("provider = ? AND external_payment_id = ?", provider, externalID)
	if eventType != "" {
		q = q.Where("event_type = ? OR payment_status = ?", eventType, eventType)
	}
	var ev models.PaymentWebhookEvent
	if err := q.Order("received_at DESC").Order("id DESC").First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) ListStuckPayments(ctx context.Context, provider string, updatedBefore time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND provider = ? AND updated_at < ?", models.PaymentStatusConfirming, provider, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
