package repository

import (
	"context"
	"time"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// GetByID loads a payment with its campaign and user
func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Preload("Campaign").Preload("User").First(&p, id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) ListConfirmedByCampaign(ctx context.Context, campaignID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("campaign_id = ? AND status = ?", campaignID, models.PaymentStatusConfirmed).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

// ListFailedPledges returns confirmed payments whose pledge failed and is due
// for another attempt, least-tried first.
func (r *paymentRepository) ListFailedPledges(ctx context.Context, maxAttempts int, lastAttemptBefore time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND pledge_execution_status = ?", models.PaymentStatusConfirmed, models.PledgeExecutionFailed).
		Where("pledge_execution_attempts < ?", maxAttempts).
		Where("pledge_execution_last_attempt IS NULL OR pledge_execution_last_attempt < ?", lastAttemptBefore).
		Where("pledge_execution_tx_hash IS NULL").
		Order("pledge_execution_attempts ASC").
		Order("pledge_execution_last_attempt ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) MarkPledgePending(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND pledge_execution_status IN ?", id, []string{models.PledgeExecutionNotStarted, models.PledgeExecutionFailed}).
		Update("pledge_execution_status", models.PledgeExecutionPending).Error
}

func (r *paymentRepository) MarkPledgeFailed(ctx context.Context, id uint, reason string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND pledge_execution_status <> ?", id, models.PledgeExecutionSuccess).
		Updates(map[string]interface{}{
			"pledge_execution_status": models.PledgeExecutionFailed,
			"pledge_execution_error":  reason,
		}).Error
}

func (r *paymentRepository) StartPledgeAttempt(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"pledge_execution_status":       models.PledgeExecutionProcessing,
		"pledge_execution_attempts":     gorm.Expr("pledge_execution_attempts + 1"),
		"pledge_execution_last_attempt": &now,
		"pledge_execution_error":        "",
	}).Error
}

// CompletePledge stores the execution result. metadata must already contain the
// merged payment metadata.
func (r *paymentRepository) CompletePledge(ctx context.Context, id uint, txHash string, metadata map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"pledge_execution_status":  models.PledgeExecutionSuccess,
		"pledge_execution_tx_hash": txHash,
		"pledge_execution_error":   "",
		"metadata":                 datatypes.JSONMap(metadata),
	}).Error
}
