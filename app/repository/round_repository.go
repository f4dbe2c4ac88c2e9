package repository

import (
	"context"
	"time"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type roundRepository struct {
	db *gorm.DB
}

func NewRoundRepository(db *gorm.DB) RoundRepository {
	return &roundRepository{db: db}
}

// ActiveApprovedParticipations returns approved participations of the campaign
// whose round window contains at (inclusive).
func (r *roundRepository) ActiveApprovedParticipations(ctx context.Context, campaignID uint, at time.Time) ([]models.RoundCampaign, error) {
	var rcs []models.RoundCampaign
	err := r.db.WithContext(ctx).
		Joins("Round").
		Where("round_campaigns.campaign_id = ? AND round_campaigns.status = ?", campaignID, models.RoundCampaignStatusApproved).
		Where("`Round`.`start_time` <= ? AND `Round`.`end_time` >= ?", at, at).
		Find(&rcs).Error
	return rcs, err
}

func (r *roundRepository) UserHumanityScore(ctx context.Context, userID uint) (int, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("id", "humanity_score").First(&user, userID).Error; err != nil {
		return 0, err
	}
	return user.HumanityScore, nil
}

func (r *roundRepository) CreateContribution(ctx context.Context, c *models.RoundContribution) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}, {Name: "round_id"}},
		DoNothing: true,
	}).Create(c)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
