package models

import (
	"time"

	"gorm.io/datatypes"
)

const NotificationTypeCampaignPayment = "CampaignPayment"

type Notification struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ReceiverID uint              `gorm:"index" json:"receiver_id"`
	CreatorID  uint              `gorm:"index" json:"creator_id"`
	Type       string            `gorm:"type:varchar(50)" json:"type" validate:"oneof=CampaignPayment system"`
	Data       datatypes.JSONMap `gorm:"type:json" json:"data"`
	EventUUID  *string           `gorm:"type:varchar(191);uniqueIndex:ux_notifications_event_uuid" json:"event_uuid,omitempty"`
	IsRead     bool              `gorm:"default:false" json:"is_read"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
