package models

import "time"

// PaymentWebhookEvent stores processor webhook payloads with deduplication
// metadata so deliveries can be audited and replayed.
type PaymentWebhookEvent struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_provider_event,unique,priority:1" json:"provider"`
	EventID           string     `gorm:"type:varchar(191);not null;index:ux_payment_webhook_events_provider_event,unique,priority:2" json:"event_id"`
	ExternalPaymentID string     `gorm:"type:varchar(191);not null;index" json:"external_payment_id"`
	EventType         string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PaymentStatus     string     `gorm:"type:varchar(100)" json:"payment_status"`
	PayloadJSON       string     `gorm:"type:longtext;not null" json:"payload_json"`
	ReceivedAt        time.Time  `gorm:"not null;index" json:"received_at"`
	ProcessedAt       *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError   string     `gorm:"type:text" json:"processing_error"`
	ReplayCount       int        `gorm:"not null;default:0" json:"replay_count"`
	LastReplayedAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_replayed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
