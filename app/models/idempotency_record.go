package models

import "time"

// IdempotencyRecord marks a webhook delivery, keyed by its Idempotency-Key, as applied.
type IdempotencyRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	EventUUID         string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_idempotency_records_event_uuid" json:"event_uuid"`
	Provider          string    `gorm:"type:varchar(20);not null" json:"provider"`
	ExternalPaymentID string    `gorm:"type:varchar(191);index" json:"external_payment_id"`
	EventType         string    `gorm:"type:varchar(100)" json:"event_type"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
