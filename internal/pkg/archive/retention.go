package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

const (
	DefaultRetentionDays = 90
	DefaultBatchSize     = 500
)

// EventStore is the part of the webhook event repository used for pruning.
type EventStore interface {
	ListReceivedBefore(ctx context.Context, before time.Time, afterID uint, limit int) ([]models.PaymentWebhookEvent, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
	DeleteIdempotencyBefore(ctx context.Context, before time.Time) (int64, error)
}

// PruneResult summarises one retention run.
type PruneResult struct {
	Cutoff             time.Time `json:"cutoff"`
	EventsArchived     int       `json:"eventsArchived"`
	EventsDeleted      int64     `json:"eventsDeleted"`
	IdempotencyDeleted int64     `json:"idempotencyDeleted"`
	ArchiveObjects     []string  `json:"archiveObjects,omitempty"`
}

// Retention deletes webhook events and idempotency keys older than the
// retention window. With an uploader, each batch of events is archived before
// it is deleted; a failed upload stops the run and keeps the batch.
type Retention struct {
	store     EventStore
	uploader  Uploader
	config    *Config
	days      int
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewRetention(store EventStore, uploader Uploader, cfg *Config, days int, log *zap.Logger) *Retention {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	if cfg == nil {
		cfg = &Config{Prefix: "webhook-events"}
	}
	return &Retention{
		store:     store,
		uploader:  uploader,
		config:    cfg,
		days:      days,
		batchSize: DefaultBatchSize,
		logger:    logger.OrNop(log).Named("retention"),
		now:       time.Now,
	}
}

// RetentionDaysFromEnv reads WEBHOOK_RETENTION_DAYS.
func RetentionDaysFromEnv() int {
	return env.GetInt("WEBHOOK_RETENTION_DAYS", DefaultRetentionDays)
}

func (r *Retention) Run(ctx context.Context) error {
	_, err := r.Prune(ctx)
	return err
}

func (r *Retention) Prune(ctx context.Context) (*PruneResult, error) {
	now := r.now().UTC()
	res := &PruneResult{Cutoff: now.AddDate(0, 0, -r.days)}

	var afterID uint
	for {
		events, err := r.store.ListReceivedBefore(ctx, res.Cutoff, afterID, r.batchSize)
		if err != nil {
			return res, fmt.Errorf("failed to list webhook events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		ids := make([]uint, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		afterID = ids[len(ids)-1]

		if r.uploader != nil {
			body, err := encodeLines(events)
			if err != nil {
				return res, err
			}
			key := r.config.ObjectKey(now, ids[0], afterID)
			if err := r.uploader.Upload(ctx, key, body); err != nil {
				return res, err
			}
			res.EventsArchived += len(events)
			res.ArchiveObjects = append(res.ArchiveObjects, key)
		}

		n, err := r.store.DeleteByIDs(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("failed to delete webhook events: %w", err)
		}
		res.EventsDeleted += n

		if len(events) < r.batchSize {
			break
		}
	}

	n, err := r.store.DeleteIdempotencyBefore(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to delete idempotency records: %w", err)
	}
	res.IdempotencyDeleted = n

	r.logger.Info("Retention run completed",
		zap.Time("cutoff", res.Cutoff),
		zap.Int("archived", res.EventsArchived),
		zap.Int64("events_deleted", res.EventsDeleted),
		zap.Int64("idempotency_deleted", res.IdempotencyDeleted))
	return res, nil
}

// encodeLines renders one JSON object per line.
func encodeLines(events []models.PaymentWebhookEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, fmt.Errorf("failed to encode webhook event %d: %w", events[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}
