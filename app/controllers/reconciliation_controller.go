package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/explorer"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/reconciliation"
)

const reconciliationTimeout = 2 * time.Minute

// ReconciliationReader is implemented by reconciliation.Service.
type ReconciliationReader interface {
	Reconcile(ctx context.Context, campaignID uint, refresh bool) (*reconciliation.Report, error)
	Transactions(ctx context.Context, campaignID uint, refresh bool) ([]explorer.Transaction, error)
	StreamReconcile(ctx context.Context, campaignID uint, refresh bool) (<-chan reconciliation.Message, error)
	StreamTransactions(ctx context.Context, campaignID uint, refresh bool) (<-chan reconciliation.Message, error)
}

// ReconciliationController serves the admin reconciliation views.
type ReconciliationController struct {
	svc    ReconciliationReader
	logger *zap.Logger
}

func NewReconciliationController(svc ReconciliationReader, log *zap.Logger) *ReconciliationController {
	return &ReconciliationController{svc: svc, logger: logger.OrNop(log).Named("reconciliation")}
}

// HandleReconciliation handles GET /api/v1/admin/campaigns/:campaignId/reconciliation[?stream=true].
func (rc *ReconciliationController) HandleReconciliation(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "campaignId")
	if !ok {
		return badRequest(c, "Invalid campaign ID")
	}
	refresh := c.QueryBool("refresh")

	if c.QueryBool("stream") {
		ctx, cancel := context.WithCancel(context.Background())
		msgs, err := rc.svc.StreamReconcile(ctx, id, refresh)
		if err != nil {
			cancel()
			return rc.loadError(c, id, err)
		}
		return streamSSE(c, msgs, cancel, rc.logger)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), reconciliationTimeout)
	defer cancel()
	report, err := rc.svc.Reconcile(ctx, id, refresh)
	if err != nil {
		return rc.loadError(c, id, err)
	}
	return c.JSON(report)
}

// HandleOnChainTransactions handles GET /api/v1/admin/campaigns/:campaignId/on-chain-transactions[?stream=true].
func (rc *ReconciliationController) HandleOnChainTransactions(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "campaignId")
	if !ok {
		return badRequest(c, "Invalid campaign ID")
	}
	refresh := c.QueryBool("refresh")

	if c.QueryBool("stream") {
		ctx, cancel := context.WithCancel(context.Background())
		msgs, err := rc.svc.StreamTransactions(ctx, id, refresh)
		if err != nil {
			cancel()
			return rc.loadError(c, id, err)
		}
		return streamSSE(c, msgs, cancel, rc.logger)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), reconciliationTimeout)
	defer cancel()
	txs, err := rc.svc.Transactions(ctx, id, refresh)
	if err != nil {
		return rc.loadError(c, id, err)
	}
	return c.JSON(fiber.Map{"transactions": txs, "count": len(txs)})
}

func (rc *ReconciliationController) loadError(c *fiber.Ctx, id uint, err error) error {
	if errors.Is(err, reconciliation.ErrCampaignNotFound) {
		return notFound(c, "Campaign not found")
	}
	rc.logger.Error("Reconciliation failed", zap.Uint("campaign_id", id), zap.Error(err))
	return internalError(c, "Failed to load on-chain data")
}
