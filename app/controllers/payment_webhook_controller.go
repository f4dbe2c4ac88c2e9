package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/metrics"
)

// Payment-not-found answers. Processors retry non-2xx responses.
const (
	NotFoundModeAcknowledge = "acknowledge"
	NotFoundModeConflict    = "conflict"
)

const webhookTimeout = 15 * time.Second

// WebhookProcessor applies a normalized delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, ev billing.Event, idempotencyKey string) (*billing.Outcome, error)
}

// WebhookConfig holds the provider secrets and the not-found behaviour.
type WebhookConfig struct {
	Daimo            billing.VerifierConfig
	Crowdsplit       billing.VerifierConfig
	CrowdsplitSecret string
	NotFoundMode     string
}

func WebhookConfigFromEnv() WebhookConfig {
	tolerance := env.GetDuration("WEBHOOK_SIGNATURE_TOLERANCE", 5*time.Minute)
	crowdsplitSecret := env.GetEnv("CROWDSPLIT_WEBHOOK_SECRET", "")
	return WebhookConfig{
		Daimo: billing.VerifierConfig{
			SharedSecret: env.GetEnv("DAIMO_PAY_WEBHOOK_SECRET", ""),
			HMACSecret:   env.GetEnv("DAIMO_PAY_HMAC_SECRET", ""),
			Tolerance:    tolerance,
		},
		Crowdsplit: billing.VerifierConfig{
			SharedSecret: crowdsplitSecret,
			HMACSecret:   crowdsplitSecret,
			Tolerance:    tolerance,
		},
		CrowdsplitSecret: crowdsplitSecret,
		NotFoundMode:     env.GetEnv("WEBHOOK_NOT_FOUND_MODE", NotFoundModeAcknowledge),
	}
}

// PaymentWebhookController receives processor webhooks.
type PaymentWebhookController struct {
	processor        WebhookProcessor
	daimo            *billing.Verifier
	crowdsplit       *billing.Verifier
	crowdsplitSecret string
	notFoundMode     string
	logger           *zap.Logger
}

func NewPaymentWebhookController(processor WebhookProcessor, cfg WebhookConfig, log *zap.Logger) *PaymentWebhookController {
	return &PaymentWebhookController{
		processor:        processor,
		daimo:            billing.NewVerifier(cfg.Daimo),
		crowdsplit:       billing.NewVerifier(cfg.Crowdsplit),
		crowdsplitSecret: cfg.CrowdsplitSecret,
		notFoundMode:     cfg.NotFoundMode,
		logger:           logger.OrNop(log).Named("webhooks"),
	}
}

// HandleDaimoPay handles POST /api/webhooks/daimo-pay.
func (wc *PaymentWebhookController) HandleDaimoPay(c *fiber.Ctx) error {
	const provider = models.PaymentProviderDaimo
	rawBody := append([]byte(nil), c.BodyRaw()...)

	if res := wc.daimo.Verify(headerGetter(c), rawBody); !res.Authorized {
		return wc.unauthorized(c, provider, res.Detail)
	}

	payload, err := billing.ParseDaimoPayload(rawBody)
	if err != nil {
		return wc.payloadError(c, provider, err)
	}
	return wc.process(c, provider, payload.ToEvent(rawBody))
}

// HandleCrowdsplit handles POST /api/webhooks/crowdsplit. Besides headers, the
// secret may be embedded in the body.
func (wc *PaymentWebhookController) HandleCrowdsplit(c *fiber.Ctx) error {
	const provider = models.PaymentProviderCrowdsplit
	rawBody := append([]byte(nil), c.BodyRaw()...)

	if res := wc.crowdsplit.Verify(headerGetter(c), rawBody); !res.Authorized {
		var body struct {
			Secret string `json:"secret"`
		}
		_ = json.Unmarshal(rawBody, &body)
		if !billing.VerifyPayloadSecret(body.Secret, wc.crowdsplitSecret) {
			return wc.unauthorized(c, provider, res.Detail)
		}
	}

	payload, err := billing.ParseCrowdsplitPayload(rawBody)
	if err != nil {
		return wc.payloadError(c, provider, err)
	}
	if !payload.HandlesPayments() {
		metrics.IncWebhook(provider, string(billing.OutcomeIgnoredEventType))
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"acknowledged": true,
			"message":      "Event type ignored",
			"eventType":    payload.EventType(),
		})
	}

	ev, err := payload.ToEvent(rawBody)
	if err != nil {
		return wc.payloadError(c, provider, err)
	}
	return wc.process(c, provider, ev)
}

func (wc *PaymentWebhookController) unauthorized(c *fiber.Ctx, provider, detail string) error {
	metrics.IncWebhook(provider, "unauthorized")
	wc.logger.Warn("Webhook authentication failed",
		zap.String("provider", provider),
		zap.String("detail", detail),
		zap.String("ip", c.IP()))
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook credentials"})
}

// payloadError acknowledges retry-shaped bodies and rejects invalid ones.
func (wc *PaymentWebhookController) payloadError(c *fiber.Ctx, provider string, err error) error {
	var malformed *billing.MalformedPayloadError
	if errors.As(err, &malformed) {
		metrics.IncWebhook(provider, "malformed")
		msg := "Parse error - possible retry"
		if malformed.Empty {
			msg = "Empty body - possible retry"
		}
		wc.logger.Info("Malformed webhook body acknowledged", zap.String("provider", provider), zap.Error(err))
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"acknowledged": true, "message": msg})
	}

	metrics.IncWebhook(provider, "invalid")
	if billing.IsParameterError(err) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
	}
	wc.logger.Error("Unexpected webhook decode error", zap.String("provider", provider), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
}

func (wc *PaymentWebhookController) process(c *fiber.Ctx, provider string, ev billing.Event) error {
	key := c.Get("Idempotency-Key")

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	out, err := wc.processor.Process(ctx, ev, key)
	if err != nil {
		if billing.IsParameterError(err) {
			metrics.IncWebhook(provider, "invalid")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
		}
		metrics.IncWebhook(provider, "error")
		wc.logger.Error("Webhook processing failed",
			zap.String("provider", provider),
			zap.String("external_payment_id", ev.ExternalPaymentID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}
	metrics.IncWebhook(provider, string(out.Kind))

	switch out.Kind {
	case billing.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"acknowledged": true, "message": out.Message, "idempotencyKey": key})
	case billing.OutcomeTestEvent:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"acknowledged": true, "message": out.Message})
	case billing.OutcomePaymentNotFound:
		return wc.paymentNotFound(c, ev, out)
	}

	body := fiber.Map{
		"acknowledged":      true,
		"paymentId":         out.PaymentID,
		"externalPaymentId": out.ExternalPaymentID,
		"eventType":         out.EventType,
		"status":            out.Status,
		"previousStatus":    out.PreviousStatus,
	}
	if out.Message != "" {
		body["message"] = out.Message
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func (wc *PaymentWebhookController) paymentNotFound(c *fiber.Ctx, ev billing.Event, out *billing.Outcome) error {
	if wc.notFoundMode != NotFoundModeConflict {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"acknowledged":      true,
			"shouldRetry":       true,
			"message":           out.Message,
			"externalPaymentId": ev.ExternalPaymentID,
		})
	}

	retryAfter := "3"
	if ev.Type == billing.DaimoEventPaymentStarted {
		retryAfter = "2"
	}
	c.Set(fiber.HeaderRetryAfter, retryAfter)
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"error":             "payment_not_found",
		"message":           out.Message,
		"shouldRetry":       true,
		"externalPaymentId": ev.ExternalPaymentID,
	})
}

func headerGetter(c *fiber.Ctx) billing.HeaderGetter {
	return func(key string) string { return c.Get(key) }
}
