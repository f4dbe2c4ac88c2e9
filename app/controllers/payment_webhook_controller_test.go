package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/billing"
)

const (
	daimoSecret      = "daimo-secret"
	crowdsplitSecret = "cs-secret"
)

const daimoCompleted = `{
  "type": "payment_completed",
  "paymentId": "pay_1",
  "isTestEvent": false,
  "payment": {"id": "pay_1", "status": "payment_completed", "destination": {"txHash": "0xabc"}}
}`

type stubProcessor struct {
	out    *billing.Outcome
	err    error
	events []billing.Event
	keys   []string
}

func (s *stubProcessor) Process(_ context.Context, ev billing.Event, key string) (*billing.Outcome, error) {
	s.events = append(s.events, ev)
	s.keys = append(s.keys, key)
	return s.out, s.err
}

func newWebhookApp(p *stubProcessor, mode string) *fiber.App {
	wc := NewPaymentWebhookController(p, WebhookConfig{
		Daimo:            billing.VerifierConfig{SharedSecret: daimoSecret},
		Crowdsplit:       billing.VerifierConfig{SharedSecret: crowdsplitSecret, HMACSecret: crowdsplitSecret},
		CrowdsplitSecret: crowdsplitSecret,
		NotFoundMode:     mode,
	}, nil)
	app := fiber.New()
	app.Post("/daimo", wc.HandleDaimoPay)
	app.Post("/crowdsplit", wc.HandleCrowdsplit)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func daimoAuth() map[string]string {
	return map[string]string{"Authorization": "Basic " + daimoSecret}
}

func TestDaimoWebhookApplied(t *testing.T) {
	p := &stubProcessor{out: &billing.Outcome{
		Kind:              billing.OutcomeApplied,
		PaymentID:         9,
		ExternalPaymentID: "pay_1",
		EventType:         "payment_completed",
		PreviousStatus:    billing.StatusConfirming,
		Status:            billing.StatusConfirmed,
	}}
	headers := daimoAuth()
	headers["Idempotency-Key"] = "idem-1"

	resp, body := post(t, newWebhookApp(p, NotFoundModeAcknowledge), "/daimo", daimoCompleted, headers)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["acknowledged"])
	assert.Equal(t, float64(9), body["paymentId"])
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "confirming", body["previousStatus"])

	require.Len(t, p.events, 1)
	assert.Equal(t, "pay_1", p.events[0].ExternalPaymentID)
	assert.Equal(t, []string{"idem-1"}, p.keys)
}

func TestDaimoWebhookRejectsBadCredentials(t *testing.T) {
	p := &stubProcessor{}
	resp, body := post(t, newWebhookApp(p, ""), "/daimo", daimoCompleted, map[string]string{"Authorization": "Basic wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Empty(t, p.events)
}

func TestWebhookAuthFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	wc := NewPaymentWebhookController(&stubProcessor{}, WebhookConfig{
		Daimo: billing.VerifierConfig{SharedSecret: daimoSecret},
	}, zap.New(core))
	app := fiber.New()
	app.Post("/daimo", wc.HandleDaimoPay)

	resp, _ := post(t, app, "/daimo", daimoCompleted, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	entries := logs.FilterMessage("Webhook authentication failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "daimo", entries[0].ContextMap()["provider"])
}

func TestDaimoWebhookBodyErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"empty body is acknowledged", "", fiber.StatusOK, "Empty body - possible retry"},
		{"broken json is acknowledged", "{oops", fiber.StatusOK, "Parse error - possible retry"},
		{"unknown type is rejected", `{"type":"payment_exploded","paymentId":"p","payment":{"id":"p"}}`, fiber.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProcessor{}
			resp, body := post(t, newWebhookApp(p, ""), "/daimo", tt.body, daimoAuth())
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			} else {
				assert.Equal(t, "invalid_payload", body["error"])
			}
			assert.Empty(t, p.events)
		})
	}
}

func TestDaimoWebhookPaymentNotFound(t *testing.T) {
	out := &billing.Outcome{Kind: billing.OutcomePaymentNotFound, Message: "Payment not found"}

	resp, body := post(t, newWebhookApp(&stubProcessor{out: out}, NotFoundModeAcknowledge), "/daimo", daimoCompleted, daimoAuth())
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["shouldRetry"])

	resp, body = post(t, newWebhookApp(&stubProcessor{out: out}, NotFoundModeConflict), "/daimo", daimoCompleted, daimoAuth())
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("Retry-After"))
	assert.Equal(t, "payment_not_found", body["error"])
}

func TestDaimoWebhookDuplicateAndTest(t *testing.T) {
	p := &stubProcessor{out: &billing.Outcome{Kind: billing.OutcomeDuplicate, Message: "Event already processed"}}
	resp, body := post(t, newWebhookApp(p, ""), "/daimo", daimoCompleted, daimoAuth())
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Event already processed", body["message"])

	p = &stubProcessor{out: &billing.Outcome{Kind: billing.OutcomeTestEvent, Message: "Test event received"}}
	resp, body = post(t, newWebhookApp(p, ""), "/daimo", daimoCompleted, daimoAuth())
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["acknowledged"])
}

func TestDaimoWebhookProcessingError(t *testing.T) {
	p := &stubProcessor{err: errors.New("db down")}
	resp, body := post(t, newWebhookApp(p, ""), "/daimo", daimoCompleted, daimoAuth())
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "processing_failed", body["error"])

	p = &stubProcessor{err: billing.NewParameterError("Missing campaignId")}
	resp, _ = post(t, newWebhookApp(p, ""), "/daimo", daimoCompleted, daimoAuth())
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCrowdsplitWebhook(t *testing.T) {
	payload := `{"event":"transaction.updated","secret":"` + crowdsplitSecret + `","data":{"id":"tx_1","status":"COMPLETED"}}`
	p := &stubProcessor{out: &billing.Outcome{Kind: billing.OutcomeApplied, ExternalPaymentID: "tx_1", Status: billing.StatusConfirmed}}

	resp, body := post(t, newWebhookApp(p, ""), "/crowdsplit", payload, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "tx_1", body["externalPaymentId"])
	require.Len(t, p.events, 1)
	assert.Equal(t, billing.StatusConfirmed, p.events[0].Status)
}

func TestCrowdsplitWebhookAuth(t *testing.T) {
	payload := `{"event":"transaction.updated","data":{"id":"tx_1","status":"COMPLETED"}}`

	resp, _ := post(t, newWebhookApp(&stubProcessor{}, ""), "/crowdsplit", payload, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	p := &stubProcessor{out: &billing.Outcome{Kind: billing.OutcomeUnchanged}}
	resp, _ = post(t, newWebhookApp(p, ""), "/crowdsplit", payload, map[string]string{"x-webhook-secret": crowdsplitSecret})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestCrowdsplitIgnoresOtherEvents(t *testing.T) {
	p := &stubProcessor{}
	payload := `{"event":"kyc.status_updated","secret":"` + crowdsplitSecret + `","data":{"status":"APPROVED"}}`
	resp, body := post(t, newWebhookApp(p, ""), "/crowdsplit", payload, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Event type ignored", body["message"])
	assert.Empty(t, p.events)
}
