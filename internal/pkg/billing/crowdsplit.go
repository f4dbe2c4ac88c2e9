package billing

import (
	"encoding/json"
	"strings"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
)

const (
	CrowdsplitEventTransactionUpdated = "transaction.updated"
	CrowdsplitEventKYCStatusUpdated   = "kyc.status_updated"
)

type CrowdsplitEventData struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Status    string                 `json:"status"`
	SubStatus string                 `json:"subStatus"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// CrowdsplitWebhookPayload accepts both the nested ({event, data:{...}}) and the
// flat delivery format.
type CrowdsplitWebhookPayload struct {
	Event  string               `json:"event"`
	Type   string               `json:"type"`
	Secret string               `json:"secret"`
	Data   *CrowdsplitEventData `json:"data"`

	CrowdsplitEventData
}

func ParseCrowdsplitPayload(raw []byte) (*CrowdsplitWebhookPayload, error) {
	if err := checkJSONObject(raw); err != nil {
		return nil, err
	}
	var p CrowdsplitWebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, NewParameterError("invalid Crowdsplit payload: %v", err)
	}
	if p.EventType() == "" {
		return nil, &ParameterError{Field: "event", Message: "missing event type"}
	}
	return &p, nil
}

// EventType resolves data.type, then event, then type.
func (p *CrowdsplitWebhookPayload) EventType() string {
	if p.Data != nil && p.Data.Type != "" {
		return p.Data.Type
	}
	if p.Event != "" {
		return p.Event
	}
	return p.Type
}

func (p *CrowdsplitWebhookPayload) eventData() CrowdsplitEventData {
	if p.Data != nil {
		return *p.Data
	}
	return p.CrowdsplitEventData
}

// HandlesPayments reports whether the event carries a payment status.
func (p *CrowdsplitWebhookPayload) HandlesPayments() bool {
	return p.EventType() == CrowdsplitEventTransactionUpdated
}

// ToEvent normalizes a transaction.updated delivery.
func (p *CrowdsplitWebhookPayload) ToEvent(raw []byte) (Event, error) {
	data := p.eventData()
	id := strings.TrimSpace(data.ID)
	if id == "" {
		return Event{}, &ParameterError{Field: "data.id", Message: "Missing transaction ID in payment event"}
	}

	meta := map[string]interface{}{
		"paymentProcessor": models.PaymentProviderCrowdsplit,
	}
	putString(meta, "lastWebhookStatus", data.Status)
	putString(meta, "lastWebhookSubStatus", data.SubStatus)
	if len(data.Metadata) > 0 {
		meta["webhookMetadata"] = data.Metadata
	}

	return Event{
		Provider:          models.PaymentProviderCrowdsplit,
		Type:              p.EventType(),
		ExternalPaymentID: id,
		ProviderStatus:    data.Status,
		Status:            MapCrowdsplitStatus(data.Status),
		Metadata:          meta,
		RawPayload:        raw,
	}, nil
}
