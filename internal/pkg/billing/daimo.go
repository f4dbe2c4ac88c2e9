package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/shopspring/decimal"
)

// Daimo Pay event types.
const (
	DaimoEventPaymentStarted   = "payment_started"
	DaimoEventPaymentCompleted = "payment_completed"
	DaimoEventPaymentBounced   = "payment_bounced"
	DaimoEventPaymentRefunded  = "payment_refunded"
)

const defaultCreationToken = "USDT"

var validate = validator.New()

// FlexString accepts a JSON string or number. Daimo sends chain ids and
// timestamps in either form depending on the event version.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

type DaimoPaymentSource struct {
	PayerAddress string     `json:"payerAddress"`
	TxHash       string     `json:"txHash"`
	ChainID      FlexString `json:"chainId"`
	AmountUnits  FlexString `json:"amountUnits"`
	TokenSymbol  string     `json:"tokenSymbol"`
	TokenAddress string     `json:"tokenAddress"`
}

type DaimoPaymentDestination struct {
	DestinationAddress string     `json:"destinationAddress"`
	TxHash             string     `json:"txHash"`
	ChainID            FlexString `json:"chainId"`
	AmountUnits        FlexString `json:"amountUnits"`
	TokenSymbol        string     `json:"tokenSymbol"`
	TokenAddress       string     `json:"tokenAddress"`
	CallData           string     `json:"callData"`
}

type DaimoPaymentDisplay struct {
	Intent       string     `json:"intent"`
	PaymentValue FlexString `json:"paymentValue"`
	Currency     string     `json:"currency"`
}

type DaimoPayment struct {
	ID          string                   `json:"id" validate:"required"`
	Status      string                   `json:"status"`
	CreatedAt   FlexString               `json:"createdAt"`
	Source      *DaimoPaymentSource      `json:"source"`
	Destination *DaimoPaymentDestination `json:"destination"`
	Display     *DaimoPaymentDisplay     `json:"display"`
	Metadata    map[string]interface{}   `json:"metadata"`
}

// DaimoWebhookPayload is the body of a Daimo Pay webhook. Refund fields are only
// sent with payment_refunded.
type DaimoWebhookPayload struct {
	Type        string        `json:"type" validate:"required,oneof=payment_started payment_completed payment_bounced payment_refunded"`
	PaymentID   string        `json:"paymentId" validate:"required"`
	ChainID     FlexString    `json:"chainId"`
	TxHash      string        `json:"txHash"`
	IsTestEvent bool          `json:"isTestEvent"`
	Payment     *DaimoPayment `json:"payment" validate:"required"`

	RefundAddress string     `json:"refundAddress" validate:"required_if=Type payment_refunded"`
	TokenAddress  string     `json:"tokenAddress"`
	AmountUnits   FlexString `json:"amountUnits"`
}

// ParseDaimoPayload decodes and validates a raw Daimo Pay body.
func ParseDaimoPayload(raw []byte) (*DaimoWebhookPayload, error) {
	if err := checkJSONObject(raw); err != nil {
		return nil, err
	}

	var p DaimoWebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, NewParameterError("invalid Daimo Pay payload: %v", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, validationError(err)
	}
	return &p, nil
}

// ToEvent normalizes the payload. Creation data is filled from payment metadata
// on payment_started and checked only when the payment has to be created.
func (p *DaimoWebhookPayload) ToEvent(raw []byte) Event {
	providerStatus := p.Payment.Status
	if providerStatus == "" {
		providerStatus = p.Type
	}
	ev := Event{
		Provider:          models.PaymentProviderDaimo,
		Type:              p.Type,
		ExternalPaymentID: p.PaymentID,
		ProviderStatus:    providerStatus,
		Status:            MapDaimoStatus(providerStatus),
		IsTest:            p.IsTestEvent,
		Initiating:        p.Type == DaimoEventPaymentStarted,
		Metadata:          p.auditMetadata(),
		RawPayload:        raw,
	}
	if p.Payment.Destination != nil {
		ev.TransactionHash = p.Payment.Destination.TxHash
	}
	if ev.Initiating {
		ev.Creation, ev.creationErr = p.creationData()
	}
	return ev
}

func (p *DaimoWebhookPayload) creationData() (*CreationData, error) {
	meta := p.Payment.Metadata
	c := &CreationData{
		Token:       defaultCreationToken,
		IsAnonymous: metaString(meta, "anonymous") == "true",
		Email:       metaString(meta, "email"),
	}
	if p.Payment.Source != nil {
		c.PayerAddress = strings.TrimSpace(p.Payment.Source.PayerAddress)
	}
	if s := metaString(meta, "campaignId"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, &ParameterError{Field: "payment.metadata.campaignId", Message: "must be a positive integer"}
		}
		c.CampaignID = uint(id)
	}
	var err error
	if c.Amount, err = metaDecimal(meta, "baseAmount"); err != nil {
		return nil, err
	}
	if c.TipAmount, err = metaDecimal(meta, "tipAmount"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *DaimoWebhookPayload) auditMetadata() map[string]interface{} {
	m := map[string]interface{}{
		"paymentProcessor": models.PaymentProviderDaimo,
		"daimoPaymentId":   p.PaymentID,
		"daimoEventType":   p.Type,
	}
	if src := p.Payment.Source; src != nil {
		putString(m, "sourceChainId", string(src.ChainID))
		putString(m, "sourceToken", src.TokenSymbol)
		putString(m, "sourceTokenAddress", src.TokenAddress)
		putString(m, "sourceAmount", string(src.AmountUnits))
		putString(m, "sourceTxHash", src.TxHash)
		putString(m, "actualPayerAddress", src.PayerAddress)
	}
	if dst := p.Payment.Destination; dst != nil {
		putString(m, "destinationChainId", string(dst.ChainID))
		putString(m, "destinationToken", dst.TokenSymbol)
		putString(m, "destinationTokenAddress", dst.TokenAddress)
		putString(m, "destinationAmount", string(dst.AmountUnits))
		putString(m, "destinationTxHash", dst.TxHash)
		putString(m, "destinationAddress", dst.DestinationAddress)
	}
	if d := p.Payment.Display; d != nil {
		putString(m, "displayValue", string(d.PaymentValue))
		putString(m, "displayCurrency", d.Currency)
	}
	putString(m, "daimoCreatedAt", string(p.Payment.CreatedAt))

	if p.Type == DaimoEventPaymentRefunded {
		putString(m, "refundAddress", p.RefundAddress)
		putString(m, "refundTokenAddress", p.TokenAddress)
		putString(m, "refundAmountUnits", string(p.AmountUnits))
		putString(m, "refundChainId", string(p.ChainID))
		putString(m, "refundTxHash", p.TxHash)
	}
	return m
}

// checkJSONObject separates retry-shaped bodies (empty, unparsable) from an
// empty object, which is a caller error.
func checkJSONObject(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &MalformedPayloadError{Empty: true}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &MalformedPayloadError{Err: err}
	}
	if len(obj) == 0 {
		return NewParameterError("Empty request payload")
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ParameterError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed %q validation", fe.Tag()),
		}
	}
	return NewParameterError("invalid payload: %v", err)
}

func metaString(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func metaDecimal(m map[string]interface{}, key string) (decimal.Decimal, error) {
	s := metaString(m, key)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParameterError{Field: "payment.metadata." + key, Message: "must be a decimal number"}
	}
	if d.IsNegative() {
		return decimal.Zero, &ParameterError{Field: "payment.metadata." + key, Message: "must not be negative"}
	}
	return d, nil
}

func putString(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}
