package billing

import (
	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/shopspring/decimal"
)

// Status is a payment status as stored on models.Payment.
type Status string

const (
	StatusConfirming Status = models.PaymentStatusConfirming
	StatusConfirmed  Status = models.PaymentStatusConfirmed
	StatusFailed     Status = models.PaymentStatusFailed
)

// CreationData carries what is needed to create a payment from its first event.
type CreationData struct {
	CampaignID   uint
	PayerAddress string
	Amount       decimal.Decimal
	TipAmount    decimal.Decimal
	Token        string
	IsAnonymous  bool
	Email        string
}

// Event is a provider webhook normalized for the processing core.
type Event struct {
	Provider          string
	Type              string
	ExternalPaymentID string
	ProviderStatus    string
	Status            Status
	IsTest            bool
	// Initiating marks the event that may create the payment when absent.
	Initiating      bool
	Creation        *CreationData
	creationErr     error
	Metadata        map[string]interface{}
	TransactionHash string
	RawPayload      []byte
}

// OutcomeKind tells the controller how to answer a processed delivery.
type OutcomeKind string

const (
	OutcomeApplied          OutcomeKind = "applied"
	OutcomeUnchanged        OutcomeKind = "unchanged"
	OutcomeBlocked          OutcomeKind = "blocked"
	OutcomeDuplicate        OutcomeKind = "duplicate"
	OutcomeTestEvent        OutcomeKind = "test_event"
	OutcomePaymentNotFound  OutcomeKind = "payment_not_found"
	OutcomeIgnoredEventType OutcomeKind = "ignored"
)

// Outcome is the result of processing one delivery.
type Outcome struct {
	Kind              OutcomeKind `json:"kind"`
	PaymentID         uint        `json:"paymentId,omitempty"`
	ExternalPaymentID string      `json:"externalPaymentId,omitempty"`
	EventType         string      `json:"eventType,omitempty"`
	PreviousStatus    Status      `json:"previousStatus,omitempty"`
	Status            Status      `json:"status,omitempty"`
	Verdict           Verdict     `json:"verdict,omitempty"`
	Created           bool        `json:"created,omitempty"`
	Dispatched        bool        `json:"dispatched,omitempty"`
	Message           string      `json:"message,omitempty"`
}

// ReplayResult reports the replay of one stored event.
type ReplayResult struct {
	PaymentID         uint     `json:"paymentId"`
	ExternalPaymentID string   `json:"externalPaymentId"`
	EventID           uint     `json:"eventId,omitempty"`
	EventType         string   `json:"eventType,omitempty"`
	Outcome           *Outcome `json:"outcome,omitempty"`
	Error             string   `json:"error,omitempty"`
}
