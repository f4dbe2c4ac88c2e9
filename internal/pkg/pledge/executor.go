package pledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
)

// ErrExecutorDisabled is returned when no signer service is configured.
var ErrExecutorDisabled = errors.New("pledge executor is not configured (PLEDGE_EXECUTOR_URL)")

// Request describes one on-chain pledge. Amounts are decimal token units.
type Request struct {
	PaymentID       uint            `json:"paymentId"`
	PledgeID        string          `json:"pledgeId"`
	TreasuryAddress string          `json:"treasuryAddress"`
	BackerAddress   string          `json:"backerAddress"`
	PledgeAmount    decimal.Decimal `json:"pledgeAmount"`
	TipAmount       decimal.Decimal `json:"tipAmount"`
	Token           string          `json:"token"`
}

// Result is what the signer reports back after the transaction was mined.
type Result struct {
	TxHash      string `json:"transactionHash"`
	PledgeID    string `json:"pledgeId"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Executor submits pledges to the treasury contract.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

type disabledExecutor struct{}

func (disabledExecutor) Execute(context.Context, Request) (*Result, error) {
	return nil, ErrExecutorDisabled
}

// HTTPExecutor posts pledge requests to an external signer service which owns
// the admin key and talks to the chain.
type HTTPExecutor struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

// NewExecutorFromEnv returns an HTTPExecutor when PLEDGE_EXECUTOR_URL is set,
// otherwise an executor that always fails with ErrExecutorDisabled.
func NewExecutorFromEnv() Executor {
	url := strings.TrimSpace(env.GetEnv("PLEDGE_EXECUTOR_URL", ""))
	if url == "" {
		return disabledExecutor{}
	}
	return &HTTPExecutor{
		URL:   url,
		Token: env.GetEnv("PLEDGE_EXECUTOR_TOKEN", ""),
		HTTPClient: &http.Client{
			Timeout: env.GetDuration("PLEDGE_EXECUTOR_TIMEOUT", 90*time.Second),
		},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pledge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if e.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.Token)
	}

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pledge executor request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pledge executor failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode pledge executor response: %w", err)
	}
	if strings.TrimSpace(out.TxHash) == "" {
		return nil, errors.New("pledge executor returned empty transactionHash")
	}
	if out.PledgeID == "" {
		out.PledgeID = req.PledgeID
	}
	return &out, nil
}
