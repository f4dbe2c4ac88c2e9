package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

// DefaultSymbols are the stablecoins counted by reconciliation.
var DefaultSymbols = []string{"USDC", "USDT"}

// RetryConfig controls retries of a single explorer request.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// StatusError is a non-2xx explorer response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("block explorer request %s failed with status %d", e.URL, e.StatusCode)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client reads a Blockscout v2 API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      RetryConfig
	// MaxPages bounds pagination of list endpoints.
	MaxPages int
	// Pacing is the pause between two detail lookups in a stream.
	Pacing time.Duration
	// Symbols filters address token transfers used for augmentation.
	Symbols []string

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		Retry:      DefaultRetryConfig(),
		MaxPages:   10,
		Pacing:     100 * time.Millisecond,
		Symbols:    DefaultSymbols,
		logger:     logger.OrNop(log).Named("explorer"),
		sleep:      sleepCtx,
	}
}

// NewClientFromEnv reads BLOCK_EXPLORER_URL, EXPLORER_MAX_PAGES and EXPLORER_PACING.
func NewClientFromEnv(log *zap.Logger) *Client {
	c := NewClient(env.GetEnv("BLOCK_EXPLORER_URL", "https://celo.blockscout.com"), log)
	c.MaxPages = env.GetInt("EXPLORER_MAX_PAGES", c.MaxPages)
	c.Pacing = env.GetDuration("EXPLORER_PACING", c.Pacing)
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) apiURL(path string) string {
	return c.BaseURL + "/api/v2" + path
}

// getJSON fetches u into out, retrying transport errors, 429 and 5xx with
// exponential backoff.
func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return err
			}
		}
		err := c.doGet(ctx, u, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("Explorer request failed, retrying", zap.String("url", u), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("retry limit exceeded after %d attempts: %w", c.Retry.MaxRetries+1, lastErr)
}

func (c *Client) doGet(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return &StatusError{StatusCode: resp.StatusCode, URL: u}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode explorer response: %w", err)
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.Retry.BaseDelay) * math.Pow(c.Retry.Multiplier, float64(attempt))
	if d > float64(c.Retry.MaxDelay) {
		d = float64(c.Retry.MaxDelay)
	}
	d += d * 0.1 * rand.Float64()
	return time.Duration(d)
}

// paginate walks a list endpoint following next_page_params.
func paginate[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var items []T
	query := url.Values{}
	for page := 0; page < c.MaxPages; page++ {
		u := c.apiURL(path)
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var p rawPage[T]
		if err := c.getJSON(ctx, u, &p); err != nil {
			return items, err
		}
		items = append(items, p.Items...)

		next, ok := nextQuery(p.NextPageParams)
		if !ok {
			return items, nil
		}
		query = next
	}
	c.logger.Warn("Explorer pagination truncated", zap.String("path", path), zap.Int("max_pages", c.MaxPages))
	return items, nil
}

func nextQuery(raw json.RawMessage) (url.Values, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil || len(params) == 0 {
		return nil, false
	}
	q := url.Values{}
	for k, v := range params {
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			q.Set(k, tv)
		case float64:
			q.Set(k, fmt.Sprintf("%.0f", tv))
		default:
			q.Set(k, fmt.Sprint(tv))
		}
	}
	return q, true
}

// ListTransactions returns the address's transactions with inline token transfers.
func (c *Client) ListTransactions(ctx context.Context, address string) ([]Transaction, error) {
	raws, err := paginate[rawTransaction](ctx, c, "/addresses/"+strings.ToLower(address)+"/transactions")
	if err != nil {
		return nil, err
	}
	txs := make([]Transaction, 0, len(raws))
	for _, raw := range raws {
		tx := parseTransaction(raw)
		for _, t := range raw.TokenTransfers {
			tx.TokenTransfers = append(tx.TokenTransfers, parseTransfer(t))
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// AddressTransfer is a token transfer with its transaction hash.
type AddressTransfer struct {
	TokenTransfer
	TransactionHash string `json:"transactionHash"`
}

// AddressTokenTransfers returns token transfers touching the address.
func (c *Client) AddressTokenTransfers(ctx context.Context, address string) ([]AddressTransfer, error) {
	raws, err := paginate[rawTransfer](ctx, c, "/addresses/"+strings.ToLower(address)+"/token-transfers")
	if err != nil {
		return nil, err
	}
	out := make([]AddressTransfer, 0, len(raws))
	for _, raw := range raws {
		out = append(out, AddressTransfer{TokenTransfer: parseTransfer(raw), TransactionHash: raw.hash()})
	}
	return out, nil
}

// TransactionDetails loads one transaction. Token transfers merge the dedicated
// endpoint with the inline list, deduplicated; decoded Transfer logs are used
// only when the transaction carries no inline list.
func (c *Client) TransactionDetails(ctx context.Context, hash string) (*Transaction, error) {
	var raw rawTransaction
	if err := c.getJSON(ctx, c.apiURL("/transactions/"+hash), &raw); err != nil {
		return nil, err
	}

	var set transferSet
	var dedicated rawPage[rawTransfer]
	if err := c.getJSON(ctx, c.apiURL("/transactions/"+hash+"/token-transfers"), &dedicated); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("Token transfer lookup failed", zap.String("hash", hash), zap.Error(err))
	}
	for _, t := range dedicated.Items {
		set.add(parseTransfer(t))
	}

	if len(raw.TokenTransfers) > 0 {
		for _, t := range raw.TokenTransfers {
			set.add(parseTransfer(t))
		}
	} else {
		for _, t := range transfersFromLogs(raw.Logs) {
			set.add(t)
		}
	}

	tx := parseTransaction(raw)
	if tx.Hash == "" {
		tx.Hash = hash
	}
	tx.TokenTransfers = set.items
	if len(tx.TokenTransfers) > 0 && tx.Type == TypeNative {
		tx.Type = TypeERC20
	}
	return &tx, nil
}

// Candidates lists the address's transactions and appends hashes that only
// appear in its stablecoin token transfers (for example relayer payments).
// Augmentation failures are logged and ignored.
func (c *Client) Candidates(ctx context.Context, address string) ([]Transaction, error) {
	txs, err := c.ListTransactions(ctx, address)
	if err != nil {
		return nil, err
	}

	transfers, err := c.AddressTokenTransfers(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("Failed to augment transactions with token transfers", zap.String("address", address), zap.Error(err))
		return txs, nil
	}

	seen := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		seen[strings.ToLower(tx.Hash)] = struct{}{}
	}
	for _, t := range transfers {
		if !c.symbolAllowed(t.TokenSymbol) || t.TransactionHash == "" {
			continue
		}
		key := strings.ToLower(t.TransactionHash)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		txs = append(txs, Transaction{Hash: t.TransactionHash})
	}
	return txs, nil
}

func (c *Client) symbolAllowed(symbol string) bool {
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
