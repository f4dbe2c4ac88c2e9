package reconciliation

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/explorer"
)

// Comparison statuses.
const (
	StatusMatched           = "matched"
	StatusBlockchainShort   = "blockchain_short"
	StatusBlockchainSurplus = "blockchain_surplus"
)

// amountPlaces is the number of fractional digits rendered in snapshots.
const amountPlaces = 6

const stablecoinDecimals = 6

var DefaultTolerance = decimal.New(1, -2)

// Snapshot compares the ledger with the treasury's on-chain history.
type Snapshot struct {
	TotalDatabaseAmount     decimal.Decimal
	TotalBlockchainAmount   decimal.Decimal
	TotalWithdrawnAmount    decimal.Decimal
	Difference              decimal.Decimal
	Status                  string
	IsBlockchainDataLoading bool
}

// MarshalJSON renders each amount independently rounded to six places.
// Status is decided on full precision, so the rendered totals may not subtract
// exactly to the rendered difference when inputs carry more than six places.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TotalDatabaseAmount     string `json:"totalDatabaseAmount"`
		TotalBlockchainAmount   string `json:"totalBlockchainAmount"`
		TotalWithdrawnAmount    string `json:"totalWithdrawnAmount"`
		Difference              string `json:"difference"`
		Status                  string `json:"status"`
		IsBlockchainDataLoading bool   `json:"isBlockchainDataLoading"`
	}{
		TotalDatabaseAmount:     s.TotalDatabaseAmount.StringFixed(amountPlaces),
		TotalBlockchainAmount:   s.TotalBlockchainAmount.StringFixed(amountPlaces),
		TotalWithdrawnAmount:    s.TotalWithdrawnAmount.StringFixed(amountPlaces),
		Difference:              s.Difference.StringFixed(amountPlaces),
		Status:                  s.Status,
		IsBlockchainDataLoading: s.IsBlockchainDataLoading,
	})
}

// Engine turns payments and explorer transactions into a Snapshot.
type Engine struct {
	// Tolerance is inclusive: |difference| <= Tolerance is matched.
	Tolerance decimal.Decimal
	Symbols   []string
}

func NewEngine(tolerance decimal.Decimal) *Engine {
	return &Engine{
		Tolerance: tolerance.Abs(),
		Symbols:   append(append([]string{}, explorer.DefaultSymbols...), explorer.FallbackSymbol),
	}
}

// NewEngineFromEnv reads RECONCILIATION_TOLERANCE, falling back to 0.01.
func NewEngineFromEnv() *Engine {
	tol, err := ParseTolerance(env.GetEnv("RECONCILIATION_TOLERANCE", DefaultTolerance.String()))
	if err != nil {
		tol = DefaultTolerance
	}
	return NewEngine(tol)
}

// DatabaseTotal sums amount plus tip over confirmed payments.
func (e *Engine) DatabaseTotal(payments []models.Payment) decimal.Decimal {
	total := decimal.Zero
	for i := range payments {
		if payments[i].Status != models.PaymentStatusConfirmed {
			continue
		}
		total = total.Add(payments[i].TotalAmount())
	}
	return total
}

// Classify returns what tx pledged into and withdrew from the treasury.
// Failed transactions and unrecognised tokens count for nothing.
func (e *Engine) Classify(tx explorer.Transaction, treasury string) (pledged, withdrawn decimal.Decimal) {
	pledged, withdrawn = decimal.Zero, decimal.Zero
	if tx.Status != explorer.StatusSuccess || !common.IsHexAddress(treasury) {
		return
	}
	treasuryAddr := common.HexToAddress(treasury)

	for _, t := range tx.TokenTransfers {
		if !e.recognised(t.TokenSymbol) {
			continue
		}
		amount, ok := transferAmount(t)
		if !ok {
			continue
		}
		switch {
		case sameAddress(t.To, treasuryAddr):
			pledged = pledged.Add(amount)
		case sameAddress(t.From, treasuryAddr):
			withdrawn = withdrawn.Add(amount)
		}
	}
	return
}

// Compare builds a final snapshot from complete data.
func (e *Engine) Compare(payments []models.Payment, txs []explorer.Transaction, treasury string) Snapshot {
	t := e.NewTally(payments, treasury)
	for i := range txs {
		t.Add(txs[i])
	}
	return t.Snapshot(false)
}

// Status classifies a signed difference (database minus chain).
func (e *Engine) Status(diff decimal.Decimal) string {
	switch {
	case diff.Abs().LessThanOrEqual(e.Tolerance):
		return StatusMatched
	case diff.IsPositive():
		return StatusBlockchainShort
	default:
		return StatusBlockchainSurplus
	}
}

func (e *Engine) recognised(symbol string) bool {
	for _, s := range e.Symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

func sameAddress(s string, addr common.Address) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) == addr
}

// transferAmount converts base units to tokens. Stablecoin transfers without
// token metadata are assumed to use 6 decimals.
func transferAmount(t explorer.TokenTransfer) (decimal.Decimal, bool) {
	raw, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	decimals := t.Decimals
	if decimals <= 0 {
		decimals = stablecoinDecimals
	}
	return raw.Shift(-int32(decimals)), true
}

// Tally accumulates transactions as they stream in. It is not safe for
// concurrent use.
type Tally struct {
	engine    *Engine
	treasury  string
	database  decimal.Decimal
	pledged   decimal.Decimal
	withdrawn decimal.Decimal
	count     int
}

func (e *Engine) NewTally(payments []models.Payment, treasury string) *Tally {
	return &Tally{
		engine:    e,
		treasury:  treasury,
		database:  e.DatabaseTotal(payments),
		pledged:   decimal.Zero,
		withdrawn: decimal.Zero,
	}
}

func (t *Tally) Add(tx explorer.Transaction) {
	p, w := t.engine.Classify(tx, t.treasury)
	t.pledged = t.pledged.Add(p)
	t.withdrawn = t.withdrawn.Add(w)
	t.count++
}

// Count is the number of transactions added so far.
func (t *Tally) Count() int { return t.count }

// Snapshot reports the current totals. loading marks a provisional result.
func (t *Tally) Snapshot(loading bool) Snapshot {
	diff := t.database.Sub(t.pledged)
	return Snapshot{
		TotalDatabaseAmount:     t.database,
		TotalBlockchainAmount:   t.pledged,
		TotalWithdrawnAmount:    t.withdrawn,
		Difference:              diff,
		Status:                  t.engine.Status(diff),
		IsBlockchainDataLoading: loading,
	}
}
