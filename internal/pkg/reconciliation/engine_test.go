package reconciliation

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/explorer"
)

const (
	treasury = "0x00000000000000000000000000000000000000AA"
	backer   = "0x00000000000000000000000000000000000000bb"
	relayer  = "0x00000000000000000000000000000000000000dd"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func confirmed(amount, tip string) models.Payment {
	return models.Payment{Status: models.PaymentStatusConfirmed, Amount: dec(amount), TipAmount: dec(tip), Token: "USDC"}
}

// usdcTx moves amount (in whole tokens) between two addresses.
func usdcTx(from, to, amount string) explorer.Transaction {
	return explorer.Transaction{
		Status: explorer.StatusSuccess,
		TokenTransfers: []explorer.TokenTransfer{{
			TokenSymbol: "USDC",
			Amount:      dec(amount).Shift(6).String(),
			Decimals:    6,
			From:        from,
			To:          to,
		}},
	}
}

func TestCompareMatched(t *testing.T) {
	e := NewEngine(DefaultTolerance)
	payments := []models.Payment{confirmed("10", "0.5"), confirmed("4.5", "0")}
	txs := []explorer.Transaction{usdcTx(backer, treasury, "10.5"), usdcTx(relayer, treasury, "4.5")}

	snap := e.Compare(payments, txs, treasury)
	assert.True(t, snap.TotalDatabaseAmount.Equal(dec("15")))
	assert.True(t, snap.TotalBlockchainAmount.Equal(dec("15")))
	assert.True(t, snap.Difference.IsZero())
	assert.Equal(t, StatusMatched, snap.Status)
	assert.False(t, snap.IsBlockchainDataLoading)
}

func TestCompareIgnoresWithdrawalsInBlockchainTotal(t *testing.T) {
	e := NewEngine(DefaultTolerance)
	txs := []explorer.Transaction{usdcTx(backer, treasury, "100"), usdcTx(treasury, relayer, "30")}

	snap := e.Compare([]models.Payment{confirmed("100", "0")}, txs, treasury)
	assert.Equal(t, StatusMatched, snap.Status)
	assert.True(t, snap.TotalBlockchainAmount.Equal(dec("100")))
	assert.True(t, snap.TotalWithdrawnAmount.Equal(dec("30")))
	assert.True(t, snap.Difference.IsZero())
}

func TestCompareDatabaseAhead(t *testing.T) {
	e := NewEngine(DefaultTolerance)
	txs := []explorer.Transaction{usdcTx(backer, treasury, "100")}

	snap := e.Compare([]models.Payment{confirmed("150", "0")}, txs, treasury)
	assert.Equal(t, StatusBlockchainShort, snap.Status)
	assert.True(t, snap.Difference.Equal(dec("50")))
}

func TestCompareToleranceBoundaries(t *testing.T) {
	e := NewEngine(DefaultTolerance)
	tests := []struct {
		name    string
		chain   string
		status  string
		diffStr string
	}{
		{"short at tolerance is matched", "99.99", StatusMatched, "0.010000"},
		{"surplus at tolerance is matched", "100.01", StatusMatched, "-0.010000"},
		{"just short", "99.989999", StatusBlockchainShort, "0.010001"},
		{"just surplus", "100.010001", StatusBlockchainSurplus, "-0.010001"},
		{"nothing on chain", "0", StatusBlockchainShort, "100.000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var txs []explorer.Transaction
			if tt.chain != "0" {
				txs = append(txs, usdcTx(backer, treasury, tt.chain))
			}
			snap := e.Compare([]models.Payment{confirmed("100", "0")}, txs, treasury)
			assert.Equal(t, tt.status, snap.Status)
			assert.Equal(t, tt.diffStr, snap.Difference.StringFixed(6))
		})
	}
}

func TestClassifyIgnoresNoise(t *testing.T) {
	e := NewEngine(DefaultTolerance)

	failed := usdcTx(backer, treasury, "5")
	failed.Status = explorer.StatusFailed

	other := usdcTx(backer, treasury, "5")
	other.TokenTransfers[0].TokenSymbol = "CELO"

	unrelated := usdcTx(backer, relayer, "5")

	for _, tx := range []explorer.Transaction{failed, other, unrelated} {
		p, w := e.Classify(tx, treasury)
		assert.True(t, p.IsZero())
		assert.True(t, w.IsZero())
	}
}

func TestClassifyWithdrawalAndLogFallback(t *testing.T) {
	e := NewEngine(DefaultTolerance)

	p, w := e.Classify(usdcTx(treasury, relayer, "7.25"), "0x00000000000000000000000000000000000000aa")
	assert.True(t, p.IsZero())
	assert.True(t, w.Equal(dec("7.25")))

	fromLogs := explorer.Transaction{
		Status: explorer.StatusSuccess,
		TokenTransfers: []explorer.TokenTransfer{{
			TokenSymbol: explorer.FallbackSymbol,
			Amount:      "5000000",
			From:        backer,
			To:          "0x00000000000000000000000000000000000000aa",
		}},
	}
	p, _ = e.Classify(fromLogs, treasury)
	assert.True(t, p.Equal(dec("5")))
}

func TestDatabaseTotalSkipsUnconfirmed(t *testing.T) {
	e := NewEngine(DefaultTolerance)
	pending := confirmed("50", "1")
	pending.Status = models.PaymentStatusConfirming
	assert.True(t, e.DatabaseTotal([]models.Payment{pending, confirmed("1", "0.25")}).Equal(dec("1.25")))
}

func TestTallyProvisionalSnapshots(t *testing.T) {
	e := NewEngine(DefaultTolerance)
	tally := e.NewTally([]models.Payment{confirmed("20", "0")}, treasury)

	tally.Add(usdcTx(backer, treasury, "5"))
	snap := tally.Snapshot(true)
	assert.True(t, snap.IsBlockchainDataLoading)
	assert.Equal(t, StatusBlockchainShort, snap.Status)

	tally.Add(usdcTx(backer, treasury, "15"))
	tally.Add(usdcTx(treasury, relayer, "3"))
	snap = tally.Snapshot(false)
	assert.Equal(t, 3, tally.Count())
	assert.Equal(t, StatusMatched, snap.Status)
	assert.True(t, snap.TotalWithdrawnAmount.Equal(dec("3")))
}

func TestSnapshotJSON(t *testing.T) {
	snap := NewEngine(DefaultTolerance).Compare([]models.Payment{confirmed("1.5", "0")}, nil, treasury)
	b, err := json.Marshal(snap)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "1.500000", got["totalDatabaseAmount"])
	assert.Equal(t, "0.000000", got["totalBlockchainAmount"])
	assert.Equal(t, "1.500000", got["difference"])
	assert.Equal(t, StatusBlockchainShort, got["status"])
	assert.Equal(t, false, got["isBlockchainDataLoading"])
}

func TestSnapshotJSONRoundsEachAmount(t *testing.T) {
	snap := NewEngine(DefaultTolerance).Compare(
		[]models.Payment{confirmed("1.0000006", "0")},
		[]explorer.Transaction{usdcTx(backer, treasury, "0.0000004")},
		treasury,
	)
	assert.True(t, snap.Difference.Equal(dec("1.0000002")))

	b, err := json.Marshal(snap)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "1.000001", got["totalDatabaseAmount"])
	assert.Equal(t, "0.000000", got["totalBlockchainAmount"])
	assert.Equal(t, "1.000000", got["difference"])
	assert.Equal(t, StatusBlockchainShort, got["status"])
}

func TestParseTolerance(t *testing.T) {
	d, err := ParseTolerance(" 0.5 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("0.5")))

	_, err = ParseTolerance("-1")
	assert.Error(t, err)
	_, err = ParseTolerance("abc")
	assert.Error(t, err)
}
