package explorer

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// FallbackSymbol labels transfers recovered from raw logs, where the token
// is unknown. They are assumed to be 6-decimal stablecoins.
const (
	FallbackSymbol      = "USDC/USDT"
	logFallbackDecimals = 6
)

// addressRef accepts either "0x.." or {"hash":"0x..","is_contract":bool}.
type addressRef struct {
	Hash       string
	IsContract bool
}

func (a *addressRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &a.Hash)
	}
	var obj struct {
		Hash       string `json:"hash"`
		IsContract bool   `json:"is_contract"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	a.Hash, a.IsContract = obj.Hash, obj.IsContract
	return nil
}

// flexValue accepts JSON strings and numbers and keeps the textual form.
type flexValue string

func (f *flexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexValue(s)
		return nil
	}
	*f = flexValue(b)
	return nil
}

type rawToken struct {
	Symbol   string    `json:"symbol"`
	Address  string    `json:"address"`
	Decimals flexValue `json:"decimals"`
}

type rawValue struct {
	Value flexValue `json:"value"`
}

type rawTransfer struct {
	Token           *rawToken  `json:"token"`
	Total           *rawValue  `json:"total"`
	Value           flexValue  `json:"value"`
	Amount          flexValue  `json:"amount"`
	From            addressRef `json:"from"`
	To              addressRef `json:"to"`
	TransactionHash string     `json:"transaction_hash"`
	TxHash          string     `json:"tx_hash"`
}

type rawLog struct {
	Address addressRef `json:"address"`
	Topics  []string   `json:"topics"`
	Data    string     `json:"data"`
}

type rawTransaction struct {
	Hash           string        `json:"hash"`
	Timestamp      flexValue     `json:"timestamp"`
	Block          flexValue     `json:"block"`
	BlockNumber    flexValue     `json:"block_number"`
	From           addressRef    `json:"from"`
	To             addressRef    `json:"to"`
	Value          flexValue     `json:"value"`
	GasUsed        flexValue     `json:"gas_used"`
	GasPrice       flexValue     `json:"gas_price"`
	Fee            *rawValue     `json:"fee"`
	Status         string        `json:"status"`
	Result         string        `json:"result"`
	Method         string        `json:"method"`
	TokenTransfers []rawTransfer `json:"token_transfers"`
	Logs           []rawLog      `json:"logs"`
}

type rawPage[T any] struct {
	Items          []T             `json:"items"`
	NextPageParams json.RawMessage `json:"next_page_params"`
}

func (t rawTransfer) hash() string {
	if t.TransactionHash != "" {
		return t.TransactionHash
	}
	return t.TxHash
}

func parseTransfer(t rawTransfer) TokenTransfer {
	out := TokenTransfer{
		TokenSymbol: "UNKNOWN",
		From:        t.From.Hash,
		To:          t.To.Hash,
	}
	if t.Token != nil {
		if t.Token.Symbol != "" {
			out.TokenSymbol = t.Token.Symbol
		}
		out.TokenAddress = t.Token.Address
		out.Decimals, _ = strconv.Atoi(string(t.Token.Decimals))
	}
	switch {
	case t.Total != nil && t.Total.Value != "":
		out.Amount = string(t.Total.Value)
	case t.Value != "":
		out.Amount = string(t.Value)
	case t.Amount != "":
		out.Amount = string(t.Amount)
	default:
		out.Amount = "0"
	}
	return out
}

// parseTransaction maps the common fields. Token transfers are filled by the caller.
func parseTransaction(tx rawTransaction) Transaction {
	out := Transaction{
		Hash:      tx.Hash,
		Timestamp: parseTimestamp(string(tx.Timestamp)),
		From:      tx.From.Hash,
		To:        tx.To.Hash,
		Value:     orZero(string(tx.Value)),
		GasUsed:   orZero(string(tx.GasUsed)),
		GasPrice:  orZero(string(tx.GasPrice)),
		Method:    tx.Method,
		Status:    StatusFailed,
	}

	block := string(tx.Block)
	if block == "" {
		block = string(tx.BlockNumber)
	}
	out.BlockNumber, _ = strconv.ParseUint(block, 10, 64)

	if tx.Fee != nil && tx.Fee.Value != "" {
		out.Fee = string(tx.Fee.Value)
	} else {
		out.Fee = multiplyOrZero(out.GasUsed, out.GasPrice)
	}

	if tx.Status == "ok" || tx.Result == "success" {
		out.Status = StatusSuccess
	}

	switch {
	case len(tx.TokenTransfers) > 0:
		out.Type = TypeERC20
	case tx.To.IsContract || tx.Method != "":
		out.Type = TypeContract
	default:
		out.Type = TypeNative
	}
	return out
}

// parseTimestamp accepts RFC3339 strings and unix seconds or milliseconds.
func parseTimestamp(v string) int64 {
	if v == "" {
		return 0
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n > 1e12 {
			return int64(n / 1000)
		}
		return int64(n)
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.Unix()
	}
	return 0
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func multiplyOrZero(a, b string) string {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if !okA || !okB {
		return "0"
	}
	return x.Mul(x, y).String()
}

// transfersFromLogs decodes ERC20 Transfer events from raw receipt logs.
func transfersFromLogs(logs []rawLog) []TokenTransfer {
	var out []TokenTransfer
	for _, l := range logs {
		if len(l.Topics) < 3 || !strings.EqualFold(l.Topics[0], transferTopic.Hex()) {
			continue
		}
		data := l.Data
		if data == "" {
			data = "0x0"
		}
		amount := new(big.Int).SetBytes(common.FromHex(data))
		out = append(out, TokenTransfer{
			TokenSymbol:  FallbackSymbol,
			TokenAddress: l.Address.Hash,
			Amount:       amount.String(),
			Decimals:     logFallbackDecimals,
			From:         topicAddress(l.Topics[1]),
			To:           topicAddress(l.Topics[2]),
		})
	}
	return out
}

func topicAddress(topic string) string {
	return strings.ToLower(common.BytesToAddress(common.FromHex(topic)).Hex())
}

// transferSet keeps transfers unique by from, to, amount and token address.
type transferSet struct {
	seen  map[string]struct{}
	items []TokenTransfer
}

func (s *transferSet) add(t TokenTransfer) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	key := t.From + "-" + t.To + "-" + t.Amount + "-" + t.TokenAddress
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, t)
	return true
}
