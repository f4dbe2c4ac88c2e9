package explorer

// Transaction status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Transaction type values.
const (
	TypeNative   = "native"
	TypeERC20    = "erc20"
	TypeContract = "contract"
)

// TokenTransfer is one ERC20 movement inside a transaction. Amount is the raw
// integer string in token base units.
type TokenTransfer struct {
	TokenSymbol  string `json:"tokenSymbol"`
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
	Decimals     int    `json:"decimals"`
	From         string `json:"from"`
	To           string `json:"to"`
}

// Transaction is the normalised view of an explorer transaction.
type Transaction struct {
	Hash           string          `json:"hash"`
	BlockNumber    uint64          `json:"blockNumber"`
	Timestamp      int64           `json:"timestamp"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Value          string          `json:"value"`
	GasUsed        string          `json:"gasUsed"`
	GasPrice       string          `json:"gasPrice"`
	Fee            string          `json:"fee"`
	Status         string          `json:"status"`
	Method         string          `json:"method,omitempty"`
	Type           string          `json:"type"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers,omitempty"`
}

// Stream event types.
const (
	EventTransactionCount = "transaction_count"
	EventTransaction      = "transaction"
	EventComplete         = "complete"
	EventError            = "error"
)

// Progress counts detail lookups done out of the known total.
type Progress struct {
	Loaded int `json:"loaded"`
	Total  int `json:"total"`
}

// StreamEvent is one message of a transaction stream. Exactly one of
// Transaction, Count, Processed or Err is meaningful for a given Type.
type StreamEvent struct {
	Type        string
	Transaction *Transaction
	Count       int
	Processed   int
	Err         error
	Progress    Progress
}
