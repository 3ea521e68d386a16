package stacks

// Hiro API base URLs.
const (
	DefaultTestnetURL = "https://api.testnet.hiro.so"
	DefaultMainnetURL = "https://api.hiro.so"
)

// BaseURLForNetwork returns the public Hiro API for a network name.
func BaseURLForNetwork(network string) string {
	if network == "mainnet" {
		return DefaultMainnetURL
	}
	return DefaultTestnetURL
}

// TransactionResponse is the subset of GET /extended/v1/tx/{txId} the
// verifier reads.
type TransactionResponse struct {
	TxID          string         `json:"tx_id"`
	TxType        string         `json:"tx_type"`
	TxStatus      string         `json:"tx_status"`
	SenderAddress string         `json:"sender_address"`
	TokenTransfer *TokenTransfer `json:"token_transfer,omitempty"`
}

// TokenTransfer is the payload of a token_transfer transaction.
type TokenTransfer struct {
	RecipientAddress string `json:"recipient_address"`
	Amount           string `json:"amount"` // micro-STX
	Memo             string `json:"memo"`
}

// ErrorResponse is the body Hiro returns with 4xx statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
