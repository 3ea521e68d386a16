package x402

import (
	"fmt"
	"log/slog"
	"time"
)

// Network selects the Stacks network payments are made on.
type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// ParseNetwork accepts "testnet" or "mainnet".
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case NetworkTestnet, NetworkMainnet:
		return Network(s), nil
	default:
		return "", fmt.Errorf("unsupported network %q", s)
	}
}

// VerifyPolicy relaxes or tightens payment classification.
// The zero value is the production policy: strict amount and recipient
// checks, pending transactions soft-accepted.
type VerifyPolicy struct {
	// RejectPending answers 403 instead of unlocking while a transaction is
	// not yet confirmed.
	RejectPending bool

	// AllowMismatch unlocks content for transactions that do not match the
	// requirement. Demo mode only.
	AllowMismatch bool

	// SkipAmountCheck accepts any transferred amount.
	SkipAmountCheck bool
}

// Config holds the engine configuration.
type Config struct {
	// Repository is the content store.
	Repository ContentRepository

	// Indexer resolves transaction ids.
	Indexer ChainIndexer

	// Network is advertised in challenges. Defaults to testnet.
	Network Network

	// FacilitatorURL is advertised to clients that relay signed transfers
	// through a facilitator (optional).
	FacilitatorURL string

	// Policy controls how verification outcomes map to access decisions.
	Policy VerifyPolicy

	// ValidityDuration is how long payment requirements are valid.
	// Defaults to 5 minutes.
	ValidityDuration time.Duration

	// IndexerTimeout bounds a single verification lookup. Defaults to 10 seconds.
	IndexerTimeout time.Duration

	// Receipts signs and checks proofs of verified payment. Defaults to an
	// issuer with a per-process random key.
	Receipts *ReceiptIssuer

	// Cache stores verified classifications. Defaults to an in-memory LRU.
	Cache VerificationCache

	// Ledger records payment outcomes. Defaults to NullLedger.
	Ledger PaymentLedger

	// Events receives payment events (optional).
	Events EventPublisher

	Logger *slog.Logger
}

// Validate checks if the configuration is valid and fills defaults.
func (c *Config) Validate() error {
	if c.Repository == nil {
		return NewPaymentError(ErrCodeInvalidConfig, "repository is required", nil)
	}

	if c.Indexer == nil {
		return NewPaymentError(ErrCodeInvalidConfig, "indexer is required", nil)
	}

	if c.Network == "" {
		c.Network = NetworkTestnet
	}
	if _, err := ParseNetwork(string(c.Network)); err != nil {
		return NewPaymentError(ErrCodeInvalidConfig, "invalid network", err)
	}

	if c.ValidityDuration == 0 {
		c.ValidityDuration = 5 * time.Minute
	}

	if c.IndexerTimeout == 0 {
		c.IndexerTimeout = 10 * time.Second
	}

	if c.Receipts == nil {
		issuer, err := NewReceiptIssuer(nil, DefaultReceiptTTL)
		if err != nil {
			return NewPaymentError(ErrCodeInvalidConfig, "failed to create receipt issuer", err)
		}
		c.Receipts = issuer
	}

	if c.Cache == nil {
		c.Cache = NewMemoryCache(DefaultCacheSize, DefaultCacheTTL)
	}

	if c.Ledger == nil {
		c.Ledger = NullLedger{}
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}
