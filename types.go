package x402

import (
	"context"
	"time"
)

// X402Version is the version of the 402 challenge document served and accepted.
const X402Version = 2

// ContentType selects which field of a Content record is withheld until payment.
type ContentType string

const (
	ContentTypeVideo   ContentType = "video"
	ContentTypeArticle ContentType = "article"
)

// Content is a priced resource published by a creator.
type Content struct {
	ID             string      `json:"id" db:"id"`
	Title          string      `json:"title" db:"title"`
	Description    string      `json:"description" db:"description"`
	ContentType    ContentType `json:"contentType" db:"content_type"`
	EmbedURL       string      `json:"embedUrl,omitempty" db:"embed_url"`
	ArticleBody    string      `json:"articleBody,omitempty" db:"article_body"`
	ThumbnailURL   string      `json:"thumbnailUrl" db:"thumbnail_url"`
	PriceInSTX     float64     `json:"priceInSTX" db:"price_in_stx"`
	CreatorAddress string      `json:"creatorAddress" db:"creator_address"`
	CreatorName    string      `json:"creatorName" db:"creator_name"`
	Category       string      `json:"category,omitempty" db:"category"`
	CreatedAt      int64       `json:"createdAt" db:"created_at"` // unix millis
	Views          int64       `json:"views" db:"views"`
}

// Preview returns a copy of the content with every locked field cleared.
func (c Content) Preview() Content {
	c.EmbedURL = ""
	c.ArticleBody = ""
	return c
}

// LockedField names the field withheld before payment.
func (c Content) LockedField() string {
	if c.ContentType == ContentTypeArticle {
		return "articleBody"
	}
	return "embedUrl"
}

// ContentRepository is the durable store of content records.
type ContentRepository interface {
	// Get returns nil, nil when no record has the given id.
	Get(ctx context.Context, id string) (*Content, error)
	List(ctx context.Context) ([]Content, error)
	Create(ctx context.Context, input ContentInput) (*Content, error)
}

// ViewCounter is implemented by repositories that count unlocked deliveries.
type ViewCounter interface {
	IncrementViews(ctx context.Context, id string) error
}

// PaymentRequirements describes one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"` // testnet | mainnet
	Amount            string                 `json:"amount"`  // micro-STX, integer
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Resource          string                 `json:"resource,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequiredResponse is the 402 challenge document.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentClaim is the body of a verify request.
type PaymentClaim struct {
	TxID         string `json:"txId"`
	PayerAddress string `json:"payerAddress,omitempty"`
}

// UnlockedContent is the full content record released after payment.
type UnlockedContent struct {
	Content
	PaidBy   string `json:"paidBy"`
	TxID     string `json:"txId"`
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
	Receipt  string `json:"receipt,omitempty"`
}

// PaymentResponse is sent in the PAYMENT-RESPONSE header once a payment is verified.
type PaymentResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Stacks transaction fields as reported by the indexer.
const (
	TxTypeTokenTransfer = "token_transfer"

	TxStatusSuccess = "success"
	TxStatusPending = "pending"
)

// Transaction is the indexer's view of an on-chain transaction.
type Transaction struct {
	TxID             string
	TxType           string
	TxStatus         string
	SenderAddress    string
	RecipientAddress string
	Amount           string // micro-STX
	Memo             string
}

// ChainIndexer looks up transactions by id.
type ChainIndexer interface {
	// GetTransaction returns ErrTransactionNotFound when the transaction is
	// not indexed yet and an error wrapping ErrIndexerUnavailable when the
	// indexer could not be reached.
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
}

// VerificationStatus classifies a payment claim.
type VerificationStatus string

const (
	StatusVerified   VerificationStatus = "verified"
	StatusPending    VerificationStatus = "pending"
	StatusMismatched VerificationStatus = "mismatched"
)

// PaymentRecord is one ledger row per (content, transaction) pair.
type PaymentRecord struct {
	ContentID    string             `json:"contentId" db:"content_id"`
	BuyerAddress string             `json:"buyerAddress" db:"buyer_address"`
	TxID         string             `json:"txId" db:"tx_id"`
	Amount       string             `json:"amount" db:"amount"`
	Recipient    string             `json:"recipient" db:"recipient"`
	Status       VerificationStatus `json:"status" db:"status"`
	Reason       string             `json:"reason,omitempty" db:"reason"`
	Timestamp    time.Time          `json:"timestamp" db:"created_at"`
}

// PaymentLedger persists payment outcomes. Record must be an upsert keyed by
// (ContentID, TxID).
type PaymentLedger interface {
	Record(ctx context.Context, record *PaymentRecord) error
}

// NullLedger drops every record.
type NullLedger struct{}

// Record implements PaymentLedger.
func (NullLedger) Record(ctx context.Context, record *PaymentRecord) error {
	return nil
}

// EventType names a payment lifecycle event.
type EventType string

const (
	EventPaymentAttempt  EventType = "payment.attempt"
	EventPaymentVerified EventType = "payment.verified"
	EventPaymentPending  EventType = "payment.pending"
	EventPaymentRejected EventType = "payment.rejected"
)

// PaymentEvent is emitted when a payment claim arrives and again once it is
// classified.
type PaymentEvent struct {
	Type      EventType `json:"type"`
	ContentID string    `json:"contentId"`
	TxID      string    `json:"txId"`
	Payer     string    `json:"payer,omitempty"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher delivers payment events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
}

// EventTypeFor maps a classification onto its event type.
func EventTypeFor(status VerificationStatus) EventType {
	switch status {
	case StatusVerified:
		return EventPaymentVerified
	case StatusPending:
		return EventPaymentPending
	default:
		return EventPaymentRejected
	}
}

// PaymentContext contains payment information that can be extracted in handlers.
type PaymentContext struct {
	Verified      bool
	ContentID     string
	PayerAddress  string
	Amount        string
	Network       string
	TransactionID string
}

type contextKey string

const (
	// PaymentContextKey is the key used to store payment context in request context.
	PaymentContextKey contextKey = "x402-payment"
)
