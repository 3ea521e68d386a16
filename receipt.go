package x402

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultReceiptTTL is how long a payment receipt unlocks its content.
const DefaultReceiptTTL = 24 * time.Hour

const receiptIssuerName = "paystream"

// ReceiptClaims binds a verified transaction to one content item and payer.
type ReceiptClaims struct {
	ContentID string `json:"cid"`
	TxID      string `json:"tx"`
	jwt.RegisteredClaims
}

// ReceiptIssuer signs and checks payment receipts (HS256 JWTs).
type ReceiptIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewReceiptIssuer creates an issuer. An empty secret selects a random key,
// so receipts only stay valid for the lifetime of the process.
func NewReceiptIssuer(secret []byte, ttl time.Duration) (*ReceiptIssuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate receipt key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	return &ReceiptIssuer{key: secret, ttl: ttl, now: time.Now}, nil
}

// Issue signs a receipt for a verified payment.
func (r *ReceiptIssuer) Issue(contentID, txID, payer string) (string, error) {
	now := r.now()
	claims := ReceiptClaims{
		ContentID: contentID,
		TxID:      txID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    receiptIssuerName,
			Subject:   payer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}
	return signed, nil
}

// Parse checks a receipt's signature, issuer and expiry.
func (r *ReceiptIssuer) Parse(receipt string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	_, err := jwt.ParseWithClaims(receipt, claims,
		func(*jwt.Token) (interface{}, error) { return r.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(receiptIssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return nil, NewPaymentError(ErrCodeInvalidReceipt, "invalid payment receipt", err)
	}
	if claims.ContentID == "" || claims.TxID == "" {
		return nil, NewPaymentError(ErrCodeInvalidReceipt, "invalid payment receipt", errors.New("receipt is missing content or transaction"))
	}
	return claims, nil
}

// ParseFor checks a receipt and that it was issued for contentID.
func (r *ReceiptIssuer) ParseFor(receipt, contentID string) (*ReceiptClaims, error) {
	claims, err := r.Parse(receipt)
	if err != nil {
		return nil, err
	}
	if claims.ContentID != contentID {
		return nil, NewPaymentError(ErrCodeInvalidReceipt, "receipt was issued for different content", nil)
	}
	return claims, nil
}
