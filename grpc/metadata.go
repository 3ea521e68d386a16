package grpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	x402 "github.com/Rampop01/streamit"
	"google.golang.org/grpc/metadata"
)

// Metadata keys.
const (
	MetadataKeyPaymentReceipt  = "payment-receipt"
	MetadataKeyPaymentResponse = "payment-response"
	MetadataKeyPaymentRequired = "payment-required"
)

// EncodePaymentRequirements encodes a 402 challenge to base64 JSON.
func EncodePaymentRequirements(response *x402.PaymentRequiredResponse) (string, error) {
	jsonBytes, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment requirements: %w", err)
	}

	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// DecodePaymentRequirements decodes base64 JSON payment requirements.
func DecodePaymentRequirements(encoded string) (*x402.PaymentRequiredResponse, error) {
	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	var response x402.PaymentRequiredResponse
	if err := json.Unmarshal(jsonBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment requirements: %w", err)
	}

	if response.X402Version != x402.X402Version {
		return nil, fmt.Errorf("unsupported x402Version %d", response.X402Version)
	}

	return &response, nil
}

// EncodePaymentResponse encodes a PaymentResponse to base64 JSON.
func EncodePaymentResponse(response *x402.PaymentResponse) (string, error) {
	jsonBytes, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment response: %w", err)
	}

	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// DecodePaymentResponse decodes base64 JSON payment response.
func DecodePaymentResponse(encoded string) (*x402.PaymentResponse, error) {
	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	var response x402.PaymentResponse
	if err := json.Unmarshal(jsonBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment response: %w", err)
	}

	return &response, nil
}

// ExtractReceiptFromMetadata returns the payment receipt carried in metadata, if any.
func ExtractReceiptFromMetadata(md metadata.MD) (string, bool) {
	if values := md.Get(MetadataKeyPaymentReceipt); len(values) > 0 && values[0] != "" {
		return values[0], true
	}
	return "", false
}

// WithReceipt attaches a payment receipt to outgoing metadata.
func WithReceipt(md metadata.MD, receipt string) metadata.MD {
	out := md.Copy()
	if out == nil {
		out = metadata.MD{}
	}
	out.Set(MetadataKeyPaymentReceipt, receipt)
	return out
}
