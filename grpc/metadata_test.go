package grpc

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	x402 "github.com/Rampop01/streamit"
	"google.golang.org/grpc/metadata"
)

func TestEncodeDecodePaymentRequirements(t *testing.T) {
	challenge := &x402.PaymentRequiredResponse{
		X402Version: 2,
		Error:       "Payment required",
		Accepts: []x402.PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           "testnet",
				Amount:            "5000000",
				Asset:             "STX",
				PayTo:             "SPCREATOR",
				MaxTimeoutSeconds: 300,
			},
		},
	}

	encoded, err := EncodePaymentRequirements(challenge)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}

	// Verify it's valid base64
	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("not valid base64: %v", err)
	}

	var response x402.PaymentRequiredResponse
	if err := json.Unmarshal(jsonBytes, &response); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	if response.Accepts[0].PayTo != "SPCREATOR" {
		t.Errorf("expected payTo SPCREATOR, got %s", response.Accepts[0].PayTo)
	}

	decoded, err := DecodePaymentRequirements(encoded)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if decoded.Accepts[0].Amount != "5000000" {
		t.Errorf("expected amount 5000000, got %s", decoded.Accepts[0].Amount)
	}
}

func TestDecodePaymentRequirements_Invalid(t *testing.T) {
	tests := map[string]string{
		"invalid base64": "not-valid-base64!!!",
		"invalid JSON":   base64.StdEncoding.EncodeToString([]byte("not json")),
		"old version":    base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"accepts":[]}`)),
	}

	for name, encoded := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodePaymentRequirements(encoded); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExtractReceiptFromMetadata(t *testing.T) {
	if _, ok := ExtractReceiptFromMetadata(metadata.MD{}); ok {
		t.Error("expected no receipt in empty metadata")
	}

	md := WithReceipt(metadata.Pairs("other", "x"), "token")
	receipt, ok := ExtractReceiptFromMetadata(md)
	if !ok || receipt != "token" {
		t.Errorf("expected receipt 'token', got %q", receipt)
	}
	if md.Get("other")[0] != "x" {
		t.Error("WithReceipt dropped existing metadata")
	}
}

func TestEncodeDecodePaymentResponse(t *testing.T) {
	encoded, err := EncodePaymentResponse(&x402.PaymentResponse{Success: true, Transaction: "0xabc", Payer: "SPBUYER"})
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	decoded, err := DecodePaymentResponse(encoded)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !decoded.Success || decoded.Transaction != "0xabc" {
		t.Errorf("unexpected response %+v", decoded)
	}
}
