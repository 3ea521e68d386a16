package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Header names.
const (
	HeaderPaymentRequired = "PAYMENT-REQUIRED"
	HeaderPaymentResponse = "PAYMENT-RESPONSE"
	HeaderPaymentReceipt  = "PAYMENT-RECEIPT"
)

// ContentIDFunc extracts the content id a request is asking for.
type ContentIDFunc func(r *http.Request) string

// PaymentMiddleware gates next behind the engine: requests without a valid
// receipt for the content named by contentID get the engine's response
// (usually a 402), and unlocked requests reach next with a PaymentContext.
func PaymentMiddleware(engine *Engine, contentID ContentIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := contentID(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			req := GateRequestFromHTTP(r)
			req.Preview = false
			decision := engine.Gate(r.Context(), id, req)
			if decision.Payment == nil {
				WriteDecision(w, decision)
				return
			}

			ctx := context.WithValue(r.Context(), PaymentContextKey, decision.Payment)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GateRequestFromHTTP reads the preview flag and receipt from a request.
func GateRequestFromHTTP(r *http.Request) GateRequest {
	return GateRequest{
		Preview:  r.URL.Query().Get("preview") == "true",
		Receipt:  r.Header.Get(HeaderPaymentReceipt),
		Resource: r.URL.Path,
	}
}

// WriteDecision renders a Decision as a JSON response.
func WriteDecision(w http.ResponseWriter, d *Decision) {
	for key, values := range d.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.Status)
	json.NewEncoder(w).Encode(d.Body)
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// GetPaymentFromContext extracts payment information from the request context.
func GetPaymentFromContext(ctx context.Context) (*PaymentContext, bool) {
	payment, ok := ctx.Value(PaymentContextKey).(*PaymentContext)
	return payment, ok
}

// RequirePayment extracts payment from context and returns error if not found.
func RequirePayment(ctx context.Context) (*PaymentContext, error) {
	payment, ok := GetPaymentFromContext(ctx)
	if !ok {
		return nil, NewPaymentError(ErrCodePaymentRequired, "payment context not found", nil)
	}
	if !payment.Verified {
		return nil, NewPaymentError(ErrCodePaymentRequired, "payment not verified", nil)
	}
	return payment, nil
}

// EncodePaymentRequired encodes a challenge for the PAYMENT-REQUIRED header.
func EncodePaymentRequired(response *PaymentRequiredResponse) (string, error) {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(responseJSON), nil
}

// DecodePaymentRequired decodes a PAYMENT-REQUIRED header value.
func DecodePaymentRequired(header string) (*PaymentRequiredResponse, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	var response PaymentRequiredResponse
	if err := json.Unmarshal(decoded, &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := checkChallenge(&response); err != nil {
		return nil, err
	}
	return &response, nil
}

// DecodePaymentResponse decodes a PAYMENT-RESPONSE header.
func DecodePaymentResponse(header string) (*PaymentResponse, error) {
	responseBytes, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	var response PaymentResponse
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &response, nil
}

// ReadPaymentRequirements extracts payment requirements from a 402 response.
// The PAYMENT-REQUIRED header is preferred; the body carries the same document.
func ReadPaymentRequirements(resp *http.Response) (*PaymentRequiredResponse, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("expected status 402, got %d", resp.StatusCode)
	}

	if header := resp.Header.Get(HeaderPaymentRequired); header != "" {
		if paymentReq, err := DecodePaymentRequired(header); err == nil {
			return paymentReq, nil
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var paymentReq PaymentRequiredResponse
	if err := json.Unmarshal(body, &paymentReq); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}
	if err := checkChallenge(&paymentReq); err != nil {
		return nil, err
	}

	return &paymentReq, nil
}

func checkChallenge(response *PaymentRequiredResponse) error {
	if response.X402Version != X402Version {
		return fmt.Errorf("unsupported x402Version %d", response.X402Version)
	}
	if len(response.Accepts) == 0 {
		return fmt.Errorf("challenge has no accepted payment")
	}
	return nil
}
