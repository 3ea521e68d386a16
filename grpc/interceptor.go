package grpc

import (
	"context"
	"fmt"
	"net/http"

	x402 "github.com/Rampop01/streamit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ContentRequest is implemented by any request message with a content_id field.
type ContentRequest interface {
	GetContentId() string
}

// UnaryServerInterceptor creates a gRPC unary server interceptor that gates
// every request naming a content item behind a payment receipt. Requests that
// do not implement ContentRequest, and methods listed in skipMethods, pass
// through untouched.
func UnaryServerInterceptor(engine *x402.Engine, skipMethods ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(skipMethods))
	for _, m := range skipMethods {
		skip[m] = true
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		contentReq, ok := req.(ContentRequest)
		if !ok || skip[info.FullMethod] || contentReq.GetContentId() == "" {
			return handler(ctx, req)
		}

		gateReq := x402.GateRequest{Resource: info.FullMethod}
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			gateReq.Receipt, _ = ExtractReceiptFromMetadata(md)
		}

		decision := engine.Gate(ctx, contentReq.GetContentId(), gateReq)
		switch {
		case decision.Payment != nil:
		case decision.Status == http.StatusPaymentRequired:
			return nil, sendPaymentRequired(ctx, decision)
		default:
			return nil, status.Error(CodeFromHTTPStatus(decision.Status), decision.ErrorMessage())
		}

		ctx = context.WithValue(ctx, x402.PaymentContextKey, decision.Payment)

		resp, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}

		paymentResponse := x402.PaymentResponse{
			Success:     true,
			Transaction: decision.Payment.TransactionID,
			Network:     decision.Payment.Network,
			Payer:       decision.Payment.PayerAddress,
		}
		if encoded, err := EncodePaymentResponse(&paymentResponse); err == nil {
			grpc.SetTrailer(ctx, metadata.Pairs(MetadataKeyPaymentResponse, encoded))
		}

		return resp, nil
	}
}

// sendPaymentRequired carries the encoded challenge both as the status message
// and in the payment-required header, since ResourceExhausted is gRPC's 402.
func sendPaymentRequired(ctx context.Context, decision *x402.Decision) error {
	challenge, ok := decision.Body.(*x402.PaymentRequiredResponse)
	if !ok {
		return status.Error(codes.Internal, "missing payment requirements")
	}

	encoded, err := EncodePaymentRequirements(challenge)
	if err != nil {
		return status.Error(codes.Internal, fmt.Sprintf("failed to encode payment requirements: %v", err))
	}

	grpc.SetHeader(ctx, metadata.Pairs(MetadataKeyPaymentRequired, encoded))
	return status.Error(codes.ResourceExhausted, encoded)
}

// CodeFromHTTPStatus maps an engine response status onto a gRPC code.
func CodeFromHTTPStatus(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusOK, http.StatusCreated:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusPaymentRequired:
		return codes.ResourceExhausted
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// GRPCCode maps a PaymentError code onto a gRPC code.
func GRPCCode(code string) codes.Code {
	return CodeFromHTTPStatus(x402.HTTPStatus(code))
}

// GetPaymentFromContext extracts payment information from the gRPC context.
func GetPaymentFromContext(ctx context.Context) (*x402.PaymentContext, bool) {
	payment, ok := ctx.Value(x402.PaymentContextKey).(*x402.PaymentContext)
	return payment, ok
}

// RequirePayment extracts payment from context and returns error if not found.
func RequirePayment(ctx context.Context) (*x402.PaymentContext, error) {
	payment, ok := GetPaymentFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.ResourceExhausted, "payment context not found")
	}
	if !payment.Verified {
		return nil, status.Error(codes.ResourceExhausted, "payment not verified")
	}
	return payment, nil
}
