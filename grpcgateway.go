package x402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/cors"
	"google.golang.org/grpc/metadata"
)

// Route prefixes the content API is served under.
var routePrefixes = []string{"", "/api"}

// NewServeMux builds a grpc-gateway ServeMux serving the content API:
//
//	GET  /content              list, locked fields stripped
//	POST /content              create
//	GET  /content/{id}         gated fetch (?preview=true for metadata)
//	POST /content/{id}/verify  redeem a transaction id
//	GET  /health
//
// Every content route is also mounted under /api. Extra options are applied
// after the defaults, so generated gRPC gateway handlers can share the mux.
func NewServeMux(engine *Engine, opts ...runtime.ServeMuxOption) (*runtime.ServeMux, error) {
	opts = append([]runtime.ServeMuxOption{
		runtime.WithRoutingErrorHandler(routingErrorHandler),
		WithPaymentMetadata(),
	}, opts...)
	mux := runtime.NewServeMux(opts...)

	h := &contentHandlers{engine: engine}
	for _, prefix := range routePrefixes {
		routes := []struct {
			method  string
			pattern string
			handler runtime.HandlerFunc
		}{
			{http.MethodGet, prefix + "/content", h.list},
			{http.MethodPost, prefix + "/content", h.create},
			{http.MethodGet, prefix + "/content/{id}", h.get},
			{http.MethodPost, prefix + "/content/{id}/verify", h.verify},
		}
		for _, route := range routes {
			if err := mux.HandlePath(route.method, route.pattern, route.handler); err != nil {
				return nil, fmt.Errorf("failed to register %s %s: %w", route.method, route.pattern, err)
			}
		}
	}

	if err := mux.HandlePath(http.MethodGet, "/health", health); err != nil {
		return nil, fmt.Errorf("failed to register health route: %w", err)
	}

	return mux, nil
}

// NewHandler wraps NewServeMux with CORS. The payment headers are exposed to
// browsers so wallet front-ends can read the challenge.
func NewHandler(engine *Engine, allowedOrigins []string, opts ...runtime.ServeMuxOption) (http.Handler, error) {
	mux, err := NewServeMux(engine, opts...)
	if err != nil {
		return nil, err
	}
	return CORS(allowedOrigins).Handler(mux), nil
}

// CORS returns the cross-origin policy for the content API.
func CORS(allowedOrigins []string) *cors.Cors {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", HeaderPaymentReceipt},
		ExposedHeaders: []string{HeaderPaymentRequired, HeaderPaymentResponse},
	})
}

type contentHandlers struct {
	engine *Engine
}

func (h *contentHandlers) list(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	WriteDecision(w, h.engine.ListContent(r.Context()))
}

func (h *contentHandlers) create(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var input ContentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	WriteDecision(w, h.engine.CreateContent(r.Context(), input))
}

func (h *contentHandlers) get(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	WriteDecision(w, h.engine.Gate(r.Context(), pathParams["id"], GateRequestFromHTTP(r)))
}

func (h *contentHandlers) verify(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var claim PaymentClaim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	WriteDecision(w, h.engine.Verify(r.Context(), pathParams["id"], claim))
}

func health(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func routingErrorHandler(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, httpStatus int) {
	sendError(w, httpStatus, http.StatusText(httpStatus))
}

// WithPaymentMetadata returns a ServeMuxOption that propagates payment information
// from HTTP context to gRPC metadata, making it accessible in gRPC handlers.
// The built-in content routes render decisions themselves and store no
// PaymentContext; the metadata is only populated for generated gateway
// handlers served behind PaymentMiddleware.
func WithPaymentMetadata() runtime.ServeMuxOption {
	return runtime.WithMetadata(func(ctx context.Context, r *http.Request) metadata.MD {
		return paymentMetadata(ctx)
	})
}

func paymentMetadata(ctx context.Context) metadata.MD {
	md := metadata.MD{}

	payment, ok := GetPaymentFromContext(ctx)
	if !ok || payment == nil || !payment.Verified {
		return md
	}

	md.Set("x-payment-verified", "true")
	md.Set("x-payment-content-id", payment.ContentID)
	md.Set("x-payment-payer", payment.PayerAddress)
	md.Set("x-payment-amount", payment.Amount)
	md.Set("x-payment-network", payment.Network)
	if payment.TransactionID != "" {
		md.Set("x-payment-tx-id", payment.TransactionID)
	}

	return md
}

// GetPaymentFromGRPCContext extracts payment information from gRPC metadata
// Use this in gRPC handlers to access payment details
func GetPaymentFromGRPCContext(ctx context.Context) (*PaymentContext, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}

	if first(md, "x-payment-verified") != "true" {
		return nil, false
	}

	return &PaymentContext{
		Verified:      true,
		ContentID:     first(md, "x-payment-content-id"),
		PayerAddress:  first(md, "x-payment-payer"),
		Amount:        first(md, "x-payment-amount"),
		Network:       first(md, "x-payment-network"),
		TransactionID: first(md, "x-payment-tx-id"),
	}, true
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}
