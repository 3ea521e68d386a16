package grpc

import (
	"context"
	"io"
	"log/slog"
	"testing"

	x402 "github.com/Rampop01/streamit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeRepository struct {
	items map[string]x402.Content
}

func (f *fakeRepository) Get(ctx context.Context, id string) (*x402.Content, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (f *fakeRepository) List(ctx context.Context) ([]x402.Content, error) {
	return nil, nil
}

func (f *fakeRepository) Create(ctx context.Context, input x402.ContentInput) (*x402.Content, error) {
	return nil, nil
}

type fakeIndexer struct{}

func (fakeIndexer) GetTransaction(ctx context.Context, txID string) (*x402.Transaction, error) {
	return nil, x402.ErrTransactionNotFound
}

type fetchRequest struct {
	contentID string
}

func (r *fetchRequest) GetContentId() string {
	return r.contentID
}

func testEngine(t *testing.T) *x402.Engine {
	t.Helper()
	engine, err := x402.NewEngine(x402.Config{
		Repository: &fakeRepository{items: map[string]x402.Content{
			"vid-1": {
				ID:             "vid-1",
				Title:          "Intro",
				ContentType:    x402.ContentTypeVideo,
				EmbedURL:       "https://youtube.com/embed/x",
				PriceInSTX:     10,
				CreatorAddress: "SPCREATOR",
			},
		}},
		Indexer: fakeIndexer{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestUnaryServerInterceptor(t *testing.T) {
	engine := testEngine(t)
	interceptor := UnaryServerInterceptor(engine, "/paystream.v1.ContentService/Preview")
	info := &grpc.UnaryServerInfo{FullMethod: "/paystream.v1.ContentService/Watch"}

	var handled *x402.PaymentContext
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		handled, _ = GetPaymentFromContext(ctx)
		return "ok", nil
	}

	t.Run("non-content request passes", func(t *testing.T) {
		resp, err := interceptor(context.Background(), struct{}{}, info, handler)
		if err != nil || resp != "ok" {
			t.Fatalf("expected pass-through, got %v, %v", resp, err)
		}
	})

	t.Run("skipped method passes", func(t *testing.T) {
		skipInfo := &grpc.UnaryServerInfo{FullMethod: "/paystream.v1.ContentService/Preview"}
		if _, err := interceptor(context.Background(), &fetchRequest{contentID: "vid-1"}, skipInfo, handler); err != nil {
			t.Fatalf("expected pass-through, got %v", err)
		}
	})

	t.Run("missing receipt is resource exhausted", func(t *testing.T) {
		_, err := interceptor(context.Background(), &fetchRequest{contentID: "vid-1"}, info, handler)
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.ResourceExhausted {
			t.Fatalf("expected ResourceExhausted, got %v", err)
		}
		challenge, err := DecodePaymentRequirements(st.Message())
		if err != nil {
			t.Fatalf("status message is not a challenge: %v", err)
		}
		if challenge.Accepts[0].Amount != "10000000" {
			t.Errorf("expected amount 10000000, got %s", challenge.Accepts[0].Amount)
		}
		if challenge.Accepts[0].Resource != info.FullMethod {
			t.Errorf("expected resource %s, got %s", info.FullMethod, challenge.Accepts[0].Resource)
		}
	})

	t.Run("unknown content is not found", func(t *testing.T) {
		_, err := interceptor(context.Background(), &fetchRequest{contentID: "nope"}, info, handler)
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("receipt unlocks", func(t *testing.T) {
		receipt, err := engine.Config().Receipts.Issue("vid-1", "0xabc", "SPBUYER")
		if err != nil {
			t.Fatalf("failed to issue receipt: %v", err)
		}
		ctx := metadata.NewIncomingContext(context.Background(), WithReceipt(nil, receipt))

		resp, err := interceptor(ctx, &fetchRequest{contentID: "vid-1"}, info, handler)
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if resp != "ok" {
			t.Errorf("expected handler response, got %v", resp)
		}
		if handled == nil || handled.PayerAddress != "SPBUYER" || handled.TransactionID != "0xabc" {
			t.Errorf("unexpected payment context %+v", handled)
		}
	})
}

func TestCodeFromHTTPStatus(t *testing.T) {
	tests := map[int]codes.Code{
		200: codes.OK,
		400: codes.InvalidArgument,
		402: codes.ResourceExhausted,
		403: codes.PermissionDenied,
		404: codes.NotFound,
		500: codes.Internal,
	}
	for httpStatus, want := range tests {
		if got := CodeFromHTTPStatus(httpStatus); got != want {
			t.Errorf("CodeFromHTTPStatus(%d) = %v, want %v", httpStatus, got, want)
		}
	}
}

func TestGRPCCode(t *testing.T) {
	tests := map[string]codes.Code{
		x402.ErrCodeNotFound:            codes.NotFound,
		x402.ErrCodeValidation:          codes.InvalidArgument,
		x402.ErrCodeInvalidReceipt:      codes.ResourceExhausted,
		x402.ErrCodePaymentMismatch:     codes.PermissionDenied,
		x402.ErrCodeSignerCancelled:     codes.Aborted,
		x402.ErrCodeUpstreamUnavailable: codes.Internal,
	}
	for code, want := range tests {
		if got := GRPCCode(code); got != want {
			t.Errorf("GRPCCode(%s) = %v, want %v", code, got, want)
		}
	}
}

func TestRequirePayment(t *testing.T) {
	if _, err := RequirePayment(context.Background()); status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", err)
	}

	ctx := context.WithValue(context.Background(), x402.PaymentContextKey, &x402.PaymentContext{Verified: false})
	if _, err := RequirePayment(ctx); err == nil {
		t.Error("expected unverified payment to be rejected")
	}
}
