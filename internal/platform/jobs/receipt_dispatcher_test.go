package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/axleworks/api/internal/domain"
)

func TestPubSubReceiptDispatcherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-receipts")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	dispatcher, err := NewPubSubReceiptDispatcher(topic)
	if err != nil {
		t.Fatalf("NewPubSubReceiptDispatcher: %v", err)
	}
	dispatcher.newID = func() string { return "msg-1" }

	placedAt := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	confirmation := domain.OrderConfirmation{
		OrderID:         "ord_42",
		Lines:           []domain.OrderLine{{ProductID: "p1", Quantity: 2}},
		ShippingMethod:  "ground",
		SubtotalCents:   120000,
		ShippingCents:   4500,
		TaxCents:        8715,
		DiscountCents:   2000,
		GrandTotalCents: 131215,
		Currency:        "USD",
		PlacedAt:        placedAt,
	}

	if err := dispatcher.Send(ctx, "buyer@example.com", "ord_42", confirmation); err != nil {
		t.Fatalf("Send: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload receiptMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Email != "buyer@example.com" || payload.OrderID != "ord_42" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.GrandTotalCents != 131215 {
		t.Fatalf("unexpected grand total cents %d", payload.GrandTotalCents)
	}
	if payload.GrandTotal == "" {
		t.Fatal("expected formatted grand total")
	}
	if payload.LineCount != 1 {
		t.Fatalf("unexpected line count %d", payload.LineCount)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "ord_42" {
		t.Fatalf("expected order id attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["messageId"]; attr != "msg-1" {
		t.Fatalf("expected message id attribute, got %q", attr)
	}
}

func TestPubSubReceiptDispatcherRequiresEmail(t *testing.T) {
	dispatcher := &PubSubReceiptDispatcher{topic: &pubsub.Topic{}, marshal: json.Marshal, newID: func() string { return "x" }}
	if err := dispatcher.Send(context.Background(), "  ", "ord_1", domain.OrderConfirmation{}); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestFormatAmountFallsBackOnUnknownCurrency(t *testing.T) {
	if got := formatAmount(12345, "???"); got != "123.45" {
		t.Fatalf("unexpected fallback format %q", got)
	}
	if got := formatAmount(-50, "???"); got != "-0.50" {
		t.Fatalf("unexpected negative fallback format %q", got)
	}
}
