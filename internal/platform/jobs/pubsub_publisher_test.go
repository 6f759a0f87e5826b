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

	"github.com/lumastore/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.payment.settled",
		OrderID:        "ord_test",
		OrderNumber:    "LM-2025-000042",
		PreviousStatus: "pending_payment",
		CurrentStatus:  "paid",
		PaymentStatus:  "paid",
		OccurredAt:     occurredAt,
		Metadata:       map[string]any{"provider": "stripe"},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != event.Type || payload.OrderID != event.OrderID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.CurrentStatus != "paid" || payload.PreviousStatus != "pending_payment" {
		t.Fatalf("status fields not carried: %#v", payload)
	}

	attrs := messages[0].Attributes
	if attrs["type"] != "order.payment.settled" {
		t.Fatalf("expected type attribute, got %q", attrs["type"])
	}
	if attrs["orderId"] != "ord_test" || attrs["orderNumber"] != "LM-2025-000042" {
		t.Fatalf("routing attributes missing: %#v", attrs)
	}
	if attrs["paymentStatus"] != "paid" {
		t.Fatalf("expected paymentStatus attribute, got %q", attrs["paymentStatus"])
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
