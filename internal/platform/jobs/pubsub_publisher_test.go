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

	"github.com/idpfunnel/api/internal/services"
)

func TestPubSubFulfillmentPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "fulfillment-requests")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubFulfillmentPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubFulfillmentPublisher: %v", err)
	}

	msg := services.FulfillmentEventMessage{
		Type:            services.FulfillmentEventRequested,
		ApplicationID:   "app_test",
		PaymentIntentID: "pi_test",
		Country:         "GB",
		AmountMinor:     8405,
		Currency:        "USD",
		Status:          "fulfilled",
		Relayed:         true,
		OccurredAt:      time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishFulfillmentEvent(ctx, msg); err != nil {
		t.Fatalf("PublishFulfillmentEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.FulfillmentEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ApplicationID != msg.ApplicationID || payload.AmountMinor != 8405 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["applicationId"]; attr != "app_test" {
		t.Fatalf("expected application id attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["relayed"]; attr != "true" {
		t.Fatalf("expected relayed attribute, got %q", attr)
	}
}

func TestNewPubSubFulfillmentPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubFulfillmentPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
