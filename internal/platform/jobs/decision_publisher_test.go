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

	"github.com/hanko-field/automation/internal/services"
)

func newTestClient(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = srv.Close()
	})
	return srv, client
}

func TestPubSubDecisionPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t, ctx)

	topic, err := client.CreateTopic(ctx, "automation-decisions")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubDecisionPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDecisionPublisher: %v", err)
	}
	defer publisher.Stop()

	msg := services.DecisionMessage{
		DecisionID: "01HZX3N6V8Q2K7G5T4M1R9D0AB",
		Event:      "ORDER_SUCCESS",
		Action:     "send_invoice send_vip_offer",
		Actions:    []string{"send_invoice", "send_vip_offer"},
		OrderID:    "ORD-1001",
		Context:    "order_success_repeat_customer",
		DecidedAt:  time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if _, err := publisher.PublishDecision(ctx, msg); err != nil {
		t.Fatalf("PublishDecision: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.DecisionMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.DecisionID != msg.DecisionID || len(payload.Actions) != 2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["event"] != "ORDER_SUCCESS" || attrs["action"] != "send_invoice send_vip_offer" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if _, ok := attrs["userId"]; ok {
		t.Fatalf("empty userId attribute should be omitted")
	}
}

func TestPubSubDecisionPublisherPing(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t, ctx)

	topic, err := client.CreateTopic(ctx, "automation-decisions")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, _ := NewPubSubDecisionPublisher(topic)
	if err := publisher.Ping(ctx); err != nil {
		t.Fatalf("expected existing topic to pass ping: %v", err)
	}

	missing, _ := NewPubSubDecisionPublisher(client.Topic("absent"))
	if err := missing.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure for absent topic")
	}
}

func TestNewPubSubDecisionPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubDecisionPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
