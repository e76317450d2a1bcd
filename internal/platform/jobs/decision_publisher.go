package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/automation/internal/platform/textutil"
	"github.com/hanko-field/automation/internal/services"
)

// PubSubDecisionPublisher fans automation decisions out to a Pub/Sub topic so downstream
// workers (mailers, analytics sinks) can act on them.
type PubSubDecisionPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDecisionPublisher wraps topic.
func NewPubSubDecisionPublisher(topic *pubsub.Topic) (*PubSubDecisionPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub decision publisher: topic is required")
	}
	return &PubSubDecisionPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishDecision publishes message and waits for the server id.
func (p *PubSubDecisionPublisher) PublishDecision(ctx context.Context, message services.DecisionMessage) (string, error) {
	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"decisionId": message.DecisionID,
		"event":      message.Event,
		"action":     message.Action,
		"userId":     message.UserID,
	})

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish decision: %w", err)
	}
	return id, nil
}

// Ping checks that the topic exists.
func (p *PubSubDecisionPublisher) Ping(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("topic %s not found", p.topic.ID())
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubDecisionPublisher) Stop() {
	p.topic.Stop()
}
