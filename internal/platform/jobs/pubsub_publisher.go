package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/idpfunnel/api/internal/services"
)

// PubSubFulfillmentPublisher publishes fulfillment events to a Pub/Sub topic.
type PubSubFulfillmentPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubFulfillmentPublisher constructs a Pub/Sub backed fulfillment event publisher.
func NewPubSubFulfillmentPublisher(topic *pubsub.Topic) (*PubSubFulfillmentPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub fulfillment publisher: topic is required")
	}
	return &PubSubFulfillmentPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishFulfillmentEvent enqueues an event message on the configured topic.
func (p *PubSubFulfillmentPublisher) PublishFulfillmentEvent(ctx context.Context, message services.FulfillmentEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub fulfillment publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal fulfillment event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", message.Type)
	setAttr(attrs, "applicationId", message.ApplicationID)
	setAttr(attrs, "paymentIntentId", message.PaymentIntentID)
	setAttr(attrs, "country", message.Country)
	setAttr(attrs, "status", message.Status)
	attrs["relayed"] = strconv.FormatBool(message.Relayed)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(p.topic, message.ApplicationID),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish fulfillment event: %w", err)
	}
	return id, nil
}

// orderingKey is only set on ordered topics; Publish rejects keys otherwise.
func orderingKey(topic *pubsub.Topic, applicationID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(applicationID)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
