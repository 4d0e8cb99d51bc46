// Package notify fans engine events out to interested consumers.
//
// It wraps a watermill gochannel pub/sub: the engine's dispatcher publishes
// every event as a JSON message on a single topic, and any number of
// consumers subscribe independently. Delivery is best-effort and in-process;
// durable delivery is a collaborator concern outside this core.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"gridtrade/pkg/types"
)

// Topic carries every engine event.
const Topic = "gridtrade.events"

// Notifier publishes engine events over an in-process pub/sub.
type Notifier struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// New creates a notifier whose subscribers buffer up to bufferSize messages.
func New(logger *slog.Logger, bufferSize int) *Notifier {
	log := logger.With("component", "notify")
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(bufferSize)},
		watermill.NewSlogLogger(log),
	)
	return &Notifier{pubsub: pubsub, logger: log}
}

// Publish sends one event to every subscriber. The payload is the event's
// JSON form; type and identifiers ride in the metadata so consumers can
// route without unmarshalling.
func (n *Notifier) Publish(evt types.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(evt.Type))
	if evt.OrderID != "" {
		msg.Metadata.Set("order_id", evt.OrderID)
	}
	if evt.ContractID != "" {
		msg.Metadata.Set("contract_id", evt.ContractID)
	}

	if err := n.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of event messages. The subscription ends when
// ctx is cancelled or the notifier closes.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return n.pubsub.Subscribe(ctx, Topic)
}

// Close shuts the pub/sub down, ending all subscriptions.
func (n *Notifier) Close() error {
	return n.pubsub.Close()
}

// Decode unmarshals one notification message back into an event.
func Decode(msg *message.Message) (types.Event, error) {
	var evt types.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return types.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return evt, nil
}
