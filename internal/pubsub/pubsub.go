// Package pubsub relays notification and presence traffic between instances.
// A single instance uses the in-memory implementation; a cluster uses Redis.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Topics shared by every instance
const (
	TopicNotifications = "notifications"
	TopicPresence      = "presence"
)

// Message is the envelope carried on a topic. Origin names the publishing
// instance so subscribers can skip their own traffic.
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage encodes v as the payload of a message of type typ on topic.
func NewMessage(topic, typ string, v any) (*Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return &Message{Topic: topic, Type: typ, Payload: payload}, nil
}

// Decode unmarshals the payload into v
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Handler is a callback for processing messages
type Handler func(ctx context.Context, msg *Message)

// Subscription is an active subscription. Unsubscribe may be called more
// than once.
type Subscription interface {
	Unsubscribe() error
}

// PubSub is implemented by every transport. Implementations are safe for
// concurrent use.
type PubSub interface {
	// Publish sends msg to every subscriber of topic.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers handler for topic. A handler sees messages one at
	// a time and in publish order, so it must not block for long.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Health reports whether the transport can still carry messages.
	Health(ctx context.Context) error

	Close() error
}

// OfType wraps h so that it only sees messages of type typ
func OfType(typ string, h Handler) Handler {
	return func(ctx context.Context, msg *Message) {
		if msg.Type == typ {
			h(ctx, msg)
		}
	}
}

func validate(topic string, msg *Message) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if msg == nil {
		return ErrNilMessage
	}
	return nil
}
