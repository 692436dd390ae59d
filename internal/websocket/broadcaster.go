package websocket

import (
	"context"
	"fmt"

	"github.com/observer/collegecue/internal/pubsub"
)

// PubSubBroadcaster publishes group notifications so that every instance's
// hub delivers them to its local members. Used by the dispatcher as the live
// delivery channel.
type PubSubBroadcaster struct {
	ps pubsub.PubSub
}

// NewPubSubBroadcaster creates a new broadcaster that uses the PubSub system
func NewPubSubBroadcaster(ps pubsub.PubSub) *PubSubBroadcaster {
	return &PubSubBroadcaster{ps: ps}
}

// Broadcast publishes message for group on the notifications topic
func (b *PubSubBroadcaster) Broadcast(ctx context.Context, group, message string) error {
	msg, err := pubsub.NewMessage(pubsub.TopicNotifications, EventTypeNotification, GroupMessage{Group: group, Message: message})
	if err != nil {
		return err
	}

	if err := b.ps.Publish(ctx, msg.Topic, msg); err != nil {
		return fmt.Errorf("publish group message: %w", err)
	}
	return nil
}

// Attach subscribes the hub to the notifications topic so published group
// messages reach local members.
func (h *Hub) Attach(ctx context.Context, ps pubsub.PubSub) (pubsub.Subscription, error) {
	sub, err := ps.Subscribe(ctx, pubsub.TopicNotifications, pubsub.OfType(EventTypeNotification, func(ctx context.Context, msg *pubsub.Message) {
		var gm GroupMessage
		if err := msg.Decode(&gm); err != nil {
			h.logger.Error("invalid group message", "error", err)
			return
		}

		delivered := h.Broadcast(gm.Group, gm.Message)
		h.logger.Debug("relayed group message", "group", gm.Group, "delivered", delivered)
	}))
	if err != nil {
		return nil, fmt.Errorf("subscribe hub to notifications: %w", err)
	}
	return sub, nil
}
