package presence

import (
	"context"
	"fmt"

	"github.com/observer/collegecue/internal/pubsub"
)

const eventTypePresence = "presence.updated"

type presenceUpdate struct {
	Record  Record `json:"record"`
	Deleted bool   `json:"deleted,omitempty"`
}

type replicator struct {
	ps     pubsub.PubSub
	origin string
}

// Replicate shares this registry's updates with other instances over ps and
// applies theirs locally. origin identifies this instance; its own updates
// are ignored when they come back.
func (r *Registry) Replicate(ctx context.Context, ps pubsub.PubSub, origin string) (pubsub.Subscription, error) {
	sub, err := ps.Subscribe(ctx, pubsub.TopicPresence, pubsub.OfType(eventTypePresence, func(ctx context.Context, msg *pubsub.Message) {
		if msg.Origin == origin {
			return
		}

		var upd presenceUpdate
		if err := msg.Decode(&upd); err != nil {
			r.logger.Error("invalid presence update", "origin", msg.Origin, "error", err)
			return
		}
		r.apply(upd)
	}))
	if err != nil {
		return nil, fmt.Errorf("subscribe presence updates: %w", err)
	}

	r.writeMu.Lock()
	r.replicator = &replicator{ps: ps, origin: origin}
	r.writeMu.Unlock()

	return sub, nil
}

// apply merges a remote update into memory only; the originating instance
// has already written the store. Older updates never overwrite newer state.
func (r *Registry) apply(upd presenceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := upd.Record.Identity
	current, ok := r.records[id]
	if ok && upd.Record.LastSeen.Before(current.LastSeen) {
		return
	}

	if upd.Deleted {
		delete(r.records, id)
		return
	}
	r.records[id] = upd.Record
}

// replicate must be called with writeMu held
func (r *Registry) replicate(ctx context.Context, upd presenceUpdate) {
	if r.replicator == nil {
		return
	}
	msg, err := pubsub.NewMessage(pubsub.TopicPresence, eventTypePresence, upd)
	if err != nil {
		r.logger.Error("failed to encode presence update", "error", err)
		return
	}
	msg.Origin = r.replicator.origin

	if err := r.replicator.ps.Publish(ctx, msg.Topic, msg); err != nil {
		r.logger.Warn("failed to publish presence update", "identity", upd.Record.Identity, "error", err)
	}
}
