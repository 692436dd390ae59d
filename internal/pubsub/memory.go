package pubsub

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

type memorySubscription struct {
	ps      *MemoryPubSub
	topic   string
	handler Handler
	once    sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() { s.ps.remove(s) })
	return nil
}

// MemoryPubSub delivers messages inside one process. Handlers run on the
// publisher's goroutine in subscription order, so Publish returns only after
// every handler has seen the message.
type MemoryPubSub struct {
	mu     sync.RWMutex
	topics map[string][]*memorySubscription
	closed bool
	logger *slog.Logger
}

// NewMemoryPubSub creates a process-local transport
func NewMemoryPubSub(logger *slog.Logger) *MemoryPubSub {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryPubSub{
		topics: make(map[string][]*memorySubscription),
		logger: logger.With("component", "pubsub", "backend", "memory"),
	}
}

// Publish runs every current subscriber of topic. A panicking handler is
// logged and does not stop delivery to the others.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	if err := validate(topic, msg); err != nil {
		return err
	}

	ps.mu.RLock()
	if ps.closed {
		ps.mu.RUnlock()
		return ErrClosed
	}
	subs := slices.Clone(ps.topics[topic])
	ps.mu.RUnlock()

	if len(subs) == 0 {
		ps.logger.Debug("no subscribers", "topic", topic, "msg_type", msg.Type)
		return nil
	}

	for _, sub := range subs {
		ps.deliver(ctx, sub, msg)
	}
	return nil
}

func (ps *MemoryPubSub) deliver(ctx context.Context, sub *memorySubscription, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			ps.logger.Error("subscriber panicked", "topic", sub.topic, "msg_type", msg.Type, "panic", r)
		}
	}()
	sub.handler(ctx, msg)
}

// Subscribe registers handler for topic
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{ps: ps, topic: topic, handler: handler}
	ps.topics[topic] = append(ps.topics[topic], sub)
	return sub, nil
}

func (ps *MemoryPubSub) remove(sub *memorySubscription) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := slices.DeleteFunc(ps.topics[sub.topic], func(s *memorySubscription) bool { return s == sub })
	if len(subs) == 0 {
		delete(ps.topics, sub.topic)
		return
	}
	ps.topics[sub.topic] = subs
}

// Health fails once the transport is closed
func (ps *MemoryPubSub) Health(ctx context.Context) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every subscription. Later calls fail with ErrClosed.
func (ps *MemoryPubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.closed = true
	clear(ps.topics)
	return nil
}

// SubscriberCount returns the number of subscribers for topic
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics[topic])
}

// TopicCount returns the number of topics with at least one subscriber
func (ps *MemoryPubSub) TopicCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics)
}
