package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces topics on a shared Redis
const channelPrefix = "collegecue:"

// receiveBuffer bounds messages queued between Redis and a slow handler
const receiveBuffer = 256

func channelFor(topic string) string {
	return channelPrefix + topic
}

// RedisPubSub carries messages between instances over Redis pub/sub. Every
// instance, the publisher included, receives each message.
type RedisPubSub struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

type redisSubscription struct {
	ps     *RedisPubSub
	topic  string
	conn   *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.Close()
		s.ps.mu.Lock()
		delete(s.ps.subs, s)
		s.ps.mu.Unlock()
	})
	return err
}

// NewRedisPubSub connects to url (redis://[:password@]host:port[/db]) and
// verifies it with a ping.
func NewRedisPubSub(ctx context.Context, url string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger := slog.Default().With("component", "pubsub", "backend", "redis")
	logger.Info("connected to redis", "addr", opts.Addr, "db", opts.DB)

	return &RedisPubSub{
		client: client,
		logger: logger,
		subs:   make(map[*redisSubscription]struct{}),
	}, nil
}

func (ps *RedisPubSub) isClosed() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.closed
}

// Publish encodes msg and sends it on the topic's channel
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	if err := validate(topic, msg); err != nil {
		return err
	}
	if ps.isClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	receivers, err := ps.client.Publish(ctx, channelFor(topic), data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	ps.logger.Debug("published", "topic", topic, "msg_type", msg.Type, "receivers", receivers)
	return nil
}

// Subscribe opens a dedicated Redis subscription for topic and feeds handler
// from a single goroutine.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if ps.isClosed() {
		return nil, ErrClosed
	}

	conn := ps.client.Subscribe(ctx, channelFor(topic))
	if _, err := conn.Receive(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{ps: ps, topic: topic, conn: conn, cancel: cancel}

	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil, ErrClosed
	}
	ps.subs[sub] = struct{}{}
	ps.mu.Unlock()

	go ps.receive(runCtx, sub, handler)

	ps.logger.Debug("subscribed", "topic", topic)
	return sub, nil
}

// receive runs until the subscription is closed
func (ps *RedisPubSub) receive(ctx context.Context, sub *redisSubscription, handler Handler) {
	for raw := range sub.conn.Channel(redis.WithChannelSize(receiveBuffer)) {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			ps.logger.Error("dropping undecodable message", "topic", sub.topic, "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		handler(ctx, &msg)
	}
}

// Health pings the server
func (ps *RedisPubSub) Health(ctx context.Context) error {
	if ps.isClosed() {
		return ErrClosed
	}
	return ps.client.Ping(ctx).Err()
}

// Close ends every subscription and the client
func (ps *RedisPubSub) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	subs := make([]*redisSubscription, 0, len(ps.subs))
	for sub := range ps.subs {
		subs = append(subs, sub)
	}
	ps.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	ps.logger.Info("redis pubsub closed")
	return nil
}

// SubscriberCount returns this instance's subscribers for topic
func (ps *RedisPubSub) SubscriberCount(topic string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	n := 0
	for sub := range ps.subs {
		if sub.topic == topic {
			n++
		}
	}
	return n
}
