package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ems-pm/project/internal/messaging"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handler func(payload []byte)

type Subscription interface {
	Unsubscribe() error
}

// Broker carries envelopes from publishers to the push gateways that hold
// the subscribers' sessions. Nothing is persisted: a topic without a live
// subscription drops what is published to it.
type Broker interface {
	Publisher
	Subscribe(topic string, handle Handler) (Subscription, error)
}

// LocalBroker delivers in-process. It suits a single task-api process and tests.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: map[string]map[uint64]Handler{}}
}

func (b *LocalBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *LocalBroker) Subscribe(topic string, handle Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = map[uint64]Handler{}
	}
	b.subs[topic][id] = handle
	return localSubscription{broker: b, topic: topic, id: id}, nil
}

type localSubscription struct {
	broker *LocalBroker
	topic  string
	id     uint64
}

func (s localSubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subs[s.topic], s.id)
	if len(s.broker.subs[s.topic]) == 0 {
		delete(s.broker.subs, s.topic)
	}
	return nil
}

// NATSBroker maps topics onto core NATS subjects (no JetStream: at-most-once).
type NATSBroker struct {
	Conn *nats.Conn
}

func (b NATSBroker) Publish(_ context.Context, topic string, payload []byte) error {
	if b.Conn == nil {
		return fmt.Errorf("nats connection is nil")
	}
	return b.Conn.Publish(messaging.NATSSubject(topic), payload)
}

func (b NATSBroker) Subscribe(topic string, handle Handler) (Subscription, error) {
	if b.Conn == nil {
		return nil, fmt.Errorf("nats connection is nil")
	}
	sub, err := b.Conn.Subscribe(messaging.NATSSubject(topic), func(msg *nats.Msg) {
		handle(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RedisBroker maps topics onto redis pub/sub channels. All topics share one
// PubSub connection and a single reader dispatches to the channel handlers.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger

	// subMu serializes SUBSCRIBE/UNSUBSCRIBE so the handler count and the
	// server-side subscription agree.
	subMu sync.Mutex
	ps    *redis.PubSub

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, logger: logger, handlers: map[string]map[uint64]Handler{}}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, messaging.RedisChannel(topic), payload).Err()
}

func (b *RedisBroker) Subscribe(topic string, handle Handler) (Subscription, error) {
	channel := messaging.RedisChannel(topic)

	b.subMu.Lock()
	defer b.subMu.Unlock()

	if b.ps == nil {
		b.ps = b.client.Subscribe(context.Background())
		go b.dispatch(b.ps.Channel())
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	first := len(b.handlers[channel]) == 0
	if first {
		b.handlers[channel] = map[uint64]Handler{}
	}
	b.handlers[channel][id] = handle
	b.mu.Unlock()

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), redisCommandTimeout)
		defer cancel()
		if err := b.ps.Subscribe(ctx, channel); err != nil {
			b.removeHandler(channel, id)
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return &redisSubscription{broker: b, channel: channel, id: id}, nil
}

const redisCommandTimeout = 3 * time.Second

func (b *RedisBroker) dispatch(messages <-chan *redis.Message) {
	for msg := range messages {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.handlers[msg.Channel]))
		for _, h := range b.handlers[msg.Channel] {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h([]byte(msg.Payload))
		}
	}
	b.logger.Debug("redis pubsub reader stopped")
}

// removeHandler reports whether channel has no handlers left.
func (b *RedisBroker) removeHandler(channel string, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers[channel], id)
	if len(b.handlers[channel]) > 0 {
		return false
	}
	delete(b.handlers, channel)
	return true
}

func (b *RedisBroker) unsubscribe(channel string, id uint64) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if !b.removeHandler(channel, id) || b.ps == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisCommandTimeout)
	defer cancel()
	return b.ps.Unsubscribe(ctx, channel)
}

// Close drops the shared PubSub connection. The client is left open.
func (b *RedisBroker) Close() error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.ps == nil {
		return nil
	}
	err := b.ps.Close()
	b.ps = nil
	return err
}

type redisSubscription struct {
	broker  *RedisBroker
	channel string
	id      uint64
	once    sync.Once
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.broker.unsubscribe(s.channel, s.id) })
	return err
}
