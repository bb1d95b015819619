package host

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Bus is an in-process topic/subscriber event bus. It backs the Local
// host's Listen implementation and carries the push channels used for
// model output streaming.
//
// Delivery is synchronous and in subscription order, so a subscriber
// never observes a stale snapshot across a suspension point. Handlers
// must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[string]map[int]func(payload json.RawMessage)
	logger *zap.SugaredLogger
}

// NewBus creates an empty event bus.
func NewBus(logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{
		topics: make(map[string]map[int]func(payload json.RawMessage)),
		logger: logger,
	}
}

// Listen registers handler for topic. The returned disposer removes the
// subscription; calling it twice is a no-op.
func (b *Bus) Listen(ctx context.Context, topic string, handler func(payload json.RawMessage)) (Disposer, error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	subscribers, ok := b.topics[topic]
	if !ok {
		subscribers = make(map[int]func(payload json.RawMessage))
		b.topics[topic] = subscribers
	}
	subscribers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subscribers, ok := b.topics[topic]; ok {
				delete(subscribers, id)
				if len(subscribers) == 0 {
					delete(b.topics, topic)
				}
			}
		})
	}, nil
}

// Publish delivers payload to every current subscriber of topic.
func (b *Bus) Publish(topic string, payload json.RawMessage) {
	b.mu.RLock()
	handlers := make([]func(payload json.RawMessage), 0, len(b.topics[topic]))
	for _, handler := range b.topics[topic] {
		handlers = append(handlers, handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(payload)
	}
}

// PublishValue marshals value and publishes it. Marshal failures are
// logged and dropped; a push channel never sees a half-encoded payload.
func (b *Bus) PublishValue(topic string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		b.logger.Warnw("Dropping unencodable event", "topic", topic, "error", err)
		return
	}
	b.Publish(topic, payload)
}

// SubscriberCount reports the number of subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
