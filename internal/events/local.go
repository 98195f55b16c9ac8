package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/logger"
)

// LocalBroker fans messages out to in-process consumers. Each delivery runs
// on its own goroutine so publishers never wait on a slow consumer.
type LocalBroker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]HandlerFunc
	wg       sync.WaitGroup
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[string]map[int]HandlerFunc)}
}

func (b *LocalBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	b.mu.RLock()
	hs := make([]HandlerFunc, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	payload := append([]byte(nil), value...)
	for _, h := range hs {
		b.wg.Add(1)
		go func(h HandlerFunc) {
			defer b.wg.Done()
			if err := h(context.WithoutCancel(ctx), payload); err != nil {
				logger.Log.Error("handle message",
					zap.String("topic", topic),
					zap.String("key", key),
					zap.Error(err),
				)
			}
		}(h)
	}
	return nil
}

// Consume registers handler and blocks until ctx is done. groupID is
// ignored: every local consumer gets every message.
func (b *LocalBroker) Consume(ctx context.Context, topic, groupID string, handler HandlerFunc) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]HandlerFunc)
	}
	b.handlers[topic][id] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers[topic], id)
	b.mu.Unlock()
}

// Subscribed reports how many consumers listen on topic.
func (b *LocalBroker) Subscribed(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Close waits for in-flight deliveries.
func (b *LocalBroker) Close() error {
	b.wg.Wait()
	return nil
}
