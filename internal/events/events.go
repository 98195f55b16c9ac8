package events

import "context"

const TopicOrdersPaid = "orders.paid"

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// HandlerFunc processes one message payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Subscriber runs handler for each message of topic until ctx is done.
type Subscriber interface {
	Consume(ctx context.Context, topic, groupID string, handler HandlerFunc)
}
