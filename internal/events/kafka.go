package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	kafkaGo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/logger"
)

type KafkaBroker struct {
	brokers []string
	writer  *kafkaGo.Writer
	topics  map[string]string
}

func NewKafkaBroker(brokers []string) *KafkaBroker {
	return &KafkaBroker{
		brokers: brokers,
		writer: &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(brokers...),
			Balancer:               &kafkaGo.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		topics: make(map[string]string),
	}
}

// MapTopic routes a logical topic such as TopicOrdersPaid to a cluster topic
// name. Call it before Publish or Consume.
func (k *KafkaBroker) MapTopic(logical, physical string) {
	if physical != "" {
		k.topics[logical] = physical
	}
}

func (k *KafkaBroker) resolve(topic string) string {
	if t, ok := k.topics[topic]; ok {
		return t
	}
	return topic
}

func (k *KafkaBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	topic = k.resolve(topic)
	err := k.writer.WriteMessages(ctx, kafkaGo.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafkaGo.Header{
			{Key: "message-id", Value: []byte(uuid.NewString())},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaBroker) Consume(ctx context.Context, topic, groupID string, handler HandlerFunc) {
	topic = k.resolve(topic)
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers: k.brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Log.Info("consumer shutting down", zap.String("topic", topic))
				return
			}
			logger.Log.Error("read message", zap.String("topic", topic), zap.Error(err))
			continue
		}
		if err := handler(ctx, msg.Value); err != nil {
			logger.Log.Error("handle message",
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (k *KafkaBroker) Close() error {
	return k.writer.Close()
}
