package sender

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"github.com/edgegate/ingressd/internal/models"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(addr string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(addr),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) PublishEvents(ctx context.Context, events []models.Event) (int, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal event %s: %w", event.Kind, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(event.Kind),
			Value: payload,
		})
	}
	err := p.writer.WriteMessages(ctx, msgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to write events: %w", err)
	}
	return len(events), nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
