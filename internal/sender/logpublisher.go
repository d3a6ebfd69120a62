package sender

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/ingressd/internal/models"
)

// LogPublisher is the fallback collector: events land in the structured log.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) PublishEvents(ctx context.Context, events []models.Event) (int, error) {
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		log.Info().RawJSON("event", payload).Msgf("observability event: %s", event.Kind)
	}
	return len(events), nil
}
