package sender

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/ingressd/internal/models"
)

// EventPublisher delivers a batch of observability events to the external
// collector, returning how many of them landed.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []models.Event) (int, error)
}

func NewSenderController(
	eventCh chan models.Event,
	publisher EventPublisher,
	retryTimeout time.Duration,
) *SenderControler {
	return &SenderControler{
		events:      eventCh,
		publisher:   publisher,
		ttlTicker:   time.NewTicker(retryTimeout),
		unsentGuard: &sync.Mutex{},
		unsent:      make([]models.Event, 0),
	}
}

// SenderControler drains the notifier channel into the publisher; events that
// fail their retries wait in the unsent queue for the next flush tick.
type SenderControler struct {
	events      chan models.Event
	ttlTicker   *time.Ticker
	publisher   EventPublisher
	unsentGuard *sync.Mutex
	unsent      []models.Event
}

func (c *SenderControler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.ttlTicker.C:
			if !ok {
				return
			}
			c.sendUnsentEvents(ctx)
		case event, ok := <-c.events:
			if !ok {
				return
			}
			err := retry.Do(
				func() error {
					_, err := c.publisher.PublishEvents(ctx, []models.Event{event})
					return err
				},
				retry.Attempts(3),
			)
			if err != nil {
				log.Error().Err(err).Msg("failed to publish event, put it into unsent queue")
				c.unsentGuard.Lock()
				c.unsent = append(c.unsent, event)
				c.unsentGuard.Unlock()
			}
		}
	}
}

func (c *SenderControler) sendUnsentEvents(ctx context.Context) {
	c.unsentGuard.Lock()
	defer c.unsentGuard.Unlock()

	if len(c.unsent) == 0 {
		return
	}
	done, err := c.publisher.PublishEvents(ctx, c.unsent)
	if err != nil {
		log.Warn().Err(err).Msgf("failed to flush unsent events: done %d", done)

		newUnsent := make([]models.Event, len(c.unsent)-done)
		copy(newUnsent, c.unsent[done:])
		c.unsent = newUnsent
		return
	}
	c.unsent = c.unsent[:0]
}
