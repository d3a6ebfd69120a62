package sender

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/ingressd/internal/models"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []models.Event
	failures  int
	partial   int
}

func (p *fakePublisher) PublishEvents(ctx context.Context, events []models.Event) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		if p.partial > 0 && p.partial < len(events) {
			p.published = append(p.published, events[:p.partial]...)
			return p.partial, fmt.Errorf("collector rejected the batch tail")
		}
		return 0, fmt.Errorf("collector unavailable")
	}
	p.published = append(p.published, events...)
	return len(events), nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func event(kind models.EventKind) models.Event {
	return models.Event{Kind: kind, Timestamp: time.Now()}
}

func TestSender_PublishesFromChannel(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	events := make(chan models.Event, 4)
	controller := NewSenderController(events, publisher, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		controller.Run(ctx)
		close(done)
	}()

	events <- event(models.EventConnAccepted)
	events <- event(models.EventConnClosed)

	assert.Eventually(t, func() bool {
		return publisher.count() == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSender_RetriesThenQueuesUnsent(t *testing.T) {
	t.Parallel()

	// three failures exhaust the per-event retries, the event must land in
	// the unsent queue and survive until the next flush tick
	publisher := &fakePublisher{failures: 3}
	events := make(chan models.Event, 1)
	controller := NewSenderController(events, publisher, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Run(ctx)

	events <- event(models.EventHealthTransition)

	assert.Eventually(t, func() bool {
		controller.unsentGuard.Lock()
		defer controller.unsentGuard.Unlock()
		return len(controller.unsent) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, publisher.count())

	controller.sendUnsentEvents(ctx)
	assert.Equal(t, 1, publisher.count())
	assert.Empty(t, controller.unsent)
}

func TestSender_FlushKeepsUndoneTail(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{failures: 1, partial: 2}
	controller := NewSenderController(make(chan models.Event), publisher, time.Hour)
	controller.unsent = []models.Event{
		event(models.EventConnAccepted),
		event(models.EventConnClosed),
		event(models.EventConnRefused),
	}

	ctx := context.Background()
	controller.sendUnsentEvents(ctx)

	// first two landed, the rejected tail stays queued
	assert.Equal(t, 2, publisher.count())
	require.Len(t, controller.unsent, 1)
	assert.Equal(t, models.EventConnRefused, controller.unsent[0].Kind)

	controller.sendUnsentEvents(ctx)
	assert.Equal(t, 3, publisher.count())
	assert.Empty(t, controller.unsent)
}

func TestSender_FlushWithEmptyQueueIsNoop(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	controller := NewSenderController(make(chan models.Event), publisher, time.Hour)
	controller.sendUnsentEvents(context.Background())
	assert.Zero(t, publisher.count())
}
