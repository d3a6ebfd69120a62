package notifyer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/ingressd/internal/models"
)

func TestNotifier_DeliversInOrder(t *testing.T) {
	t.Parallel()

	n := NewNotifier(4)
	n.Notify(models.Event{Kind: models.EventConnAccepted})
	n.Notify(models.Event{Kind: models.EventConnClosed})

	assert.Equal(t, models.EventConnAccepted, (<-n.GetEventChan()).Kind)
	assert.Equal(t, models.EventConnClosed, (<-n.GetEventChan()).Kind)
}

func TestNotifier_BlockedProducerWaitsForConsumer(t *testing.T) {
	t.Parallel()

	n := NewNotifier(1)
	n.Notify(models.Event{Kind: models.EventConnAccepted})

	done := make(chan struct{})
	go func() {
		// buffer is full, the producer must wait for the consumer
		// instead of dropping the event
		n.Notify(models.Event{Kind: models.EventConnClosed})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("producer did not block on a full buffer")
	default:
	}

	assert.Equal(t, models.EventConnAccepted, (<-n.GetEventChan()).Kind)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer is still blocked after the consumer caught up")
	}
	assert.Equal(t, models.EventConnClosed, (<-n.GetEventChan()).Kind)
}

func TestNotifier_NotifyAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	n := NewNotifier(1)
	n.Close()
	n.Notify(models.Event{Kind: models.EventConnAccepted})

	_, ok := <-n.GetEventChan()
	require.False(t, ok)
}
