package notifyer

import (
	"sync/atomic"

	"github.com/edgegate/ingressd/internal/models"
)

// ChanNotifyer fans observability events out to the sender through a buffered
// channel. Producers block only when the buffer is full and the sender is
// alive, never after Close.
type ChanNotifyer struct {
	eventChan chan models.Event
	closed    atomic.Bool
	close     chan struct{}
}

func NewNotifier(buf int) *ChanNotifyer {
	return &ChanNotifyer{
		eventChan: make(chan models.Event, buf),
		close:     make(chan struct{}),
	}
}

func (n *ChanNotifyer) Notify(event models.Event) {
	if n.closed.Load() {
		return
	}
	select {
	case n.eventChan <- event:
	case <-n.close:
	default:
		if n.closed.Load() {
			return
		}
		// sender is behind, wait for it rather than lose the event
		select {
		case n.eventChan <- event:
		case <-n.close:
		}
	}
}

func (n *ChanNotifyer) GetEventChan() chan models.Event {
	return n.eventChan
}

func (n *ChanNotifyer) Close() {
	n.closed.Store(true)
	close(n.close)
	close(n.eventChan)
}
