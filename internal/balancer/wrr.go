package balancer

import (
	"sync"

	"github.com/edgegate/ingressd/internal/registry"
)

// WRR is smooth weighted round-robin: every pick raises each candidate's
// running score by its weight and charges the winner the total, so over any
// window that is a multiple of the total weight each endpoint wins exactly
// weight times. First-seen wins ties, which is registration order because
// snapshots keep it.
type WRR struct {
	mu      sync.Mutex
	current map[string]int64
}

func NewWRR() *WRR {
	return &WRR{
		current: make(map[string]int64),
	}
}

func (w *WRR) Pick(snapshot []*registry.Endpoint) (*registry.Endpoint, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoHealthyEndpoints
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var (
		total    int64
		chosen   *registry.Endpoint
		maxScore int64
		existing = make(map[string]struct{}, len(snapshot))
	)
	for _, ep := range snapshot {
		total += int64(ep.Weight())
	}
	for _, ep := range snapshot {
		key := ep.Addr().String()
		existing[key] = struct{}{}
		w.current[key] += int64(ep.Weight())
		if chosen == nil || w.current[key] > maxScore {
			maxScore = w.current[key]
			chosen = ep
		}
	}
	w.current[chosen.Addr().String()] -= total

	// drop bookkeeping for endpoints that left the pool
	for key := range w.current {
		if _, ok := existing[key]; !ok {
			delete(w.current, key)
		}
	}
	return chosen, nil
}
