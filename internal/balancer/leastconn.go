package balancer

import (
	"github.com/edgegate/ingressd/internal/registry"
)

// LeastConn picks the healthy endpoint with the fewest in-flight connections,
// ties go through weighted round-robin over the tied candidates.
type LeastConn struct {
	tieBreak *WRR
}

func NewLeastConn() *LeastConn {
	return &LeastConn{
		tieBreak: NewWRR(),
	}
}

func (l *LeastConn) Pick(snapshot []*registry.Endpoint) (*registry.Endpoint, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoHealthyEndpoints
	}

	minActive := snapshot[0].ActiveConnections()
	for _, ep := range snapshot[1:] {
		if active := ep.ActiveConnections(); active < minActive {
			minActive = active
		}
	}

	tied := make([]*registry.Endpoint, 0, len(snapshot))
	for _, ep := range snapshot {
		if ep.ActiveConnections() == minActive {
			tied = append(tied, ep)
		}
	}
	if len(tied) == 1 {
		return tied[0], nil
	}
	return l.tieBreak.Pick(tied)
}
