package balancer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/internal/registry"
)

var ErrNoHealthyEndpoints = errors.New("no healthy endpoints")

type Kind string

const (
	WeightedRoundRobin Kind = "wrr"
	LeastConnections   Kind = "least_conn"
)

// Policy picks one endpoint from a healthy snapshot. The snapshot may change
// between calls, the contract is "some currently-healthy endpoint", not
// strict fairness under churn.
type Policy interface {
	Pick(snapshot []*registry.Endpoint) (*registry.Endpoint, error)
}

func NewPolicy(kind Kind) (Policy, error) {
	switch kind {
	case WeightedRoundRobin, "":
		return NewWRR(), nil
	case LeastConnections:
		return NewLeastConn(), nil
	}
	return nil, fmt.Errorf("unknown balancing policy: %s", kind)
}

// Balancer holds one policy per listener group over the registry's healthy
// snapshots.
type Balancer struct {
	registry *registry.Registry

	mu       sync.Mutex
	policies map[models.GroupID]Policy
}

func New(reg *registry.Registry) *Balancer {
	return &Balancer{
		registry: reg,
		policies: make(map[models.GroupID]Policy),
	}
}

func (b *Balancer) SetPolicy(group models.GroupID, kind Kind) error {
	pol, err := NewPolicy(kind)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.policies[group] = pol
	b.mu.Unlock()
	return nil
}

func (b *Balancer) policy(group models.GroupID) Policy {
	b.mu.Lock()
	defer b.mu.Unlock()
	pol, ok := b.policies[group]
	if !ok {
		pol = NewWRR()
		b.policies[group] = pol
	}
	return pol
}

func (b *Balancer) Select(group models.GroupID) (*registry.Endpoint, error) {
	return b.policy(group).Pick(b.registry.SnapshotHealthy(group))
}
