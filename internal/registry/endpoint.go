package registry

import (
	"sync/atomic"
	"time"

	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

// Endpoint is one proxy target. All mutation goes through the owning group's
// lock inside the Registry, readers use the atomic fields.
type Endpoint struct {
	group models.GroupID
	addr  healthcheck.TargetAddr

	weight atomic.Uint32
	state  atomic.Int32
	active atomic.Int64

	// guarded by the owning group's lock
	protocol      models.Protocol
	curSuccess    uint8
	curFailures   uint8
	lastProbeErr  error
	drainDeadline time.Time
	drainTimer    *time.Timer
	registeredAt  time.Time
}

func (e *Endpoint) Group() models.GroupID {
	return e.group
}

func (e *Endpoint) Addr() healthcheck.TargetAddr {
	return e.addr
}

func (e *Endpoint) Weight() uint32 {
	return e.weight.Load()
}

func (e *Endpoint) State() models.HealthState {
	return models.HealthState(e.state.Load())
}

func (e *Endpoint) ActiveConnections() int64 {
	return e.active.Load()
}
