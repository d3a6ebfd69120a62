package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/ingressd/internal/metrics"
	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

type Notifier interface {
	Notify(models.Event)
}

// ProbePlanner is how the registry drives the prober: endpoints get a probe
// cycle on registration and lose it when they are purged.
type ProbePlanner interface {
	Add(group models.GroupID, target healthcheck.TargetAddr, settings healthcheck.Settings) error
	Remove(group models.GroupID, target healthcheck.TargetAddr) bool
}

type GroupSettings struct {
	Health       healthcheck.Settings
	DrainTimeout time.Duration
}

type group struct {
	id       models.GroupID
	settings GroupSettings

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	order     []*Endpoint
	healthy   atomic.Pointer[[]*Endpoint]
}

// Registry owns every Endpoint exclusively. There is one logical lock per
// listener group, healthy snapshots are published by pointer swap so policy
// reads never block registration or health updates.
type Registry struct {
	mu     sync.Mutex
	groups map[models.GroupID]*group

	planner  ProbePlanner
	notifier Notifier
	metrics  metrics.Metrics
	now      func() time.Time
}

func New(notifier Notifier, m metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Registry{
		groups:   make(map[models.GroupID]*group),
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// SetPlanner must be called before any membership feed starts.
func (r *Registry) SetPlanner(p ProbePlanner) {
	r.planner = p
}

func (r *Registry) AddGroup(id models.GroupID, settings GroupSettings) error {
	if err := settings.Health.Validate(); err != nil {
		return fmt.Errorf("invalid health settings for group %s: %w", id, err)
	}
	if settings.DrainTimeout <= 0 {
		settings.DrainTimeout = 30 * time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[id]; ok {
		return fmt.Errorf("listener group %s already exists", id)
	}
	r.groups[id] = &group{
		id:        id,
		settings:  settings,
		endpoints: make(map[string]*Endpoint),
	}
	return nil
}

func (r *Registry) group(id models.GroupID) *group {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[id]
}

func (r *Registry) GroupIDs() []models.GroupID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]models.GroupID, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	return ids
}

// Register is an idempotent upsert: a known address gets its weight and
// protocol refreshed, a draining one is revived into Unknown and probed again.
func (r *Registry) Register(spec models.EndpointSpec) error {
	g := r.group(spec.Group)
	if g == nil {
		return fmt.Errorf("unknown listener group %s", spec.Group)
	}
	if spec.Weight == 0 {
		spec.Weight = 1
	}
	key := spec.Addr.String()

	g.mu.Lock()
	defer g.mu.Unlock()

	if ep, ok := g.endpoints[key]; ok {
		ep.weight.Store(spec.Weight)
		ep.protocol = spec.Protocol
		if ep.State() == models.HealthDraining {
			r.reviveLocked(g, ep)
		}
		return nil
	}

	ep := &Endpoint{
		group:        spec.Group,
		addr:         spec.Addr,
		protocol:     spec.Protocol,
		registeredAt: r.now(),
	}
	ep.weight.Store(spec.Weight)
	ep.state.Store(int32(models.HealthUnknown))
	g.endpoints[key] = ep
	g.order = append(g.order, ep)

	log.Info().Msgf("registered endpoint %s in group %s with weight %d", key, spec.Group, spec.Weight)
	r.metrics.Gauge(fmt.Sprintf("registry.%s.endpoints", spec.Group), len(g.endpoints))

	if r.planner != nil {
		if err := r.planner.Add(spec.Group, spec.Addr, g.settings.Health); err != nil {
			log.Error().Err(err).Msgf("failed to plan probe cycle for %s", key)
		}
	}
	return nil
}

func (r *Registry) reviveLocked(g *group, ep *Endpoint) {
	if ep.drainTimer != nil {
		ep.drainTimer.Stop()
		ep.drainTimer = nil
	}
	ep.curSuccess = 0
	ep.curFailures = 0
	ep.state.Store(int32(models.HealthUnknown))
	ep.drainDeadline = time.Time{}
	r.rebuildHealthyLocked(g)
	log.Info().Msgf("revived draining endpoint %s in group %s", ep.addr, g.id)
}

// Deregister marks the endpoint Draining and removes it from the healthy
// snapshot immediately. The entry is purged once its last connection drains
// or the drain timeout fires, whichever comes first.
func (r *Registry) Deregister(groupID models.GroupID, addr healthcheck.TargetAddr) {
	g := r.group(groupID)
	if g == nil {
		return
	}
	key := addr.String()

	g.mu.Lock()
	ep, ok := g.endpoints[key]
	if !ok || ep.State() == models.HealthDraining {
		g.mu.Unlock()
		return
	}
	oldState := ep.State()
	ep.state.Store(int32(models.HealthDraining))
	ep.drainDeadline = r.now().Add(g.settings.DrainTimeout)
	r.rebuildHealthyLocked(g)

	if ep.ActiveConnections() == 0 {
		r.purgeLocked(g, ep)
		g.mu.Unlock()
	} else {
		ep.drainTimer = time.AfterFunc(g.settings.DrainTimeout, func() {
			g.mu.Lock()
			r.purgeLocked(g, ep)
			g.mu.Unlock()
		})
		g.mu.Unlock()
	}
	r.emitTransition(groupID, addr, oldState, models.HealthDraining, nil)
}

func (r *Registry) purgeLocked(g *group, ep *Endpoint) {
	key := ep.addr.String()
	if g.endpoints[key] != ep {
		return
	}
	if ep.drainTimer != nil {
		ep.drainTimer.Stop()
		ep.drainTimer = nil
	}
	delete(g.endpoints, key)
	for i, e := range g.order {
		if e == ep {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	r.rebuildHealthyLocked(g)
	r.metrics.Gauge(fmt.Sprintf("registry.%s.endpoints", g.id), len(g.endpoints))
	log.Info().Msgf("purged endpoint %s from group %s", key, g.id)

	if r.planner != nil {
		r.planner.Remove(g.id, ep.addr)
	}
}

// UpdateHealth applies one probe outcome with hysteresis. Unknown addresses
// are a no-op: the endpoint may have been purged while the probe was in
// flight, which is a benign race.
func (r *Registry) UpdateHealth(groupID models.GroupID, addr healthcheck.TargetAddr, success bool, probeErr error) {
	g := r.group(groupID)
	if g == nil {
		return
	}

	var (
		transitioned bool
		oldState     models.HealthState
		newState     models.HealthState
	)

	g.mu.Lock()
	ep, ok := g.endpoints[addr.String()]
	if !ok {
		g.mu.Unlock()
		return
	}
	oldState = ep.State()
	ep.lastProbeErr = probeErr

	if success {
		ep.curFailures = 0
		if ep.curSuccess < ^uint8(0) {
			ep.curSuccess++
		}
		if oldState != models.HealthHealthy && oldState != models.HealthDraining &&
			ep.curSuccess >= g.settings.Health.SuccessBeforePassing {
			ep.state.Store(int32(models.HealthHealthy))
			ep.curSuccess = 0
			transitioned = true
			newState = models.HealthHealthy
			r.rebuildHealthyLocked(g)
		}
	} else {
		ep.curSuccess = 0
		if ep.curFailures < ^uint8(0) {
			ep.curFailures++
		}
		if oldState != models.HealthUnhealthy && oldState != models.HealthDraining &&
			ep.curFailures >= g.settings.Health.FailuresBeforeCritical {
			ep.state.Store(int32(models.HealthUnhealthy))
			ep.curFailures = 0
			transitioned = true
			newState = models.HealthUnhealthy
			r.rebuildHealthyLocked(g)
		}
	}
	g.mu.Unlock()

	if !success {
		r.metrics.Increment(fmt.Sprintf("probe.%s.failure", groupID))
		if r.notifier != nil {
			r.notifier.Notify(models.Event{
				Kind:      models.EventProbeFailure,
				Group:     groupID,
				Target:    addr.String(),
				Timestamp: r.now(),
				Error:     errString(probeErr),
			})
		}
	}
	if transitioned {
		r.emitTransition(groupID, addr, oldState, newState, probeErr)
	}
}

// SnapshotHealthy returns the current point-in-time healthy set in
// registration order. The slice is never mutated after publication.
func (r *Registry) SnapshotHealthy(groupID models.GroupID) []*Endpoint {
	g := r.group(groupID)
	if g == nil {
		return nil
	}
	snap := g.healthy.Load()
	if snap == nil {
		return nil
	}
	return *snap
}

// Acquire accounts a new connection on the endpoint.
func (r *Registry) Acquire(ep *Endpoint) {
	ep.active.Add(1)
}

// Release drops the connection count and finishes draining when the last
// connection of a draining endpoint goes away.
func (r *Registry) Release(ep *Endpoint) {
	left := ep.active.Add(-1)
	if left > 0 || ep.State() != models.HealthDraining {
		return
	}
	g := r.group(ep.group)
	if g == nil {
		return
	}
	g.mu.Lock()
	if ep.ActiveConnections() == 0 && ep.State() == models.HealthDraining {
		r.purgeLocked(g, ep)
	}
	g.mu.Unlock()
}

// Capacity is the number of live (non-draining) endpoints, the autoscaler's
// view of current capacity.
func (r *Registry) Capacity(groupID models.GroupID) int {
	g := r.group(groupID)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, ep := range g.endpoints {
		if ep.State() != models.HealthDraining {
			n++
		}
	}
	return n
}

// AvgActiveConnections is the utilization sample source for connection-based
// scaling: average in-flight connections per live endpoint.
func (r *Registry) AvgActiveConnections(groupID models.GroupID) float64 {
	g := r.group(groupID)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var (
		total int64
		n     int64
	)
	for _, ep := range g.endpoints {
		if ep.State() == models.HealthDraining {
			continue
		}
		total += ep.ActiveConnections()
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}

func (r *Registry) rebuildHealthyLocked(g *group) {
	healthy := make([]*Endpoint, 0, len(g.order))
	for _, ep := range g.order {
		if ep.State() == models.HealthHealthy {
			healthy = append(healthy, ep)
		}
	}
	g.healthy.Store(&healthy)
}

func (r *Registry) emitTransition(groupID models.GroupID, addr healthcheck.TargetAddr, from, to models.HealthState, probeErr error) {
	log.Info().Msgf("endpoint %s in group %s went %s -> %s", addr, groupID, from, to)
	r.metrics.Increment(fmt.Sprintf("registry.%s.transition.%s", groupID, to))
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(models.Event{
		Kind:      models.EventHealthTransition,
		Group:     groupID,
		Target:    addr.String(),
		Timestamp: r.now(),
		OldState:  from.String(),
		NewState:  to.String(),
		Error:     errString(probeErr),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
