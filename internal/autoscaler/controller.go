package autoscaler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/ingressd/internal/metrics"
	"github.com/edgegate/ingressd/internal/models"
)

type State int8

const (
	Stable State = iota
	ScalingOut
	ScalingIn
)

func (s State) String() string {
	switch s {
	case ScalingOut:
		return "scaling-out"
	case ScalingIn:
		return "scaling-in"
	}
	return "stable"
}

type Notifier interface {
	Notify(models.Event)
}

// CapacityReader reports live capacity for a listener group, the registry
// implements it.
type CapacityReader interface {
	Capacity(group models.GroupID) int
}

type Bounds struct {
	MinCapacity      int           `json:"min_capacity"`
	MaxCapacity      int           `json:"max_capacity"`
	TargetValue      float64       `json:"target_value"`
	Step             int           `json:"step"`
	ScaleOutCooldown time.Duration `json:"scale_out_cooldown"`
	ScaleInCooldown  time.Duration `json:"scale_in_cooldown"`
	SampleInterval   time.Duration `json:"sample_interval"`
}

func (b Bounds) Validate() error {
	if b.MinCapacity < 0 {
		return fmt.Errorf("min capacity must be non-negative, got %d", b.MinCapacity)
	}
	if b.MaxCapacity < b.MinCapacity {
		return fmt.Errorf("max capacity %d is below min capacity %d", b.MaxCapacity, b.MinCapacity)
	}
	if b.TargetValue <= 0 {
		return fmt.Errorf("target value must be positive, got %f", b.TargetValue)
	}
	return nil
}

// Controller observes a utilization sample against the target value and
// emits ScalingDecision intents within bounds and per-direction cooldowns.
// Actuation belongs to the external orchestrator, which feeds resulting
// endpoints back through the membership feed.
type Controller struct {
	group    models.GroupID
	sampler  Sampler
	capacity CapacityReader
	bounds   Bounds
	notifier Notifier
	metrics  metrics.Metrics

	state        State
	lastScaleOut time.Time
	lastScaleIn  time.Time

	now func() time.Time
}

func NewController(
	group models.GroupID,
	sampler Sampler,
	capacity CapacityReader,
	bounds Bounds,
	notifier Notifier,
	m metrics.Metrics,
) (*Controller, error) {
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scaling bounds for group %s: %w", group, err)
	}
	if bounds.Step <= 0 {
		bounds.Step = 1
	}
	if bounds.SampleInterval <= 0 {
		bounds.SampleInterval = 15 * time.Second
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Controller{
		group:    group,
		sampler:  sampler,
		capacity: capacity,
		bounds:   bounds,
		notifier: notifier,
		metrics:  m,
		state:    Stable,
		now:      time.Now,
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.bounds.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		sample, err := c.sampler.Sample(ctx)
		if err != nil {
			log.Error().Err(err).Msgf("failed to sample utilization for group %s", c.group)
			continue
		}
		c.Evaluate(sample)
	}
}

// Evaluate runs one control iteration over a utilization sample and returns
// the decision, nil when none is due.
func (c *Controller) Evaluate(sample float64) *models.ScalingDecision {
	var (
		now      = c.now()
		capacity = c.capacity.Capacity(c.group)
	)
	log.Debug().Msgf("group %s: sample=%.2f target=%.2f capacity=%d state=%s",
		c.group, sample, c.bounds.TargetValue, capacity, c.state)

	switch {
	case sample > c.bounds.TargetValue:
		if capacity >= c.bounds.MaxCapacity {
			c.state = Stable
			return nil
		}
		if now.Sub(c.lastScaleOut) < c.bounds.ScaleOutCooldown {
			return nil
		}
		c.state = ScalingOut
		c.lastScaleOut = now
		return c.emit(models.ScalingDecision{
			Group:          c.group,
			Direction:      models.ScaleOut,
			TargetCapacity: min(capacity+c.bounds.Step, c.bounds.MaxCapacity),
			Reason:         fmt.Sprintf("utilization %.2f above target %.2f", sample, c.bounds.TargetValue),
			Timestamp:      now,
		})
	case sample < c.bounds.TargetValue:
		if capacity <= c.bounds.MinCapacity {
			c.state = Stable
			return nil
		}
		if now.Sub(c.lastScaleIn) < c.bounds.ScaleInCooldown {
			return nil
		}
		c.state = ScalingIn
		c.lastScaleIn = now
		return c.emit(models.ScalingDecision{
			Group:          c.group,
			Direction:      models.ScaleIn,
			TargetCapacity: max(capacity-c.bounds.Step, c.bounds.MinCapacity),
			Reason:         fmt.Sprintf("utilization %.2f below target %.2f", sample, c.bounds.TargetValue),
			Timestamp:      now,
		})
	}
	c.state = Stable
	return nil
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) emit(decision models.ScalingDecision) *models.ScalingDecision {
	log.Info().Msgf("group %s: %s to capacity %d: %s",
		decision.Group, decision.Direction, decision.TargetCapacity, decision.Reason)
	c.metrics.Increment(fmt.Sprintf("autoscaler.%s.%s", decision.Group, decision.Direction))
	c.metrics.Gauge(fmt.Sprintf("autoscaler.%s.target_capacity", decision.Group), decision.TargetCapacity)
	if c.notifier != nil {
		c.notifier.Notify(models.Event{
			Kind:      models.EventScalingDecision,
			Group:     decision.Group,
			Timestamp: decision.Timestamp,
			Decision:  &decision,
		})
	}
	return &decision
}
