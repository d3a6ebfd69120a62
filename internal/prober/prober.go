package prober

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/ingressd/internal/metrics"
	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
	"github.com/edgegate/ingressd/pkg/strategies"
)

// Prober owns one probe cycle per registered endpoint. The registry drives it
// through the planner interface: Add on registration, Remove on purge.
type Prober struct {
	scheduller *Scheduller
	executor   *executor
}

func New(sink HealthSink, m metrics.Metrics) *Prober {
	exec := newExecutor(sink, m)
	return &Prober{
		scheduller: NewScheduller(exec),
		executor:   exec,
	}
}

func (p *Prober) Add(group models.GroupID, target healthcheck.TargetAddr, settings healthcheck.Settings) error {
	strategy, err := strategies.NewStrategy(settings.Strategy, target, settings.StrategySettings)
	if err != nil {
		return fmt.Errorf("failed to create probe strategy for %s: %w", target, err)
	}
	p.scheduller.Add(&Check{
		Group:    group,
		Target:   target,
		Settings: settings,
		Strategy: strategy,
	})
	log.Debug().Msgf("planned probe cycle for %s in group %s", target, group)
	return nil
}

func (p *Prober) Remove(group models.GroupID, target healthcheck.TargetAddr) bool {
	return p.scheduller.Remove(&Check{Group: group, Target: target})
}

func (p *Prober) Run(ctx context.Context) error {
	return p.scheduller.Run(ctx)
}

func (p *Prober) Close() {
	p.executor.Close()
}
