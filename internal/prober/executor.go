package prober

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/ingressd/internal/metrics"
	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

const defaultProbeTimeout = 2 * time.Second

// HealthSink receives probe outcomes. Results are applied in completion
// order, last writer wins per target.
type HealthSink interface {
	UpdateHealth(group models.GroupID, addr healthcheck.TargetAddr, success bool, probeErr error)
}

// executor runs every probe in its own goroutine with a hard timeout, so one
// slow backend never delays health updates for the others.
type executor struct {
	sink    HealthSink
	metrics metrics.Metrics

	closed     atomic.Bool
	inProgress sync.WaitGroup
}

func newExecutor(sink HealthSink, m metrics.Metrics) *executor {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &executor{
		sink:    sink,
		metrics: m,
	}
}

func (e *executor) ExecuteHealthCheck(c *Check) error {
	if e.closed.Load() {
		return fmt.Errorf("executor already closed")
	}
	e.inProgress.Add(1)
	go func() {
		defer e.inProgress.Done()

		timeout := c.Settings.Timeout
		if timeout <= 0 {
			timeout = defaultProbeTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		ok, err := c.Strategy.Check(ctx)
		e.metrics.Duration(fmt.Sprintf("probe.%s.duration", c.Group), time.Since(start))

		log.Debug().Msgf("probe of %s in group %s done: ok=%t err=%v", c.Target, c.Group, ok, err)
		e.sink.UpdateHealth(c.Group, c.Target, ok && err == nil, err)
	}()
	return nil
}

func (e *executor) Close() {
	e.closed.Store(true)
	e.inProgress.Wait()
}
