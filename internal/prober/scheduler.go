package prober

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const emptyCheckLoopInterval = 1 * time.Second

type TaskExecutor interface {
	ExecuteHealthCheck(c *Check) error
}

// Scheduller pops due checks off the invocation min-heap and hands them to
// the executor, then re-arms the top with the check interval.
type Scheduller struct {
	invocationHeap *checkInvokeHeap
	executor       TaskExecutor
}

func NewScheduller(executor TaskExecutor) *Scheduller {
	return &Scheduller{
		invocationHeap: newCheckInvokeHeap(),
		executor:       executor,
	}
}

// Add schedules the first probe with jitter only, a fresh endpoint should be
// judged quickly instead of sitting Unknown for a full interval.
func (p *Scheduller) Add(c *Check) {
	c.NextInvoke = time.Now().Add(jit(c.Settings.Interval))
	p.invocationHeap.push(c)
}

func (p *Scheduller) Remove(c *Check) bool {
	return p.invocationHeap.remove(c.Group, c.Target)
}

func invokeTimeOrDefault(c *Check) time.Time {
	if c == nil {
		return time.Now().Add(emptyCheckLoopInterval)
	}
	return c.NextInvoke
}

func (p *Scheduller) Run(ctx context.Context) error {
	nextCheck := p.invocationHeap.getNextCheck()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(invokeTimeOrDefault(nextCheck))):
		}
		if nextCheck != nil {
			// the min time heap keeps working fine even if the executor
			// is momentarily behind
			err := p.executor.ExecuteHealthCheck(nextCheck)
			if err != nil {
				return fmt.Errorf("failed to execute check: %w", err)
			}
			nextCheck = p.invocationHeap.updateAndGetTop()
		} else {
			nextCheck = p.invocationHeap.getNextCheck()
		}
	}
}

func jit(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Uint64N(uint64(interval)))
}
