package mockhc

import (
	"context"
	"sync/atomic"
	"time"
)

type MockHCSettings struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Healthy  bool          `json:"healthy"`
}

type MockHC struct {
	name     string
	duration time.Duration
	healthy  atomic.Bool
	checks   atomic.Int64
}

func NewMockHC(settings *MockHCSettings) *MockHC {
	m := &MockHC{
		name:     settings.Name,
		duration: settings.Duration,
	}
	m.healthy.Store(settings.Healthy)
	return m
}

func (h *MockHC) SetHealthy(v bool) {
	h.healthy.Store(v)
}

func (h *MockHC) Checks() int64 {
	return h.checks.Load()
}

func (h *MockHC) Check(ctx context.Context) (bool, error) {
	defer h.checks.Add(1)
	if h.duration > 0 {
		select {
		case <-time.After(h.duration):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return h.healthy.Load(), nil
}
