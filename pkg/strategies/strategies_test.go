package strategies_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/ingressd/pkg/healthcheck"
	"github.com/edgegate/ingressd/pkg/strategies"
	"github.com/edgegate/ingressd/pkg/strategies/mockhc"
)

func TestNewStrategy(t *testing.T) {
	t.Parallel()

	target, err := healthcheck.TargetAddrFromString("127.0.0.1:8080")
	require.NoError(t, err)

	testCases := []struct {
		name     string
		strategy healthcheck.StrategyName
		cfg      string
		wantErr  bool
	}{
		{name: "tcp", strategy: healthcheck.TCPStrategy},
		{name: "tcp with settings", strategy: healthcheck.TCPStrategy, cfg: `{"timeout": 1000000000}`},
		{name: "http", strategy: healthcheck.HTTPStrategy, cfg: `{"path": "/health", "accepted_statuses": [200, 204]}`},
		{name: "mock", strategy: healthcheck.MockStrategy, cfg: `{"healthy": true}`},
		{name: "unknown strategy", strategy: "icmp", wantErr: true},
		{name: "broken settings", strategy: healthcheck.TCPStrategy, cfg: `{`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := strategies.NewStrategy(tc.strategy, target, []byte(tc.cfg))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestMockStrategy_Toggle(t *testing.T) {
	t.Parallel()

	m := mockhc.NewMockHC(&mockhc.MockHCSettings{Healthy: true})

	ok, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	m.SetHealthy(false)
	ok, err = m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 2, m.Checks())
}

func TestMockStrategy_CanceledWhileSleeping(t *testing.T) {
	t.Parallel()

	m := mockhc.NewMockHC(&mockhc.MockHCSettings{Healthy: true, Duration: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := m.Check(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
