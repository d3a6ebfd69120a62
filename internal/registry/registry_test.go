package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

const testGroup models.GroupID = "web"

func testSettings(healthyThreshold, unhealthyThreshold uint8) GroupSettings {
	return GroupSettings{
		Health: healthcheck.Settings{
			Strategy:               healthcheck.MockStrategy,
			Interval:               time.Second,
			SuccessBeforePassing:   healthyThreshold,
			FailuresBeforeCritical: unhealthyThreshold,
		},
		DrainTimeout: 100 * time.Millisecond,
	}
}

func testAddr(t *testing.T, s string) healthcheck.TargetAddr {
	t.Helper()
	addr, err := healthcheck.TargetAddrFromString(s)
	require.NoError(t, err)
	return addr
}

func newTestRegistry(t *testing.T, settings GroupSettings) *Registry {
	t.Helper()
	reg := New(nil, nil)
	require.NoError(t, reg.AddGroup(testGroup, settings))
	return reg
}

func register(t *testing.T, reg *Registry, addr string, weight uint32) {
	t.Helper()
	require.NoError(t, reg.Register(models.EndpointSpec{
		Group:    testGroup,
		Addr:     testAddr(t, addr),
		Weight:   weight,
		Protocol: models.TCP,
	}))
}

func TestRegister_Idempotent(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	register(t, reg, "10.0.0.1:80", 1)

	assert.Equal(t, 1, reg.Capacity(testGroup))
}

func TestRegister_UpdatesWeight(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	register(t, reg, "10.0.0.1:80", 5)

	reg.UpdateHealth(testGroup, testAddr(t, "10.0.0.1:80"), true, nil)
	snap := reg.SnapshotHealthy(testGroup)
	require.Len(t, snap, 1)
	assert.Equal(t, uint32(5), snap[0].Weight())
}

func TestRegister_UnknownGroup(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	err := reg.Register(models.EndpointSpec{
		Group: "nope",
		Addr:  testAddr(t, "10.0.0.1:80"),
	})
	assert.Error(t, err)
}

func TestUpdateHealth_HysteresisLaw(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(3, 2))
	register(t, reg, "10.0.0.1:80", 1)
	addr := testAddr(t, "10.0.0.1:80")

	// exactly 3 consecutive successes turn Unknown into Healthy
	reg.UpdateHealth(testGroup, addr, true, nil)
	reg.UpdateHealth(testGroup, addr, true, nil)
	assert.Empty(t, reg.SnapshotHealthy(testGroup))
	reg.UpdateHealth(testGroup, addr, true, nil)
	assert.Len(t, reg.SnapshotHealthy(testGroup), 1)

	// a single failure must not drop it, consecutive run is broken
	reg.UpdateHealth(testGroup, addr, false, nil)
	assert.Len(t, reg.SnapshotHealthy(testGroup), 1)
	reg.UpdateHealth(testGroup, addr, true, nil)
	assert.Len(t, reg.SnapshotHealthy(testGroup), 1)

	// 2 consecutive failures turn it Unhealthy on the 2nd, not the 1st
	reg.UpdateHealth(testGroup, addr, false, nil)
	assert.Len(t, reg.SnapshotHealthy(testGroup), 1)
	reg.UpdateHealth(testGroup, addr, false, nil)
	assert.Empty(t, reg.SnapshotHealthy(testGroup))
}

func TestUpdateHealth_InterruptedSuccessRun(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(2, 1))
	register(t, reg, "10.0.0.1:80", 1)
	addr := testAddr(t, "10.0.0.1:80")

	reg.UpdateHealth(testGroup, addr, true, nil)
	reg.UpdateHealth(testGroup, addr, false, nil)
	reg.UpdateHealth(testGroup, addr, true, nil)
	// the failure reset the streak, one success is not enough
	assert.Empty(t, reg.SnapshotHealthy(testGroup))
	reg.UpdateHealth(testGroup, addr, true, nil)
	assert.Len(t, reg.SnapshotHealthy(testGroup), 1)
}

func TestUpdateHealth_UnknownAddrIsNoop(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	assert.NotPanics(t, func() {
		reg.UpdateHealth(testGroup, testAddr(t, "10.9.9.9:80"), true, nil)
	})
	assert.Empty(t, reg.SnapshotHealthy(testGroup))
}

func TestSnapshotHealthy_ExcludesDrainingAndUnhealthy(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	register(t, reg, "10.0.0.2:80", 1)
	register(t, reg, "10.0.0.3:80", 1)
	for _, a := range []string{"10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80"} {
		reg.UpdateHealth(testGroup, testAddr(t, a), true, nil)
	}
	require.Len(t, reg.SnapshotHealthy(testGroup), 3)

	reg.UpdateHealth(testGroup, testAddr(t, "10.0.0.2:80"), false, nil)
	reg.Deregister(testGroup, testAddr(t, "10.0.0.3:80"))

	snap := reg.SnapshotHealthy(testGroup)
	require.Len(t, snap, 1)
	assert.Equal(t, "10.0.0.1:80", snap[0].Addr().String())
}

func TestDeregister_DrainsThenPurges(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	addr := testAddr(t, "10.0.0.1:80")
	reg.UpdateHealth(testGroup, addr, true, nil)

	snap := reg.SnapshotHealthy(testGroup)
	require.Len(t, snap, 1)
	ep := snap[0]

	// two in-flight connections
	reg.Acquire(ep)
	reg.Acquire(ep)

	reg.Deregister(testGroup, addr)
	assert.Equal(t, models.HealthDraining, ep.State())
	assert.Empty(t, reg.SnapshotHealthy(testGroup))
	// still registered until connections drain
	assert.Equal(t, 1, len(reg.Info()[0].Endpoints))

	reg.Release(ep)
	assert.Equal(t, 1, len(reg.Info()[0].Endpoints))
	reg.Release(ep)
	assert.Empty(t, reg.Info()[0].Endpoints)
}

func TestDeregister_PurgesOnDrainTimeout(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	addr := testAddr(t, "10.0.0.1:80")
	reg.UpdateHealth(testGroup, addr, true, nil)

	ep := reg.SnapshotHealthy(testGroup)[0]
	reg.Acquire(ep)
	reg.Deregister(testGroup, addr)

	assert.Eventually(t, func() bool {
		return len(reg.Info()[0].Endpoints) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDeregister_ImmediatePurgeWithoutConnections(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	reg.Deregister(testGroup, testAddr(t, "10.0.0.1:80"))
	assert.Empty(t, reg.Info()[0].Endpoints)
}

func TestUpdateHealth_DrainingStaysOut(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	addr := testAddr(t, "10.0.0.1:80")
	reg.UpdateHealth(testGroup, addr, true, nil)

	ep := reg.SnapshotHealthy(testGroup)[0]
	reg.Acquire(ep)
	reg.Deregister(testGroup, addr)

	// probing continues during drain but can't bring it back
	reg.UpdateHealth(testGroup, addr, true, nil)
	reg.UpdateHealth(testGroup, addr, true, nil)
	assert.Empty(t, reg.SnapshotHealthy(testGroup))
	assert.Equal(t, models.HealthDraining, ep.State())
	reg.Release(ep)
}

func TestRegister_RevivesDraining(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	addr := testAddr(t, "10.0.0.1:80")
	reg.UpdateHealth(testGroup, addr, true, nil)

	ep := reg.SnapshotHealthy(testGroup)[0]
	reg.Acquire(ep)
	reg.Deregister(testGroup, addr)
	require.Equal(t, models.HealthDraining, ep.State())

	register(t, reg, "10.0.0.1:80", 1)
	assert.Equal(t, models.HealthUnknown, ep.State())

	reg.UpdateHealth(testGroup, addr, true, nil)
	assert.Len(t, reg.SnapshotHealthy(testGroup), 1)
	reg.Release(ep)
	// revived endpoints survive their old connections closing
	assert.Len(t, reg.Info()[0].Endpoints, 1)
}

func TestCapacity_CountsLiveEndpoints(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	register(t, reg, "10.0.0.2:80", 1)
	reg.UpdateHealth(testGroup, testAddr(t, "10.0.0.1:80"), true, nil)
	ep := reg.SnapshotHealthy(testGroup)[0]

	assert.Equal(t, 2, reg.Capacity(testGroup))

	reg.Acquire(ep)
	reg.Deregister(testGroup, testAddr(t, "10.0.0.1:80"))
	assert.Equal(t, 1, reg.Capacity(testGroup))
	reg.Release(ep)
}

func TestAvgActiveConnections(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	register(t, reg, "10.0.0.1:80", 1)
	register(t, reg, "10.0.0.2:80", 1)
	reg.UpdateHealth(testGroup, testAddr(t, "10.0.0.1:80"), true, nil)
	reg.UpdateHealth(testGroup, testAddr(t, "10.0.0.2:80"), true, nil)

	snap := reg.SnapshotHealthy(testGroup)
	require.Len(t, snap, 2)
	reg.Acquire(snap[0])
	reg.Acquire(snap[0])
	reg.Acquire(snap[1])

	assert.InDelta(t, 1.5, reg.AvgActiveConnections(testGroup), 0.001)
}

func TestAddGroup_Duplicate(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	assert.Error(t, reg.AddGroup(testGroup, testSettings(1, 1)))
}

func TestRegister_DefaultsZeroWeight(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testSettings(1, 1))
	require.NoError(t, reg.Register(models.EndpointSpec{
		Group:    testGroup,
		Addr:     healthcheck.TargetAddr{RealIP: net.IPv4(10, 0, 0, 1), Port: 80},
		Weight:   0,
		Protocol: models.TCP,
	}))
	reg.UpdateHealth(testGroup, testAddr(t, "10.0.0.1:80"), true, nil)
	assert.Equal(t, uint32(1), reg.SnapshotHealthy(testGroup)[0].Weight())
}
