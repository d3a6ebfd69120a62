package tcpconnhc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/ingressd/pkg/healthcheck"
	"github.com/edgegate/ingressd/pkg/strategies/tcpconnhc"
)

func listenerTarget(t *testing.T, ln net.Listener) healthcheck.TargetAddr {
	t.Helper()
	target, err := healthcheck.TargetAddrFromString(ln.Addr().String())
	require.NoError(t, err)
	return target
}

func TestTcpConnStrategy_ReachableTarget(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	s, err := tcpconnhc.NewTcpConnStrategy(&tcpconnhc.TcpHealthCheckSettings{}, listenerTarget(t, ln))
	require.NoError(t, err)

	ok, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTcpConnStrategy_RefusedTarget(t *testing.T) {
	t.Parallel()

	// grab a free port and close the listener so the dial gets refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := listenerTarget(t, ln)
	require.NoError(t, ln.Close())

	s, err := tcpconnhc.NewTcpConnStrategy(&tcpconnhc.TcpHealthCheckSettings{Timeout: time.Second}, target)
	require.NoError(t, err)

	ok, err := s.Check(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestTcpConnStrategy_CanceledContext(t *testing.T) {
	t.Parallel()

	target, err := healthcheck.TargetAddrFromString("10.255.255.1:80")
	require.NoError(t, err)

	s, err := tcpconnhc.NewTcpConnStrategy(&tcpconnhc.TcpHealthCheckSettings{Timeout: 30 * time.Second}, target)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ok, err := s.Check(ctx)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewTcpConnStrategy_EmptyIP(t *testing.T) {
	t.Parallel()

	_, err := tcpconnhc.NewTcpConnStrategy(&tcpconnhc.TcpHealthCheckSettings{}, healthcheck.TargetAddr{Port: 80})
	assert.Error(t, err)
}
