package tcpconnhc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/edgegate/ingressd/pkg/healthcheck"
)

type TcpHealthCheckSettings struct {
	Timeout       time.Duration `json:"timeout"`
	TLSServerName string        `json:"tls_server_name"`
	TLSSkipVerify bool          `json:"tls_skip_verify"`
}

type TcpConnStrategy struct {
	targetAddr string
	tlsConfig  *tls.Config
	dialer     net.Dialer
}

func NewTcpConnStrategy(settings *TcpHealthCheckSettings, target healthcheck.TargetAddr) (*TcpConnStrategy, error) {
	if len(target.RealIP) == 0 {
		return nil, fmt.Errorf("invalid real ip format: zero length")
	}
	if settings.Timeout == 0 {
		settings.Timeout = 2 * time.Second
	}
	var tlsConfig *tls.Config
	if settings.TLSServerName != "" || settings.TLSSkipVerify {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: settings.TLSSkipVerify,
			ServerName:         settings.TLSServerName,
		}
	}
	return &TcpConnStrategy{
		targetAddr: target.String(),
		tlsConfig:  tlsConfig,
		dialer: net.Dialer{
			Timeout:   settings.Timeout,
			KeepAlive: -1,
		},
	}, nil
}

func (tc *TcpConnStrategy) Check(ctx context.Context) (bool, error) {
	var (
		conn net.Conn
		err  error
	)
	if tc.tlsConfig == nil {
		conn, err = tc.dialer.DialContext(ctx, "tcp", tc.targetAddr)
	} else {
		tlsDialer := tls.Dialer{
			NetDialer: &tc.dialer,
			Config:    tc.tlsConfig,
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", tc.targetAddr)
	}
	if err != nil {
		return false, err
	}
	_ = conn.Close()
	return true, nil
}
