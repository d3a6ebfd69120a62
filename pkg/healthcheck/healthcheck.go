package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type StrategyName string

const (
	MockStrategy StrategyName = "mock"
	HTTPStrategy StrategyName = "http"
	TCPStrategy  StrategyName = "tcp"
)

// Strategy performs a single probe against one target. Implementations must
// respect ctx cancellation and never block past their configured timeout.
type Strategy interface {
	Check(ctx context.Context) (bool, error)
}

type Settings struct {
	Strategy         StrategyName    `json:"strategy"`
	StrategySettings json.RawMessage `json:"strategy_settings"`

	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`

	SuccessBeforePassing   uint8 `json:"success_before_passing"`
	FailuresBeforeCritical uint8 `json:"failures_before_critical"`
}

func (s Settings) Validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("probe interval must be positive, got %s", s.Interval)
	}
	if s.SuccessBeforePassing == 0 {
		return fmt.Errorf("success_before_passing must be at least 1")
	}
	if s.FailuresBeforeCritical == 0 {
		return fmt.Errorf("failures_before_critical must be at least 1")
	}
	return nil
}

type TargetAddr struct {
	RealIP net.IP
	Port   uint16
}

func (a TargetAddr) String() string {
	return fmt.Sprintf("%s:%d", a.RealIP.String(), a.Port)
}

func TargetAddrFromString(str string) (TargetAddr, error) {
	addr, portStr, ok := strings.Cut(str, ":")
	if !ok {
		return TargetAddr{}, fmt.Errorf("invalid target addr format: %q", str)
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return TargetAddr{}, fmt.Errorf("failed to parse ip from %q", str)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return TargetAddr{}, fmt.Errorf("failed to parse port: %w", err)
	}
	return TargetAddr{
		RealIP: ip,
		Port:   uint16(port),
	}, nil
}
