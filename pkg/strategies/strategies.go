package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/edgegate/ingressd/pkg/healthcheck"
	"github.com/edgegate/ingressd/pkg/strategies/httphc"
	"github.com/edgegate/ingressd/pkg/strategies/mockhc"
	"github.com/edgegate/ingressd/pkg/strategies/tcpconnhc"
)

func NewStrategy(name healthcheck.StrategyName, target healthcheck.TargetAddr, checkCfg []byte) (healthcheck.Strategy, error) {
	var (
		settingsVar any
		createFunc  func(any) (healthcheck.Strategy, error)
	)
	switch name {
	case healthcheck.HTTPStrategy:
		settingsVar = &httphc.HTTPStrategySettings{}
		createFunc = func(settings any) (healthcheck.Strategy, error) {
			return httphc.NewHTTPStrategy(settings.(*httphc.HTTPStrategySettings), target)
		}
	case healthcheck.TCPStrategy:
		settingsVar = &tcpconnhc.TcpHealthCheckSettings{}
		createFunc = func(settings any) (healthcheck.Strategy, error) {
			return tcpconnhc.NewTcpConnStrategy(settings.(*tcpconnhc.TcpHealthCheckSettings), target)
		}
	case healthcheck.MockStrategy:
		settingsVar = &mockhc.MockHCSettings{}
		createFunc = func(settings any) (healthcheck.Strategy, error) {
			return mockhc.NewMockHC(settings.(*mockhc.MockHCSettings)), nil
		}
	default:
		return nil, fmt.Errorf("unknown health check strategy: %s", name)
	}
	if len(checkCfg) != 0 {
		err := json.Unmarshal(checkCfg, settingsVar)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal cfg for strategy %s: %w", name, err)
		}
	}
	return createFunc(settingsVar)
}
