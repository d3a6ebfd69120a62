package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/edgegate/ingressd/internal/balancer"
	"github.com/edgegate/ingressd/internal/metrics"
	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/internal/registry"
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultIdleTimeout = 350 * time.Second
)

type Notifier interface {
	Notify(models.Event)
}

type ListenerSpec struct {
	Port          uint16          `json:"port"`
	Protocol      models.Protocol `json:"protocol"`
	Group         models.GroupID  `json:"group"`
	ProxyProtocol bool            `json:"proxy_protocol"`
	IdleTimeout   time.Duration   `json:"idle_timeout"`
	DialTimeout   time.Duration   `json:"dial_timeout"`
	MaxConnRate   float64         `json:"max_conn_rate"`
}

// Dispatcher accepts connections on one listener port and proxies every
// stream to a policy-selected healthy endpoint of its group.
type Dispatcher struct {
	spec     ListenerSpec
	balancer *balancer.Balancer
	registry *registry.Registry
	notifier Notifier
	metrics  metrics.Metrics
	limiter  *rate.Limiter
}

func New(
	spec ListenerSpec,
	bal *balancer.Balancer,
	reg *registry.Registry,
	notifier Notifier,
	m metrics.Metrics,
) *Dispatcher {
	if spec.DialTimeout <= 0 {
		spec.DialTimeout = defaultDialTimeout
	}
	if spec.IdleTimeout <= 0 {
		spec.IdleTimeout = defaultIdleTimeout
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	var limiter *rate.Limiter
	if spec.MaxConnRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(spec.MaxConnRate), int(spec.MaxConnRate)+1)
	}
	return &Dispatcher{
		spec:     spec,
		balancer: bal,
		registry: reg,
		notifier: notifier,
		metrics:  m,
		limiter:  limiter,
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", d.spec.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", d.spec.Port, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	log.Info().Msgf("listener on port %d dispatches to group %s", d.spec.Port, d.spec.Group)

	for {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msgf("accept failed on port %d", d.spec.Port)
			continue
		}
		go d.handleConn(ctx, conn)
	}
}

func (d *Dispatcher) handleConn(ctx context.Context, clientConn net.Conn) {
	connID, err := uuid.GenerateUUID()
	if err != nil {
		connID = "unknown"
	}
	clientAddr := clientConn.RemoteAddr().String()

	ep, backendConn, err := d.connectBackend(ctx)
	if err != nil {
		// transport-silent refusal: just close, the event goes to the collector
		_ = clientConn.Close()
		d.metrics.Increment(fmt.Sprintf("dispatcher.%s.refused", d.spec.Group))
		log.Warn().Err(err).Msgf("refused connection %s from %s on port %d", connID, clientAddr, d.spec.Port)
		d.notify(models.Event{
			Kind:         models.EventConnRefused,
			Group:        d.spec.Group,
			ConnID:       connID,
			ClientAddr:   clientAddr,
			ListenerPort: d.spec.Port,
			Timestamp:    time.Now(),
			Error:        err.Error(),
		})
		return
	}

	if d.spec.ProxyProtocol {
		err = writeProxyHeaderV2(backendConn, clientConn.RemoteAddr(), clientConn.LocalAddr())
		if err != nil {
			log.Error().Err(err).Msgf("connection %s: failed to send proxy header to %s", connID, ep.Addr())
			_ = clientConn.Close()
			_ = backendConn.Close()
			d.registry.Release(ep)
			return
		}
	}

	start := time.Now()
	d.metrics.Increment(fmt.Sprintf("dispatcher.%s.accepted", d.spec.Group))
	d.notify(models.Event{
		Kind:         models.EventConnAccepted,
		Group:        d.spec.Group,
		Target:       ep.Addr().String(),
		ConnID:       connID,
		ClientAddr:   clientAddr,
		ListenerPort: d.spec.Port,
		Timestamp:    start,
	})
	log.Debug().Msgf("connection %s: %s -> %s via port %d", connID, clientAddr, ep.Addr(), d.spec.Port)

	bytesIn, bytesOut := proxyStreams(clientConn, backendConn, d.spec.IdleTimeout)

	d.registry.Release(ep)
	d.metrics.Increment(fmt.Sprintf("dispatcher.%s.closed", d.spec.Group))
	d.metrics.Duration(fmt.Sprintf("dispatcher.%s.conn_duration", d.spec.Group), time.Since(start))
	d.notify(models.Event{
		Kind:         models.EventConnClosed,
		Group:        d.spec.Group,
		Target:       ep.Addr().String(),
		ConnID:       connID,
		ClientAddr:   clientAddr,
		ListenerPort: d.spec.Port,
		BytesIn:      bytesIn,
		BytesOut:     bytesOut,
		Timestamp:    time.Now(),
	})
}

// connectBackend selects a healthy endpoint and dials it, retrying selection
// once against a different endpoint on connect failure. The endpoint comes
// back with its connection already accounted.
func (d *Dispatcher) connectBackend(ctx context.Context) (*registry.Endpoint, net.Conn, error) {
	var (
		chosen   *registry.Endpoint
		conn     net.Conn
		lastAddr string
	)
	err := retry.Do(
		func() error {
			ep, err := d.balancer.Select(d.spec.Group)
			if err != nil {
				return err
			}
			if lastAddr != "" && ep.Addr().String() == lastAddr {
				// try once to route the retry away from the endpoint
				// that just failed
				if other, selErr := d.balancer.Select(d.spec.Group); selErr == nil {
					ep = other
				}
			}
			d.registry.Acquire(ep)

			dialer := net.Dialer{Timeout: d.spec.DialTimeout}
			c, err := dialer.DialContext(ctx, "tcp", ep.Addr().String())
			if err != nil {
				d.registry.Release(ep)
				lastAddr = ep.Addr().String()
				d.metrics.Increment(fmt.Sprintf("dispatcher.%s.dial_failure", d.spec.Group))
				return fmt.Errorf("failed to dial backend %s: %w", ep.Addr(), err)
			}
			chosen = ep
			conn = c
			return nil
		},
		retry.Attempts(2),
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, balancer.ErrNoHealthyEndpoints)
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return chosen, conn, nil
}

func (d *Dispatcher) notify(event models.Event) {
	if d.notifier != nil {
		d.notifier.Notify(event)
	}
}
