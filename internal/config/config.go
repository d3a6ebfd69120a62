package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/ingressd/internal/autoscaler"
	"github.com/edgegate/ingressd/internal/balancer"
	"github.com/edgegate/ingressd/internal/dispatcher"
	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

const (
	SampleSourceConns = "conns"
	SampleSourceHTTP  = "http"
)

type Group struct {
	ID           models.GroupID       `json:"id"`
	Balancer     balancer.Kind        `json:"balancer"`
	Health       healthcheck.Settings `json:"health"`
	DrainTimeout time.Duration        `json:"drain_timeout"`
}

type Scaling struct {
	Group           models.GroupID    `json:"group"`
	Bounds          autoscaler.Bounds `json:"bounds"`
	Source          string            `json:"source"`
	SourceURL       string            `json:"source_url"`
	ConnsPerBackend float64           `json:"conns_per_backend"`
}

// Topology is the full static wiring of the proxy: listener ports, listener
// groups with their probe settings, and scaling policies. It comes in as
// JSON payloads from the environment and any inconsistency is fatal at
// startup.
type Topology struct {
	Listeners []dispatcher.ListenerSpec `json:"listeners"`
	Groups    []Group                   `json:"groups"`
	Scaling   []Scaling                 `json:"scaling"`
}

func Parse(listenersJSON string, groupsJSON string, scalingJSON string) (*Topology, error) {
	t := &Topology{}
	err := json.Unmarshal([]byte(listenersJSON), &t.Listeners)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listeners config: %w", err)
	}
	err = json.Unmarshal([]byte(groupsJSON), &t.Groups)
	if err != nil {
		return nil, fmt.Errorf("failed to parse groups config: %w", err)
	}
	if scalingJSON != "" {
		err = json.Unmarshal([]byte(scalingJSON), &t.Scaling)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scaling config: %w", err)
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) Validate() error {
	if len(t.Listeners) == 0 {
		return fmt.Errorf("no listeners configured")
	}
	groups := make(map[models.GroupID]Group, len(t.Groups))
	for _, g := range t.Groups {
		if g.ID == "" {
			return fmt.Errorf("listener group with empty id")
		}
		if _, ok := groups[g.ID]; ok {
			return fmt.Errorf("duplicate listener group %s", g.ID)
		}
		if _, err := balancer.NewPolicy(g.Balancer); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
		if err := g.Health.Validate(); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
		groups[g.ID] = g
	}

	ports := make(map[uint16]struct{}, len(t.Listeners))
	for _, l := range t.Listeners {
		if l.Port == 0 {
			return fmt.Errorf("listener with zero port")
		}
		if _, ok := ports[l.Port]; ok {
			return fmt.Errorf("duplicate listener port %d", l.Port)
		}
		ports[l.Port] = struct{}{}
		if _, ok := groups[l.Group]; !ok {
			return fmt.Errorf("listener port %d references unknown group %s", l.Port, l.Group)
		}
	}

	scaled := make(map[models.GroupID]struct{}, len(t.Scaling))
	for _, s := range t.Scaling {
		if _, ok := groups[s.Group]; !ok {
			return fmt.Errorf("scaling policy references unknown group %s", s.Group)
		}
		if _, ok := scaled[s.Group]; ok {
			return fmt.Errorf("duplicate scaling policy for group %s", s.Group)
		}
		scaled[s.Group] = struct{}{}
		if err := s.Bounds.Validate(); err != nil {
			return fmt.Errorf("scaling policy for group %s: %w", s.Group, err)
		}
		switch s.Source {
		case SampleSourceConns, "":
		case SampleSourceHTTP:
			if s.SourceURL == "" {
				return fmt.Errorf("scaling policy for group %s: http source needs source_url", s.Group)
			}
		default:
			return fmt.Errorf("scaling policy for group %s: unknown sample source %q", s.Group, s.Source)
		}
	}
	return nil
}
