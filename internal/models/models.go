package models

import (
	"time"

	"github.com/edgegate/ingressd/pkg/healthcheck"
)

type GroupID string

func (g GroupID) String() string {
	return string(g)
}

type Protocol string

const (
	TCP            Protocol = "TCP"
	TLSPassthrough Protocol = "TLS"
)

type HealthState int8

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthUnhealthy
	HealthDraining
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthDraining:
		return "draining"
	}
	return "unknown"
}

// EndpointSpec is what the membership feed carries for one backend process.
type EndpointSpec struct {
	Group    GroupID                `json:"group"`
	Addr     healthcheck.TargetAddr `json:"-"`
	Weight   uint32                 `json:"weight"`
	Protocol Protocol               `json:"protocol"`
}

type EndpointEvent struct {
	Spec    EndpointSpec
	Removed bool
}

type ScalingDirection int8

const (
	ScaleOut ScalingDirection = iota + 1
	ScaleIn
)

func (d ScalingDirection) String() string {
	if d == ScaleIn {
		return "scale-in"
	}
	return "scale-out"
}

// ScalingDecision is an intent only, actuation belongs to the orchestrator.
type ScalingDecision struct {
	Group          GroupID          `json:"group"`
	Direction      ScalingDirection `json:"direction"`
	TargetCapacity int              `json:"target_capacity"`
	Reason         string           `json:"reason"`
	Timestamp      time.Time        `json:"timestamp"`
}
