package models

import "time"

type EventKind string

const (
	EventConnAccepted     EventKind = "conn_accepted"
	EventConnClosed       EventKind = "conn_closed"
	EventConnRefused      EventKind = "conn_refused"
	EventHealthTransition EventKind = "health_transition"
	EventProbeFailure     EventKind = "probe_failure"
	EventScalingDecision  EventKind = "scaling_decision"
)

// Event is one observability record for the external collector.
type Event struct {
	Kind      EventKind `json:"kind"`
	Group     GroupID   `json:"group,omitempty"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	ConnID       string `json:"conn_id,omitempty"`
	ClientAddr   string `json:"client_addr,omitempty"`
	ListenerPort uint16 `json:"listener_port,omitempty"`
	BytesIn      uint64 `json:"bytes_in,omitempty"`
	BytesOut     uint64 `json:"bytes_out,omitempty"`

	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`

	Decision *ScalingDecision `json:"decision,omitempty"`

	Error string `json:"error,omitempty"`
}
