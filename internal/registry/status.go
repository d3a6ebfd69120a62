package registry

import "sort"

type EndpointStatus struct {
	Addr        string `json:"addr"`
	Protocol    string `json:"protocol"`
	Weight      uint32 `json:"weight"`
	State       string `json:"state"`
	ActiveConns int64  `json:"active_conns"`
	LastError   string `json:"last_error,omitempty"`
}

type GroupStatus struct {
	Group     string           `json:"group"`
	Endpoints []EndpointStatus `json:"endpoints"`
}

// Info reports the full registry state for the admin endpoint.
func (r *Registry) Info() []GroupStatus {
	ids := r.GroupIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]GroupStatus, 0, len(ids))
	for _, id := range ids {
		g := r.group(id)
		if g == nil {
			continue
		}
		g.mu.Lock()
		gs := GroupStatus{
			Group:     id.String(),
			Endpoints: make([]EndpointStatus, 0, len(g.order)),
		}
		for _, ep := range g.order {
			gs.Endpoints = append(gs.Endpoints, EndpointStatus{
				Addr:        ep.addr.String(),
				Protocol:    string(ep.protocol),
				Weight:      ep.Weight(),
				State:       ep.State().String(),
				ActiveConns: ep.ActiveConnections(),
				LastError:   errString(ep.lastProbeErr),
			})
		}
		g.mu.Unlock()
		result = append(result, gs)
	}
	return result
}
