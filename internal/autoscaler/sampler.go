package autoscaler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgegate/ingressd/internal/models"
)

// Sampler yields one utilization sample, e.g. average CPU percent across
// backend processes.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// HTTPSampler polls an external metrics feed that answers with
// {"value": <float>}.
type HTTPSampler struct {
	client *http.Client
	url    string
}

func NewHTTPSampler(url string, timeout time.Duration) *HTTPSampler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPSampler{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		url: url,
	}
}

func (s *HTTPSampler) Sample(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to form sample request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sample request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("sample feed answered with status %d", resp.StatusCode)
	}
	var payload struct {
		Value float64 `json:"value"`
	}
	err = json.NewDecoder(resp.Body).Decode(&payload)
	if err != nil {
		return 0, fmt.Errorf("failed to decode sample payload: %w", err)
	}
	return payload.Value, nil
}

// ConnectionReader is the registry's view of per-endpoint load.
type ConnectionReader interface {
	AvgActiveConnections(group models.GroupID) float64
}

// ConnSampler derives utilization from average in-flight connections per
// endpoint against a configured per-endpoint ceiling, as percent.
type ConnSampler struct {
	reader          ConnectionReader
	group           models.GroupID
	connsPerBackend float64
}

func NewConnSampler(reader ConnectionReader, group models.GroupID, connsPerBackend float64) *ConnSampler {
	if connsPerBackend <= 0 {
		connsPerBackend = 100
	}
	return &ConnSampler{
		reader:          reader,
		group:           group,
		connsPerBackend: connsPerBackend,
	}
}

func (s *ConnSampler) Sample(ctx context.Context) (float64, error) {
	return s.reader.AvgActiveConnections(s.group) / s.connsPerBackend * 100, nil
}
