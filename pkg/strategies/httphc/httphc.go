package httphc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/ingressd/pkg/healthcheck"
)

type HTTPStrategySettings struct {
	Timeout          time.Duration `json:"timeout"`
	Path             string        `json:"path"`
	Scheme           string        `json:"scheme"`
	Method           string        `json:"method"`
	AcceptedStatuses []int         `json:"accepted_statuses"`
	Headers          http.Header   `json:"-"`
	TLSServerName    string        `json:"-"`
	TLSSkipVerify    bool          `json:"-"`
}

type HTTPStrategy struct {
	client           *http.Client
	req              *http.Request
	acceptedStatuses []int
}

func NewHTTPStrategy(settings *HTTPStrategySettings, target healthcheck.TargetAddr) (*HTTPStrategy, error) {
	transport := http.Transport{
		DisableKeepAlives: true,
	}
	if settings.Scheme == "" {
		settings.Scheme = "http"
	}
	targetUrl := url.URL{
		Scheme: settings.Scheme,
		Path:   settings.Path,
		Host:   target.String(),
	}
	if settings.Timeout == 0 {
		settings.Timeout = 2 * time.Second
	}
	if targetUrl.Scheme == "https" {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: settings.TLSSkipVerify,
			ServerName:         settings.TLSServerName,
		}
		transport.TLSHandshakeTimeout = settings.Timeout
	}
	clnt := http.Client{
		Timeout:   settings.Timeout,
		Transport: &transport,
	}
	method := http.MethodGet
	if settings.Method != "" {
		method = settings.Method
	}
	req, err := http.NewRequest(method, targetUrl.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to form http initial request for hc: %w", err)
	}
	if settings.Headers != nil {
		req.Header = settings.Headers
	}
	return &HTTPStrategy{
		client:           &clnt,
		req:              req,
		acceptedStatuses: settings.AcceptedStatuses,
	}, nil
}

func (hs *HTTPStrategy) Check(ctx context.Context) (bool, error) {
	resp, err := hs.client.Do(hs.req.Clone(ctx))
	if err != nil {
		return false, fmt.Errorf("request do error: %w", err)
	}
	_ = resp.Body.Close()
	if hs.accepted(resp.StatusCode) {
		return true, nil
	}
	log.Debug().Msgf("[http-hc]: unacceptable status code = %d", resp.StatusCode)
	return false, nil
}

func (hs *HTTPStrategy) accepted(status int) bool {
	if len(hs.acceptedStatuses) == 0 {
		return status/100 == 2
	}
	return slices.Contains(hs.acceptedStatuses, status)
}
