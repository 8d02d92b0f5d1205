package connectivity

import (
	"context"
	"fmt"
	"net/http"
)

// Pinger is anything with a health ping, such as storage.PostgresDB
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProber treats a successful database ping as online
type PingProber struct {
	Pinger Pinger
}

// Probe pings the database
func (p PingProber) Probe(ctx context.Context) error {
	return p.Pinger.Ping(ctx)
}

// HTTPProber treats any non-5xx answer from URL as online
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber creates an HTTPProber with the default client
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url, Client: http.DefaultClient}
}

// Probe issues a GET against URL
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}
