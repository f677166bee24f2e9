package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const probeRequestTimeout = 5 * time.Second

// Prober checks whether a tenant's public endpoint is serving.
type Prober struct {
	client   *http.Client
	interval time.Duration
}

// NewProber creates a Prober polling at the given interval.
func NewProber(interval time.Duration) *Prober {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Prober{
		client:   &http.Client{Timeout: probeRequestTimeout},
		interval: interval,
	}
}

// HealthTimeoutError reports that an endpoint never became healthy within
// the allotted time.
type HealthTimeoutError struct {
	URL     string
	Elapsed time.Duration
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("health check timed out after %s for %s", e.Elapsed.Round(time.Millisecond), e.URL)
}

// ProbeResult is a single health-check snapshot.
type ProbeResult struct {
	Status       int
	ResponseTime time.Duration
}

func healthEndpoint(url string) string {
	return strings.TrimRight(url, "/") + healthCheckPath
}

// CheckOnce issues a single GET against the tenant's health endpoint. A
// non-nil error means the endpoint was unreachable; an HTTP status other
// than 2xx means the server is up but not healthy. Callers use that
// distinction to report "unreachable" versus "unhealthy".
func (p *Prober) CheckOnce(ctx context.Context, url string, timeout time.Duration) (ProbeResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthEndpoint(url), nil)
	if err != nil {
		return ProbeResult{}, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp.Body.Close()

	return ProbeResult{Status: resp.StatusCode, ResponseTime: time.Since(start)}, nil
}

// WaitForHealthy polls the tenant's health endpoint until it returns 200 or
// the timeout elapses. Network errors and non-200 statuses both count as
// "not yet healthy" while polling.
func (p *Prober) WaitForHealthy(ctx context.Context, url string, timeout time.Duration) error {
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		res, err := p.CheckOnce(ctx, url, probeRequestTimeout)
		if err == nil && res.Status == http.StatusOK {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if time.Now().After(deadline) {
			return &HealthTimeoutError{URL: url, Elapsed: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}
