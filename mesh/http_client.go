package mesh

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds one GET of a scanner's report.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of GET attempts per scanner, the first
	// included.
	DefaultMaxRetries = 3

	// defaultBaseBackoff doubles after each failed attempt: 500ms, 1s, ...
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes caps a report body. A beacon line is at most ~25 bytes,
	// so 8 MB leaves room for several hundred thousand beacons while keeping a
	// misbehaving endpoint from exhausting memory.
	maxResponseBytes = 8 << 20
)

// FetchOption tunes how scanner reports are fetched over HTTP.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets how many GET attempts are made per scanner.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the first retry delay; later delays double it.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient replaces the default client, e.g. with an httptest server's.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchScannerReading GETs one scanner's beacon report from apiURL and parses
// it with ParseScannerPayload. Transport errors and non-200 responses are
// retried with backoff. A payload that does not parse, or whose header names
// a different scanner, fails at once since a retry would return the same body.
func FetchScannerReading(ctx context.Context, scannerID int, apiURL string, opts ...FetchOption) (ScannerReading, error) {
	if apiURL == "" {
		return ScannerReading{}, fmt.Errorf("fetch scanner %d: API URL is empty", scannerID)
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return ScannerReading{}, fmt.Errorf("fetch scanner %d: %w", scannerID, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, apiURL)
		if err != nil {
			lastErr = err
			continue
		}

		reading, err := ParseScannerPayload(scannerID, body)
		if err != nil {
			return ScannerReading{}, fmt.Errorf("fetch scanner %d: %w", scannerID, err)
		}
		if reading.ID != scannerID {
			return ScannerReading{}, fmt.Errorf("fetch scanner %d: %w: payload names scanner %d", scannerID, ErrMalformedInput, reading.ID)
		}
		return reading, nil
	}

	return ScannerReading{}, fmt.Errorf("fetch scanner %d: all %d attempts failed: %w", scannerID, cfg.maxRetries, lastErr)
}

// FetchConfiguredReadings fetches every scanner in config that has an apiUrl,
// in config order, so the first fetched scanner becomes the anchor. Scanners
// without an apiUrl are skipped. The first failure aborts the whole fetch.
func FetchConfiguredReadings(ctx context.Context, config *Config, opts ...FetchOption) ([]ScannerReading, error) {
	var readings []ScannerReading
	for _, sc := range config.Scanners {
		if sc.ApiURL == nil || *sc.ApiURL == "" {
			continue
		}
		r, err := FetchScannerReading(ctx, sc.ID, *sc.ApiURL, opts...)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// doFetch performs one GET and returns the (size-capped) body.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}
