// Package polymarket holds the HTTP plumbing shared by the Polymarket API clients.
package polymarket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/walletpnl/internal/metrics"
)

var (
	// ErrNotFound means the upstream does not know the requested subject
	ErrNotFound = errors.New("upstream: not found")
	// ErrRateLimited is returned for HTTP 429
	ErrRateLimited = errors.New("upstream: rate limited")
	// ErrUnavailable covers 5xx responses and transport failures
	ErrUnavailable = errors.New("upstream: unavailable")
)

// StatusError is a non-200 response from an upstream API
type StatusError struct {
	API        string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.API, e.Endpoint, e.StatusCode, e.Body)
}

// Is maps status codes onto the package sentinels
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

// IsRateLimited reports whether err was caused by upstream throttling
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

const maxErrorBody = 512

// Get performs a GET request and returns the body of a 200 response.
// Every call is recorded in the API metrics under api/endpoint.
func Get(ctx context.Context, client *http.Client, api, endpoint, rawURL string, headers map[string]string) ([]byte, error) {
	start := time.Now()
	body, err := get(ctx, client, api, endpoint, rawURL, headers)
	metrics.RecordAPIRequest(api, endpoint, time.Since(start), err)
	return body, err
}

func get(ctx context.Context, client *http.Client, api, endpoint, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("execute request: %w", ctxErr)
		}
		return nil, fmt.Errorf("execute request: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			API:        api,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w: %v", ErrUnavailable, err)
	}
	return body, nil
}

// Number decodes JSON numbers that upstream sometimes sends as strings
type Number float64

// UnmarshalJSON accepts 1.5, "1.5", "" and null
func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decode number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// Float returns the value as float64
func (n Number) Float() float64 { return float64(n) }

// ParseTime accepts the date shapes seen across Polymarket endpoints:
// unix seconds, RFC3339 and bare dates.
func ParseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
