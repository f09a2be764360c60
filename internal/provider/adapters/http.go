// Package adapters holds the concrete provider adapters. Each adapter
// embeds provider.Base for counters, cooldown, rate limiting and circuit
// breaking, and implements the fetch operations its upstream supports.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kiarashplusplus/fiml/internal/provider"
)

// maxBodyBytes bounds upstream response bodies.
const maxBodyBytes = 4 << 20

// getJSON issues one GET under the adapter's limiter/breaker and decodes
// the body into v, translating upstream failures into structured
// provider errors: 429 becomes a rate-limit error carrying the
// Retry-After hint, 401/403 auth, 451 regional, other non-2xx protocol,
// and an empty body structural.
func getJSON(ctx context.Context, base *provider.Base, url string, headers map[string]string, v any) error {
	name := base.Name()

	return base.Do(ctx, func(ctx context.Context) error {
		client := base.HTTPClient()
		if client == nil {
			return provider.NewError(name, provider.KindAuth, "adapter not initialized")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return provider.WrapError(name, provider.KindProtocol, "building request", err)
		}
		req.Header.Set("Accept", "application/json")
		for k, val := range headers {
			req.Header.Set(k, val)
		}

		resp, err := client.Do(req)
		if err != nil {
			return provider.WrapError(name, provider.KindTransport, "upstream request failed", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &provider.Error{
				Provider:   name,
				Kind:       provider.KindRateLimit,
				Message:    "upstream rate limit exceeded",
				HTTPStatus: resp.StatusCode,
				RetryAfter: retryAfter(resp),
			}
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &provider.Error{
				Provider:   name,
				Kind:       provider.KindAuth,
				Message:    "upstream rejected credentials",
				HTTPStatus: resp.StatusCode,
			}
		case resp.StatusCode == http.StatusUnavailableForLegalReasons:
			return &provider.Error{
				Provider:   name,
				Kind:       provider.KindRegional,
				Message:    "upstream rejects caller region",
				HTTPStatus: resp.StatusCode,
			}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return &provider.Error{
				Provider:   name,
				Kind:       provider.KindProtocol,
				Message:    fmt.Sprintf("upstream status %d", resp.StatusCode),
				HTTPStatus: resp.StatusCode,
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return provider.WrapError(name, provider.KindTransport, "reading response body", err)
		}
		if len(body) == 0 {
			return provider.NewError(name, provider.KindStructural, "empty response body")
		}
		if err := json.Unmarshal(body, v); err != nil {
			return provider.WrapError(name, provider.KindStructural, "malformed response body", err)
		}
		return nil
	})
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
