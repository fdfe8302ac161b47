package exchanges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultHTTPTimeout = 30 * time.Second

// Requester issues rate-limited JSON GET requests on behalf of a venue
// driver and folds transport failures into the shared upstream error kinds.
type Requester struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
}

// NewRequester returns a Requester pacing requests at rps with the given
// burst. A nil client gets a default with a sane timeout.
func NewRequester(name string, client *http.Client, rps rate.Limit, burst int) *Requester {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if burst < 1 {
		burst = 1
	}
	return &Requester{
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(rps, burst),
	}
}

// GetJSON fetches url and decodes the response body into result
func (r *Requester) GetJSON(ctx context.Context, url string, result any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: limiter wait: %w", r.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", r.name, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s: %w: %v", r.name, ErrRequestTimeout, err)
		}
		return fmt.Errorf("%s: request failed: %w", r.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusTeapot: // cloudflare venues throttle with 418
		return fmt.Errorf("%s: %w (status %d)", r.name, ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w (status %d)", r.name, ErrRequestTimeout, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w (status %d)", r.name, ErrSymbolUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: unexpected status %d", r.name, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s: decoding response: %w", r.name, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
