// Package coinmanager is the client for the external currency-price service
// the fiat rate resolver falls back to when a batch carries no usable fiat
// anchor.
package coinmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const (
	currenciesPath = "/internal/currencies/"
	fiatPath       = "/internal/fiat/"

	defaultTimeout = 10 * time.Second
)

// ErrNoResults is returned when the service responds with a zero count
var ErrNoResults = errors.New("currency service returned no results")

// Currency is one priced currency from the service
type Currency struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// FiatRate is one fiat conversion rate from the service
type FiatRate struct {
	Symbol string  `json:"symbol"`
	Rate   float64 `json:"rate"`
}

// Client talks to the currency service behind a circuit breaker so a dead
// service cannot stall every fetch run that needs the fallback.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New returns a Client for the service at baseURL. A nil client gets a
// default with a request timeout.
func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	settings := gobreaker.Settings{Name: "coinmanager"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return &Client{
		baseURL: baseURL,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Currencies fetches the full priced-currency listing
func (c *Client) Currencies(ctx context.Context) ([]Currency, error) {
	var out []Currency
	if err := c.get(ctx, c.baseURL+currenciesPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FiatRates fetches the fiat conversion listing
func (c *Client) FiatRates(ctx context.Context) ([]FiatRate, error) {
	var out []FiatRate
	if err := c.get(ctx, c.baseURL+fiatPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, url string, results any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("currency service request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("currency service status %d", resp.StatusCode)
		}

		var envelope struct {
			Count   int             `json:"count"`
			Results json.RawMessage `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("decoding currency service response: %w", err)
		}
		if envelope.Count == 0 || len(envelope.Results) == 0 {
			return nil, ErrNoResults
		}
		if err := json.Unmarshal(envelope.Results, results); err != nil {
			return nil, fmt.Errorf("decoding currency service results: %w", err)
		}
		return nil, nil
	})
	return err
}
