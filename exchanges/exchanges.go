// Package exchanges defines the narrow upstream surface the fetch pipeline
// consumes. Each venue driver lives in its own subpackage and maps its wire
// format into RawTicker records; everything past the driver boundary is
// venue-agnostic.
package exchanges

import (
	"context"
	"encoding/json"
	"errors"
)

// Upstream failure kinds. Per-symbol errors are swallowed by the fetch loop,
// rate limits and request timeouts break it, anything else aborts the run.
var (
	// ErrRateLimited flags an upstream throttle or DDoS-protection response
	ErrRateLimited = errors.New("upstream rate limit hit")
	// ErrRequestTimeout flags an upstream request that timed out
	ErrRequestTimeout = errors.New("upstream request timed out")
	// ErrSymbolUnavailable flags a single symbol the venue would not serve
	ErrSymbolUnavailable = errors.New("symbol unavailable on exchange")
	// ErrNoSymbols is returned when a venue exposes nothing fetchable
	ErrNoSymbols = errors.New("no symbols in exchange")
)

// Details carries venue metadata used when bootstrapping exchange rows
type Details struct {
	URL    string `json:"url"`
	APIURL string `json:"api_url"`
	Logo   string `json:"logo"`
}

// RawTicker is a single upstream ticker record before normalisation. Fields
// are optional; numeric values stay loosely typed because venues disagree on
// whether prices are numbers or strings. Info holds the venue's original
// JSON for the entry, probed for nested symbol hints.
type RawTicker struct {
	Symbol     string
	Market     string
	Name       string
	Underlying string
	Base       string
	Quote      string
	Last       any
	Bid        any
	Ask        any
	Open       any
	Close      any
	High       any
	Low        any
	BaseVolume any
	Info       json.RawMessage
}

// MarketInfo describes one listed market on a venue
type MarketInfo struct {
	Symbol string
	Base   string
	Quote  string
}

// Exchange is the capability set a venue driver provides. HasFetchTickers
// reports whether FetchTickers can return the whole board in one call;
// drivers without it are walked symbol by symbol.
type Exchange interface {
	Name() string
	Details() Details
	HasFetchTickers() bool
	FetchTickers(ctx context.Context) (map[string]RawTicker, error)
	FetchTicker(ctx context.Context, symbol string) (RawTicker, error)
	Symbols(ctx context.Context) ([]string, error)
	FetchMarkets(ctx context.Context) ([]MarketInfo, error)
	FetchCurrencies(ctx context.Context) ([]string, error)
}
