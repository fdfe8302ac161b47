// Package bitfinex implements the public market-data surface of the Bitfinex
// v2 REST API.
package bitfinex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coinpulse/marketmanager/exchanges"
)

// Name is the registry identifier for this driver
const Name = "bitfinex"

const (
	bitfinexAPIURL     = "https://api-pub.bitfinex.com"
	bitfinexTickers    = "/v2/tickers"
	bitfinexTicker     = "/v2/ticker/"
	bitfinexPairsConf  = "/v2/conf/pub:list:pair:exchange"
	bitfinexCurrencies = "/v2/conf/pub:list:currency"
)

// Indexes into the v2 ticker array for trading pairs. The tickers endpoint
// prepends the symbol, the single-ticker endpoint does not.
const (
	idxBid = iota
	_      // bid size
	idxAsk
	_ // ask size
	_ // daily change
	_ // daily change relative
	idxLast
	idxVolume
	idxHigh
	idxLow
	tickerArrayLen = 10
)

// Bitfinex wraps the venue's public endpoints
type Bitfinex struct {
	requester *exchanges.Requester
	apiURL    string
}

// New returns a Bitfinex driver. A nil client uses the package default.
func New(client *http.Client) *Bitfinex {
	return &Bitfinex{
		requester: exchanges.NewRequester(Name, client, rate.Every(time.Second), 2),
		apiURL:    bitfinexAPIURL,
	}
}

// Name implements exchanges.Exchange
func (b *Bitfinex) Name() string { return Name }

// Details implements exchanges.Exchange
func (b *Bitfinex) Details() exchanges.Details {
	return exchanges.Details{
		URL:    "https://www.bitfinex.com",
		APIURL: bitfinexAPIURL,
		Logo:   "https://www.bitfinex.com/favicon.ico",
	}
}

// HasFetchTickers implements exchanges.Exchange
func (b *Bitfinex) HasFetchTickers() bool { return true }

// FetchTickers implements exchanges.Exchange
func (b *Bitfinex) FetchTickers(ctx context.Context) (map[string]exchanges.RawTicker, error) {
	var rows []json.RawMessage
	if err := b.requester.GetJSON(ctx, b.apiURL+bitfinexTickers+"?symbols=ALL", &rows); err != nil {
		return nil, err
	}

	out := make(map[string]exchanges.RawTicker, len(rows))
	for _, raw := range rows {
		var fields []any
		if err := json.Unmarshal(raw, &fields); err != nil || len(fields) < tickerArrayLen+1 {
			continue
		}
		apiSymbol, ok := fields[0].(string)
		if !ok || !strings.HasPrefix(apiSymbol, "t") {
			// funding rows carry an f prefix and a different shape
			continue
		}
		symbol := normaliseSymbol(apiSymbol)
		out[symbol] = rawTickerFrom(symbol, fields[1:], raw)
	}
	return out, nil
}

// FetchTicker implements exchanges.Exchange
func (b *Bitfinex) FetchTicker(ctx context.Context, symbol string) (exchanges.RawTicker, error) {
	var fields []any
	if err := b.requester.GetJSON(ctx, b.apiURL+bitfinexTicker+apiSymbol(symbol), &fields); err != nil {
		return exchanges.RawTicker{}, err
	}
	if len(fields) < tickerArrayLen {
		return exchanges.RawTicker{}, fmt.Errorf("%w: %s", exchanges.ErrSymbolUnavailable, symbol)
	}
	raw, _ := json.Marshal(fields)
	return rawTickerFrom(normaliseSymbol(apiSymbol(symbol)), fields, raw), nil
}

// Symbols implements exchanges.Exchange
func (b *Bitfinex) Symbols(ctx context.Context) ([]string, error) {
	pairs, err := b.listConf(ctx, b.apiURL+bitfinexPairsConf)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		symbols = append(symbols, normalisePair(p))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// FetchMarkets implements exchanges.Exchange
func (b *Bitfinex) FetchMarkets(ctx context.Context) ([]exchanges.MarketInfo, error) {
	pairs, err := b.listConf(ctx, b.apiURL+bitfinexPairsConf)
	if err != nil {
		return nil, err
	}
	out := make([]exchanges.MarketInfo, 0, len(pairs))
	for _, p := range pairs {
		symbol := normalisePair(p)
		parts := strings.Split(symbol, "/")
		if len(parts) != 2 {
			continue
		}
		out = append(out, exchanges.MarketInfo{Symbol: symbol, Base: parts[0], Quote: parts[1]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// FetchCurrencies implements exchanges.Exchange
func (b *Bitfinex) FetchCurrencies(ctx context.Context) ([]string, error) {
	currencies, err := b.listConf(ctx, b.apiURL+bitfinexCurrencies)
	if err != nil {
		return nil, err
	}
	sort.Strings(currencies)
	return currencies, nil
}

// listConf decodes the [[...]] envelope the conf endpoints use
func (b *Bitfinex) listConf(ctx context.Context, url string) ([]string, error) {
	var envelope [][]string
	if err := b.requester.GetJSON(ctx, url, &envelope); err != nil {
		return nil, err
	}
	if len(envelope) == 0 {
		return nil, exchanges.ErrNoSymbols
	}
	return envelope[0], nil
}

func rawTickerFrom(symbol string, fields []any, raw json.RawMessage) exchanges.RawTicker {
	t := exchanges.RawTicker{Symbol: symbol, Info: raw}
	if parts := strings.Split(symbol, "/"); len(parts) == 2 {
		t.Base, t.Quote = parts[0], parts[1]
	}
	at := func(i int) any {
		if i < len(fields) {
			return fields[i]
		}
		return nil
	}
	t.Bid = at(idxBid)
	t.Ask = at(idxAsk)
	t.Last = at(idxLast)
	t.BaseVolume = at(idxVolume)
	t.High = at(idxHigh)
	t.Low = at(idxLow)
	return t
}

// normaliseSymbol turns a v2 API symbol such as tBTCUSD or tDOGE:USD into
// BTC/USD form
func normaliseSymbol(api string) string {
	s := strings.TrimPrefix(api, "t")
	return normalisePair(s)
}

func normalisePair(s string) string {
	if i := strings.Index(s, ":"); i != -1 {
		return s[:i] + "/" + s[i+1:]
	}
	if len(s) == 6 {
		return s[:3] + "/" + s[3:]
	}
	return s
}

// apiSymbol is the inverse of normaliseSymbol
func apiSymbol(symbol string) string {
	if strings.HasPrefix(symbol, "t") && !strings.Contains(symbol, "/") {
		return symbol
	}
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return "t" + symbol
	}
	if len(parts[0]) > 3 || len(parts[1]) > 3 {
		return "t" + parts[0] + ":" + parts[1]
	}
	return "t" + parts[0] + parts[1]
}
