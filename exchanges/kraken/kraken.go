// Package kraken implements the public market-data surface of the Kraken
// REST API.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coinpulse/marketmanager/exchanges"
)

// Name is the registry identifier for this driver
const Name = "kraken"

const (
	krakenAPIURL     = "https://api.kraken.com"
	krakenAPIVersion = "0"
	krakenAssets     = "Assets"
	krakenAssetPairs = "AssetPairs"
	krakenTicker     = "Ticker"
)

// Kraken wraps the venue's public endpoints
type Kraken struct {
	requester *exchanges.Requester
	apiURL    string

	mu    sync.Mutex
	pairs map[string]AssetPair // keyed by the API result key, e.g. XXBTZUSD
}

// New returns a Kraken driver. A nil client uses the package default.
func New(client *http.Client) *Kraken {
	return &Kraken{
		requester: exchanges.NewRequester(Name, client, rate.Every(time.Second), 1),
		apiURL:    krakenAPIURL,
	}
}

// Name implements exchanges.Exchange
func (k *Kraken) Name() string { return Name }

// Details implements exchanges.Exchange
func (k *Kraken) Details() exchanges.Details {
	return exchanges.Details{
		URL:    "https://www.kraken.com",
		APIURL: krakenAPIURL,
		Logo:   "https://www.kraken.com/favicon.ico",
	}
}

// HasFetchTickers implements exchanges.Exchange. The public Ticker endpoint
// returns the whole board when no pair is given.
func (k *Kraken) HasFetchTickers() bool { return true }

func (k *Kraken) publicPath(endpoint string) string {
	return fmt.Sprintf("%s/%s/public/%s", k.apiURL, krakenAPIVersion, endpoint)
}

// getError folds the API error array into the shared upstream error kinds
func getError(apiErrors []string) error {
	if len(apiErrors) == 0 {
		return nil
	}
	joined := strings.Join(apiErrors, ", ")
	switch {
	case strings.Contains(joined, "Rate limit"), strings.Contains(joined, "Too many requests"):
		return fmt.Errorf("%w: %s", exchanges.ErrRateLimited, joined)
	case strings.Contains(joined, "Unknown asset pair"):
		return fmt.Errorf("%w: %s", exchanges.ErrSymbolUnavailable, joined)
	case strings.Contains(joined, "Timeout"):
		return fmt.Errorf("%w: %s", exchanges.ErrRequestTimeout, joined)
	default:
		return fmt.Errorf("kraken api error: %s", joined)
	}
}

func (k *Kraken) assetPairs(ctx context.Context) (map[string]AssetPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pairs != nil {
		return k.pairs, nil
	}
	var response struct {
		Error  []string             `json:"error"`
		Result map[string]AssetPair `json:"result"`
	}
	if err := k.requester.GetJSON(ctx, k.publicPath(krakenAssetPairs), &response); err != nil {
		return nil, err
	}
	if err := getError(response.Error); err != nil {
		return nil, err
	}
	k.pairs = response.Result
	return k.pairs, nil
}

// Symbols implements exchanges.Exchange, returning websocket-style names
// such as XBT/USD
func (k *Kraken) Symbols(ctx context.Context) ([]string, error) {
	pairs, err := k.assetPairs(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if s := p.symbol(); s != "" {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (p AssetPair) symbol() string {
	if p.WSName != "" {
		return p.WSName
	}
	return p.Altname
}

// FetchTickers implements exchanges.Exchange
func (k *Kraken) FetchTickers(ctx context.Context) (map[string]exchanges.RawTicker, error) {
	pairs, err := k.assetPairs(ctx)
	if err != nil {
		return nil, err
	}
	var response struct {
		Error  []string                   `json:"error"`
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := k.requester.GetJSON(ctx, k.publicPath(krakenTicker), &response); err != nil {
		return nil, err
	}
	if err := getError(response.Error); err != nil {
		return nil, err
	}

	out := make(map[string]exchanges.RawTicker, len(response.Result))
	for key, raw := range response.Result {
		pair, ok := pairs[key]
		if !ok {
			continue
		}
		out[pair.symbol()] = rawTickerFrom(pair, raw)
	}
	return out, nil
}

// FetchTicker implements exchanges.Exchange. The symbol is matched against
// the wsname and altname of the listed pairs.
func (k *Kraken) FetchTicker(ctx context.Context, symbol string) (exchanges.RawTicker, error) {
	pairs, err := k.assetPairs(ctx)
	if err != nil {
		return exchanges.RawTicker{}, err
	}
	key := ""
	var match AssetPair
	for name, p := range pairs {
		if strings.EqualFold(p.WSName, symbol) || strings.EqualFold(p.Altname, symbol) {
			key, match = name, p
			break
		}
	}
	if key == "" {
		return exchanges.RawTicker{}, fmt.Errorf("%w: %s", exchanges.ErrSymbolUnavailable, symbol)
	}

	values := url.Values{}
	values.Set("pair", key)
	var response struct {
		Error  []string                   `json:"error"`
		Result map[string]json.RawMessage `json:"result"`
	}
	path := k.publicPath(krakenTicker) + "?" + values.Encode()
	if err := k.requester.GetJSON(ctx, path, &response); err != nil {
		return exchanges.RawTicker{}, err
	}
	if err := getError(response.Error); err != nil {
		return exchanges.RawTicker{}, err
	}
	for _, raw := range response.Result {
		return rawTickerFrom(match, raw), nil
	}
	return exchanges.RawTicker{}, fmt.Errorf("%w: %s", exchanges.ErrSymbolUnavailable, symbol)
}

// FetchMarkets implements exchanges.Exchange
func (k *Kraken) FetchMarkets(ctx context.Context) ([]exchanges.MarketInfo, error) {
	pairs, err := k.assetPairs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchanges.MarketInfo, 0, len(pairs))
	for _, p := range pairs {
		symbol := p.symbol()
		base, quote := p.Base, p.Quote
		if parts := strings.Split(p.WSName, "/"); len(parts) == 2 {
			base, quote = parts[0], parts[1]
		}
		out = append(out, exchanges.MarketInfo{Symbol: symbol, Base: base, Quote: quote})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// FetchCurrencies implements exchanges.Exchange, returning display names
// such as XBT and USD
func (k *Kraken) FetchCurrencies(ctx context.Context) ([]string, error) {
	var response struct {
		Error  []string         `json:"error"`
		Result map[string]Asset `json:"result"`
	}
	if err := k.requester.GetJSON(ctx, k.publicPath(krakenAssets), &response); err != nil {
		return nil, err
	}
	if err := getError(response.Error); err != nil {
		return nil, err
	}
	currencies := make([]string, 0, len(response.Result))
	for name, asset := range response.Result {
		if asset.Altname != "" {
			currencies = append(currencies, asset.Altname)
			continue
		}
		currencies = append(currencies, name)
	}
	sort.Strings(currencies)
	return currencies, nil
}

func rawTickerFrom(pair AssetPair, raw json.RawMessage) exchanges.RawTicker {
	var data TickerData
	_ = json.Unmarshal(raw, &data)

	base, quote := pair.Base, pair.Quote
	if parts := strings.Split(pair.WSName, "/"); len(parts) == 2 {
		base, quote = parts[0], parts[1]
	}
	return exchanges.RawTicker{
		Symbol:     pair.symbol(),
		Base:       base,
		Quote:      quote,
		Last:       first(data.Last),
		Bid:        first(data.Bid),
		Ask:        first(data.Ask),
		Open:       data.Open,
		High:       second(data.High),
		Low:        second(data.Low),
		BaseVolume: second(data.Volume),
		Info:       raw,
	}
}

func first(arr []string) any {
	if len(arr) == 0 {
		return nil
	}
	return arr[0]
}

// second returns the rolling 24h element Kraken puts at index 1
func second(arr []string) any {
	if len(arr) < 2 {
		return first(arr)
	}
	return arr[1]
}
