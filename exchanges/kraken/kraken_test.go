package kraken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/marketmanager/exchanges"
)

const assetPairsFixture = `{
	"error": [],
	"result": {
		"XXBTZUSD": {"altname": "XBTUSD", "wsname": "XBT/USD", "base": "XXBT", "quote": "ZUSD"},
		"XETHXXBT": {"altname": "ETHXBT", "wsname": "ETH/XBT", "base": "XETH", "quote": "XXBT"}
	}
}`

const tickerFixture = `{
	"error": [],
	"result": {
		"XXBTZUSD": {
			"a": ["30010.1", "1", "1.000"],
			"b": ["30000.2", "2", "2.000"],
			"c": ["30005.5", "0.1"],
			"v": ["55.5", "100.25"],
			"l": ["29000.0", "28900.0"],
			"h": ["30500.0", "30600.0"],
			"o": "29500.0"
		},
		"XETHXXBT": {
			"a": ["0.061", "5", "5.000"],
			"b": ["0.059", "9", "9.000"],
			"c": ["0.06", "12"],
			"v": ["1000", "2000"],
			"l": ["0.055", "0.054"],
			"h": ["0.065", "0.066"],
			"o": "0.058"
		}
	}
}`

const assetsFixture = `{
	"error": [],
	"result": {
		"XXBT": {"aclass": "currency", "altname": "XBT"},
		"ZUSD": {"aclass": "currency", "altname": "USD"}
	}
}`

func testServer(t *testing.T) *Kraken {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/0/public/AssetPairs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(assetPairsFixture))
	})
	mux.HandleFunc("/0/public/Ticker", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(tickerFixture))
	})
	mux.HandleFunc("/0/public/Assets", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(assetsFixture))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	k := New(srv.Client())
	k.apiURL = srv.URL
	return k
}

func TestFetchTickers(t *testing.T) {
	t.Parallel()
	k := testServer(t)
	tickers, err := k.FetchTickers(context.Background())
	require.NoError(t, err)
	require.Len(t, tickers, 2)

	btc, ok := tickers["XBT/USD"]
	require.True(t, ok)
	assert.Equal(t, "XBT", btc.Base)
	assert.Equal(t, "USD", btc.Quote)
	assert.Equal(t, "30005.5", btc.Last)
	assert.Equal(t, "30000.2", btc.Bid)
	assert.Equal(t, "30010.1", btc.Ask)
	assert.Equal(t, "29500.0", btc.Open)
	assert.Equal(t, "30600.0", btc.High)
	assert.Equal(t, "28900.0", btc.Low)
	assert.Equal(t, "100.25", btc.BaseVolume)
	assert.NotEmpty(t, btc.Info)
}

func TestFetchTicker(t *testing.T) {
	t.Parallel()
	k := testServer(t)
	tick, err := k.FetchTicker(context.Background(), "XBT/USD")
	require.NoError(t, err)
	assert.Equal(t, "XBT/USD", tick.Symbol)

	_, err = k.FetchTicker(context.Background(), "NOPE/USD")
	assert.ErrorIs(t, err, exchanges.ErrSymbolUnavailable)
}

func TestSymbolsAndMarkets(t *testing.T) {
	t.Parallel()
	k := testServer(t)
	symbols, err := k.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH/XBT", "XBT/USD"}, symbols)

	markets, err := k.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "ETH", markets[0].Base)
	assert.Equal(t, "XBT", markets[0].Quote)
}

func TestFetchCurrencies(t *testing.T) {
	t.Parallel()
	k := testServer(t)
	currencies, err := k.FetchCurrencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "XBT"}, currencies)
}

func TestGetError(t *testing.T) {
	t.Parallel()
	assert.NoError(t, getError(nil))
	assert.ErrorIs(t, getError([]string{"EAPI:Rate limit exceeded"}), exchanges.ErrRateLimited)
	assert.ErrorIs(t, getError([]string{"EQuery:Unknown asset pair"}), exchanges.ErrSymbolUnavailable)
	assert.ErrorIs(t, getError([]string{"EService:Timeout"}), exchanges.ErrRequestTimeout)
	assert.Error(t, getError([]string{"EGeneral:Internal error"}))
}
