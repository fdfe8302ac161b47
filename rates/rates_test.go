package rates

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/marketmanager/coinmanager"
	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/exchanges/ticker"
)

type fakeMarkets struct {
	markets []market.Market
	err     error
	calls   int
}

func (f *fakeMarkets) FiatQuoted(_ context.Context, _ []string) ([]market.Market, error) {
	f.calls++
	return f.markets, f.err
}

type fakeCurrencies struct {
	currencies []coinmanager.Currency
	err        error
	calls      int
}

func (f *fakeCurrencies) Currencies(_ context.Context) ([]coinmanager.Currency, error) {
	f.calls++
	return f.currencies, f.err
}

func newResolver(t *testing.T, markets *fakeMarkets, currencies *fakeCurrencies) *Resolver {
	t.Helper()
	fiat, err := currency.NewFiatSet("USD", "EUR")
	require.NoError(t, err)
	return NewResolver(fiat, markets, currencies, zerolog.Nop())
}

func TestResolveSeedAndTransitive(t *testing.T) {
	t.Parallel()
	markets := &fakeMarkets{}
	currencies := &fakeCurrencies{}
	r := newResolver(t, markets, currencies)

	batch := ticker.Batch{
		"BTC-USD": {Base: "BTC", Quote: "USD", Last: 30000, Volume: 10},
		"ETH-BTC": {Base: "ETH", Quote: "BTC", Last: 0.06, Volume: 100},
	}
	res := r.Resolve(context.Background(), batch)

	assert.Equal(t, map[string]float64{"BTC": 30000, "ETH": 1800}, res.Rates)
	assert.Equal(t, map[string]float64{"BTC": 30000}, res.FiatPairs)
	assert.Zero(t, markets.calls)
	assert.Zero(t, currencies.calls)
}

func TestResolveRepeatedBaseLastNameWins(t *testing.T) {
	t.Parallel()
	r := newResolver(t, &fakeMarkets{}, &fakeCurrencies{})

	batch := ticker.Batch{
		"BTC-EUR": {Base: "BTC", Quote: "EUR", Last: 28000},
		"BTC-USD": {Base: "BTC", Quote: "USD", Last: 30000},
	}
	res := r.Resolve(context.Background(), batch)

	// BTC-USD sorts after BTC-EUR and overwrites it
	assert.Equal(t, 30000.0, res.Rates["BTC"])
	assert.Equal(t, 30000.0, res.FiatPairs["BTC"])
}

func TestResolveSkipsNonPositiveLast(t *testing.T) {
	t.Parallel()
	r := newResolver(t, &fakeMarkets{}, &fakeCurrencies{err: errors.New("down")})

	batch := ticker.Batch{
		"BTC-USD": {Base: "BTC", Quote: "USD", Last: 0},
		"ETH-BTC": {Base: "ETH", Quote: "BTC", Last: 0.06},
	}
	res := r.Resolve(context.Background(), batch)

	assert.Empty(t, res.Rates)
	assert.Empty(t, res.FiatPairs)
}

func TestResolveTransitiveKeepsExistingRate(t *testing.T) {
	t.Parallel()
	r := newResolver(t, &fakeMarkets{}, &fakeCurrencies{})

	batch := ticker.Batch{
		"ETH-BTC": {Base: "ETH", Quote: "BTC", Last: 0.06},
		"ETH-USD": {Base: "ETH", Quote: "USD", Last: 1850},
		"BTC-USD": {Base: "BTC", Quote: "USD", Last: 30000},
	}
	res := r.Resolve(context.Background(), batch)

	// the direct fiat quote is not clobbered by the transitive pass
	assert.Equal(t, 1850.0, res.Rates["ETH"])
	assert.Equal(t, map[string]float64{"BTC": 30000, "ETH": 1850}, res.FiatPairs)
}

func TestResolveLocalFallback(t *testing.T) {
	t.Parallel()
	markets := &fakeMarkets{markets: []market.Market{
		{Base: "BTC", Quote: "USD", Last: 29500},
		{Base: "LTC", Quote: "EUR", Last: 80},
	}}
	currencies := &fakeCurrencies{}
	r := newResolver(t, markets, currencies)

	batch := ticker.Batch{
		"ETH-BTC": {Base: "ETH", Quote: "BTC", Last: 0.06},
	}
	res := r.Resolve(context.Background(), batch)

	assert.Equal(t, map[string]float64{"BTC": 29500, "LTC": 80}, res.Rates)
	assert.Empty(t, res.FiatPairs)
	assert.Equal(t, 1, markets.calls)
	assert.Zero(t, currencies.calls)
}

func TestResolveCurrencyServiceFallback(t *testing.T) {
	t.Parallel()
	markets := &fakeMarkets{}
	currencies := &fakeCurrencies{currencies: []coinmanager.Currency{
		{Symbol: "BTC", Price: 29000},
		{Symbol: "ETH", Price: 1790},
	}}
	r := newResolver(t, markets, currencies)

	res := r.Resolve(context.Background(), ticker.Batch{
		"ETH-BTC": {Base: "ETH", Quote: "BTC", Last: 0.06},
	})

	assert.Equal(t, map[string]float64{"BTC": 29000, "ETH": 1790}, res.Rates)
	assert.Equal(t, 1, markets.calls)
	assert.Equal(t, 1, currencies.calls)
}

func TestResolveEverySourceDry(t *testing.T) {
	t.Parallel()
	markets := &fakeMarkets{err: errors.New("db down")}
	currencies := &fakeCurrencies{err: coinmanager.ErrNoResults}
	r := newResolver(t, markets, currencies)

	res := r.Resolve(context.Background(), ticker.Batch{
		"ETH-BTC": {Base: "ETH", Quote: "BTC", Last: 0.06},
	})

	assert.Empty(t, res.Rates)
	assert.Empty(t, res.FiatPairs)
}
