// Package rates derives per-currency fiat valuations from a ticker batch so
// volumes can be expressed in one fiat unit.
package rates

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/coinmanager"
	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/exchanges/ticker"
)

// MarketSource supplies persisted fiat-quoted markets for the local fallback
type MarketSource interface {
	FiatQuoted(ctx context.Context, fiatSymbols []string) ([]market.Market, error)
}

// CurrencySource supplies aggregated currency prices for the final fallback
type CurrencySource interface {
	Currencies(ctx context.Context) ([]coinmanager.Currency, error)
}

// Result is a resolved rate map plus the bases that were directly fiat-quoted
// in the batch. FiatPairs is persisted verbatim; Rates only feeds the
// summary.
type Result struct {
	Rates     map[string]float64
	FiatPairs map[string]float64
}

// Resolver builds Results for ticker batches. Resolution never fails: when
// every source comes up dry the rate map is simply empty and the caller skips
// summarisation for the run.
type Resolver struct {
	fiat       *currency.FiatSet
	markets    MarketSource
	currencies CurrencySource
	log        zerolog.Logger
}

// NewResolver returns a Resolver over the given fallback sources
func NewResolver(fiat *currency.FiatSet, markets MarketSource, currencies CurrencySource, log zerolog.Logger) *Resolver {
	return &Resolver{fiat: fiat, markets: markets, currencies: currencies, log: log}
}

// Resolve derives the rate map for one batch. Entries quoted in fiat with a
// positive last price seed the map, a single transitive pass extends it to
// bases only quoted in already-priced currencies, and two fallbacks (local
// snapshot, then the currency service) cover batches with no fiat anchor of
// their own. The batch is walked in sorted name order so repeated bases
// resolve to the same winner on every run.
func (r *Resolver) Resolve(ctx context.Context, batch ticker.Batch) Result {
	rates := make(map[string]float64)
	fiatPairs := make(map[string]float64)

	names := batch.SortedNames()
	for _, name := range names {
		p := batch[name]
		if p.Last <= 0 || !r.fiat.ContainsString(p.Quote) {
			continue
		}
		rates[p.Base] = p.Last
		fiatPairs[p.Base] = p.Last
	}

	for _, name := range names {
		p := batch[name]
		if p.Last <= 0 {
			continue
		}
		quoteRate, ok := rates[p.Quote]
		if !ok {
			continue
		}
		if _, ok := rates[p.Base]; ok {
			continue
		}
		rates[p.Base] = p.Last * quoteRate
	}

	if len(rates) == 0 {
		r.fromSnapshot(ctx, rates)
	}
	if len(rates) == 0 {
		r.fromCurrencyService(ctx, rates)
	}
	return Result{Rates: rates, FiatPairs: fiatPairs}
}

func (r *Resolver) fromSnapshot(ctx context.Context, rates map[string]float64) {
	markets, err := r.markets.FiatQuoted(ctx, r.fiat.Slice())
	if err != nil {
		r.log.Warn().Err(err).Msg("local fiat market lookup failed")
		return
	}
	for _, m := range markets {
		rates[m.Base] = m.Last
	}
	if len(markets) > 0 {
		r.log.Debug().Int("markets", len(markets)).Msg("seeded rates from local fiat markets")
	}
}

func (r *Resolver) fromCurrencyService(ctx context.Context, rates map[string]float64) {
	currencies, err := r.currencies.Currencies(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("currency service lookup failed")
		return
	}
	for _, c := range currencies {
		rates[c.Symbol] = c.Price
	}
	r.log.Debug().Int("currencies", len(currencies)).Msg("seeded rates from currency service")
}
