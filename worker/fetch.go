package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/exchanges"
)

// fetchTickers pulls the raw board using the venue's best capability: the
// whole board in one call when supported, then a walk of the listed symbols,
// then a walk of the listed markets. Venues flagged fiat_markets only have
// their fiat-quoted markets walked.
func fetchTickers(ctx context.Context, drv exchanges.Exchange, exc *exchange.Details, fiat *currency.FiatSet, log zerolog.Logger) (map[string]exchanges.RawTicker, error) {
	if drv.HasFetchTickers() {
		out, err := drv.FetchTickers(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching tickers: %w", err)
		}
		return out, nil
	}

	symbols, err := drv.Symbols(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not list symbols, trying markets")
	}
	if len(symbols) > 0 {
		return fetchEach(ctx, drv, symbols, log)
	}

	markets, err := drv.FetchMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching markets: %w", err)
	}
	wanted := make([]string, 0, len(markets))
	for i := range markets {
		if exc.FiatMarkets && !fiat.ContainsString(markets[i].Quote) {
			continue
		}
		wanted = append(wanted, markets[i].Symbol)
	}
	if len(wanted) == 0 {
		return nil, fmt.Errorf("%w: %s", exchanges.ErrNoSymbols, exc.Name)
	}
	return fetchEach(ctx, drv, wanted, log)
}

// fetchEach walks symbols one ticker at a time. Unavailable symbols are
// skipped, a throttle or upstream timeout ends the walk early with whatever
// was collected, anything else aborts the run.
func fetchEach(ctx context.Context, drv exchanges.Exchange, symbols []string, log zerolog.Logger) (map[string]exchanges.RawTicker, error) {
	out := make(map[string]exchanges.RawTicker, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := drv.FetchTicker(ctx, symbol)
		switch {
		case err == nil:
			out[symbol] = t
		case errors.Is(err, exchanges.ErrRateLimited), errors.Is(err, exchanges.ErrRequestTimeout):
			log.Warn().Err(err).Str("symbol", symbol).Int("collected", len(out)).
				Msg("ending symbol walk early")
			return out, nil
		case errors.Is(err, exchanges.ErrSymbolUnavailable):
			log.Debug().Err(err).Str("symbol", symbol).Msg("skipping symbol")
		default:
			return nil, fmt.Errorf("fetching ticker %s: %w", symbol, err)
		}
	}
	return out, nil
}
