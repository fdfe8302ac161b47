// Package updater reconciles the relational snapshot with one fetched batch.
package updater

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/fiatprice"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/exchanges/ticker"
	"github.com/coinpulse/marketmanager/rates"
)

// Updater applies fetched batches to the snapshot store. Each run is one
// transaction: market rows are locked, rewritten or created, fiat prices
// upserted, the exchange summary recomputed and the fetch watermark advanced,
// or none of it happens.
type Updater struct {
	db        *sqlx.DB
	markets   *market.Repo
	fiat      *fiatprice.Repo
	exchanges *exchange.Repo
	fiatSet   *currency.FiatSet
	log       zerolog.Logger
}

// New returns an Updater over db
func New(db *sqlx.DB, fiatSet *currency.FiatSet, log zerolog.Logger) *Updater {
	return &Updater{
		db:        db,
		markets:   market.NewRepo(db),
		fiat:      fiatprice.NewRepo(db),
		exchanges: exchange.NewRepo(db),
		fiatSet:   fiatSet,
		log:       log.With().Str("component", "updater").Logger(),
	}
}

// Run brings the snapshot in line with one batch. A transaction that loses a
// serialisation conflict or deadlock is retried once in full; any other
// failure rolls back and surfaces to the caller.
func (u *Updater) Run(ctx context.Context, exchangeID int64, batch ticker.Batch, res rates.Result) error {
	err := u.runOnce(ctx, exchangeID, batch, res)
	if isSerializationFailure(err) {
		u.log.Warn().Err(err).Int64("exchange_id", exchangeID).
			Msg("snapshot transaction conflicted, retrying once")
		err = u.runOnce(ctx, exchangeID, batch, res)
	}
	return err
}

func (u *Updater) runOnce(ctx context.Context, exchangeID int64, batch ticker.Batch, res rates.Result) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	if err := u.apply(ctx, tx, exchangeID, batch, res); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			u.log.Error().Err(rbErr).Int64("exchange_id", exchangeID).Msg("snapshot rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot transaction: %w", err)
	}
	return nil
}

func (u *Updater) apply(ctx context.Context, tx *sqlx.Tx, exchangeID int64, batch ticker.Batch, res rates.Result) error {
	now := time.Now()

	existing, err := u.markets.ByExchangeForUpdate(ctx, tx, exchangeID)
	if err != nil {
		return err
	}

	working := make(ticker.Batch, len(batch))
	for name, p := range batch {
		working[name] = p
	}

	var updated int
	for i := range existing {
		p, ok := working[existing[i].Name]
		if !ok {
			continue
		}
		row := existing[i]
		copyPrice(&row, p, now)
		if err := u.markets.Update(ctx, tx, &row); err != nil {
			return err
		}
		delete(working, row.Name)
		updated++
	}

	for _, name := range working.SortedNames() {
		row := market.Market{Name: name, ExchangeID: exchangeID}
		copyPrice(&row, working[name], now)
		if err := u.markets.Insert(ctx, tx, &row); err != nil {
			return err
		}
	}

	currencies := make([]string, 0, len(res.FiatPairs))
	for c := range res.FiatPairs {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		p := fiatprice.Price{Currency: c, ExchangeID: exchangeID, Price: res.FiatPairs[c], Updated: now}
		if err := u.fiat.Upsert(ctx, tx, &p); err != nil {
			return err
		}
	}

	if len(res.Rates) == 0 {
		u.log.Error().Int64("exchange_id", exchangeID).
			Msg("no fiat rates resolved, keeping previous exchange summary")
	} else {
		s := summarize(batch, res.Rates, u.fiatSet)
		if err := u.exchanges.UpdateSummary(ctx, tx, exchangeID, s); err != nil {
			return err
		}
	}

	u.log.Info().Int64("exchange_id", exchangeID).Int("updated", updated).
		Int("created", len(batch)-updated).Int("fiat_prices", len(currencies)).
		Msg("snapshot reconciled")

	return u.exchanges.SetLastDataFetch(ctx, tx, exchangeID, now)
}

// copyPrice rewrites every data field of a row from the batch record. The
// exchange id is deliberately left alone.
func copyPrice(m *market.Market, p ticker.Price, now time.Time) {
	m.Base = p.Base
	m.Quote = p.Quote
	m.Last = p.Last
	m.Bid = p.Bid
	m.Ask = p.Ask
	m.Open = p.Open
	m.Close = p.Close
	m.High = p.High
	m.Low = p.Low
	m.Volume = p.Volume
	m.Updated = now
}

// summarize expresses each pair's base volume in the canonical fiat unit and
// totals it. Pairs with no route to fiat are skipped; ties on the top pair go
// to the lexicographically later name.
func summarize(batch ticker.Batch, rateMap map[string]float64, fiat *currency.FiatSet) exchange.Summary {
	var s exchange.Summary
	for _, name := range batch.SortedNames() {
		p := batch[name]

		var quotePrice float64
		if fiat.ContainsString(p.Quote) {
			quotePrice = 1
		} else {
			quotePrice = rateMap[p.Quote]
		}

		var basePrice float64
		switch {
		case fiat.ContainsString(p.Base):
			basePrice = 1
		case quotePrice != 0 && p.Last > 0 && fiat.ContainsString(p.Quote):
			basePrice = p.Last
		default:
			basePrice = rateMap[p.Base]
		}

		var value float64
		switch {
		case basePrice != 0:
			value = p.Volume * basePrice
		case quotePrice != 0 && p.Last != 0:
			value = p.Volume * p.Last * quotePrice
		default:
			continue
		}

		s.Volume += value
		if value >= s.TopPairVolume {
			s.TopPair = name
			s.TopPairVolume = value
		}
	}
	return s
}

// isSerializationFailure spots the two transaction conflicts worth one
// immediate retry: serialization_failure and deadlock_detected
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
