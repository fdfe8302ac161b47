// Package ticker normalises heterogeneous upstream ticker payloads into the
// canonical batch both stores consume.
package ticker

import (
	"sort"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/common/convert"
	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/exchanges"
)

// Price is one normalised market record
type Price struct {
	Base       string
	Quote      string
	Last       float64
	Bid        float64
	Ask        float64
	Open       float64
	Close      float64
	High       float64
	Low        float64
	Volume     float64
	ExchangeID int64
}

// Batch maps canonical market names (BASE-QUOTE) to prices
type Batch map[string]Price

// SortedNames returns the batch keys in lexicographic order. Consumers that
// care about reproducible clobber behaviour iterate through this.
func (b Batch) SortedNames() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// infoKeys are probed on the record's raw venue JSON when the typed fields
// yield nothing splittable.
var infoKeys = []string{"symbol", "market", "name"}

// Parse normalises raw upstream records into a Batch. Entries whose pair
// cannot be resolved are dropped and counted; numeric fields that are absent,
// null or malformed coerce to zero. Input keys are walked in sorted order so
// canonical-name collisions resolve the same way on every run.
func Parse(data map[string]exchanges.RawTicker, exchangeID int64, log zerolog.Logger) (Batch, int) {
	batch := make(Batch, len(data))
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dropped int
	for _, key := range keys {
		rec := data[key]
		pair, ok := resolvePair(key, &rec)
		if !ok {
			dropped++
			log.Debug().Str("key", key).Msg("skipping unparseable ticker entry")
			continue
		}
		p := Price{
			Base:       pair.Base.Upper().String(),
			Quote:      pair.Quote.Upper().String(),
			Last:       floatField(rec.Last, "last", key, log),
			Bid:        floatField(rec.Bid, "bid", key, log),
			Ask:        floatField(rec.Ask, "ask", key, log),
			Open:       floatField(rec.Open, "open", key, log),
			Close:      floatField(rec.Close, "close", key, log),
			High:       floatField(rec.High, "high", key, log),
			Low:        floatField(rec.Low, "low", key, log),
			Volume:     floatField(rec.BaseVolume, "baseVolume", key, log),
			ExchangeID: exchangeID,
		}
		batch[pair.Canonical()] = p
	}
	return batch, dropped
}

// resolvePair works through the resolution rules in order: an underlying
// anchored name, then splittable symbol fields on the record and its raw
// info, then the upstream map key itself.
func resolvePair(key string, rec *exchanges.RawTicker) (currency.Pair, bool) {
	if rec.Underlying != "" && rec.Name != "" && strings.Contains(rec.Name, rec.Underlying) {
		if p, err := currency.NewPairFromUnderlying(rec.Name, rec.Underlying); err == nil {
			return p, true
		}
	}

	for _, candidate := range []string{rec.Symbol, rec.Market, rec.Name} {
		if p, ok := splitCandidate(candidate); ok {
			return p, true
		}
	}
	if len(rec.Info) > 0 {
		for _, k := range infoKeys {
			s, err := jsonparser.GetString(rec.Info, k)
			if err != nil {
				continue
			}
			if p, ok := splitCandidate(s); ok {
				return p, true
			}
		}
	}

	if strings.Contains(key, "/") {
		if p, err := currency.NewPairDelimiter(key, "/"); err == nil {
			return p, true
		}
	}
	return currency.Pair{}, false
}

func splitCandidate(s string) (currency.Pair, bool) {
	if s == "" {
		return currency.Pair{}, false
	}
	p, err := currency.NewPairFromString(s)
	if err != nil {
		return currency.Pair{}, false
	}
	return p, true
}

func floatField(raw any, field, key string, log zerolog.Logger) float64 {
	f, err := convert.FloatFromAny(raw)
	if err != nil {
		log.Debug().Str("key", key).Str("field", field).Msg("unparseable numeric field, defaulting to 0")
		return 0
	}
	return f
}
