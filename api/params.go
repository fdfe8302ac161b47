package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/volatiletech/null"

	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/database/repository/fiatprice"
	"github.com/coinpulse/marketmanager/database/repository/market"
)

// Accepted timestamp layouts for range filters
var timeLayouts = []string{time.RFC3339, "2006-01-02"}

func queryInt64(q url.Values, key string) (null.Int64, error) {
	raw := q.Get(key)
	if raw == "" {
		return null.Int64{}, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return null.Int64{}, fmt.Errorf("invalid value for %s: %q", key, raw)
	}
	return null.Int64From(v), nil
}

func queryFloat(q url.Values, key string) (null.Float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return null.Float64{}, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return null.Float64{}, fmt.Errorf("invalid value for %s: %q", key, raw)
	}
	return null.Float64From(v), nil
}

func queryBool(q url.Values, key string) (null.Bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return null.Bool{}, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return null.Bool{}, fmt.Errorf("invalid value for %s: %q", key, raw)
	}
	return null.BoolFrom(v), nil
}

func queryTime(q url.Values, key string) (null.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return null.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return null.TimeFrom(t), nil
		}
	}
	return null.Time{}, fmt.Errorf("invalid value for %s: %q", key, raw)
}

// exchangeFilter maps /exchanges query params onto the repository filter.
// Range params follow the FIELD__gte / FIELD__lte convention; ordering takes
// a whitelisted column with an optional leading '-'.
func exchangeFilter(r *http.Request) (exchange.Filter, error) {
	q := r.URL.Query()
	f := exchange.Filter{
		Name:     q.Get("name"),
		Ordering: q.Get("ordering"),
	}
	f.Limit, f.Offset = pageParams(r)

	var err error
	if f.Enabled, err = queryBool(q, "enabled"); err != nil {
		return f, err
	}
	if f.VolumeGT, err = queryFloat(q, "volume__gte"); err != nil {
		return f, err
	}
	if f.VolumeLT, err = queryFloat(q, "volume__lte"); err != nil {
		return f, err
	}
	if f.LastFetchGT, err = queryTime(q, "last_updated__gte"); err != nil {
		return f, err
	}
	if f.LastFetchLT, err = queryTime(q, "last_updated__lte"); err != nil {
		return f, err
	}
	if f.Interval, err = queryInt64(q, "interval"); err != nil {
		return f, err
	}
	if f.IntervalGT, err = queryInt64(q, "interval__gte"); err != nil {
		return f, err
	}
	if f.IntervalLT, err = queryInt64(q, "interval__lte"); err != nil {
		return f, err
	}
	if f.CreatedGT, err = queryTime(q, "created__gte"); err != nil {
		return f, err
	}
	if f.CreatedLT, err = queryTime(q, "created__lte"); err != nil {
		return f, err
	}
	return f, nil
}

// marketFilter maps /markets query params onto the repository filter.
// The search param matches base or quote case-insensitively.
func marketFilter(r *http.Request) (market.Filter, error) {
	q := r.URL.Query()
	f := market.Filter{
		Name:     q.Get("name"),
		Base:     q.Get("base"),
		Quote:    q.Get("quote"),
		Search:   q.Get("search"),
		Ordering: q.Get("ordering"),
	}
	f.Limit, f.Offset = pageParams(r)

	var err error
	if f.ID, err = queryInt64(q, "id"); err != nil {
		return f, err
	}
	if f.ExchangeID, err = queryInt64(q, "exchange"); err != nil {
		return f, err
	}
	if f.VolumeGT, err = queryFloat(q, "volume__gte"); err != nil {
		return f, err
	}
	if f.VolumeLT, err = queryFloat(q, "volume__lte"); err != nil {
		return f, err
	}
	if f.LastGT, err = queryFloat(q, "last__gte"); err != nil {
		return f, err
	}
	if f.LastLT, err = queryFloat(q, "last__lte"); err != nil {
		return f, err
	}
	if f.BidGT, err = queryFloat(q, "bid__gte"); err != nil {
		return f, err
	}
	if f.AskLT, err = queryFloat(q, "ask__lte"); err != nil {
		return f, err
	}
	return f, nil
}

// statusFilter maps /exchange_statuses query params onto the repository
// filter
func statusFilter(r *http.Request) (exchangestatus.Filter, error) {
	q := r.URL.Query()
	f := exchangestatus.Filter{Ordering: q.Get("ordering")}
	f.Limit, f.Offset = pageParams(r)

	var err error
	if f.ExchangeID, err = queryInt64(q, "exchange"); err != nil {
		return f, err
	}
	if f.Running, err = queryBool(q, "running"); err != nil {
		return f, err
	}
	if f.LastRunGT, err = queryTime(q, "last_run__gte"); err != nil {
		return f, err
	}
	if f.LastRunLT, err = queryTime(q, "last_run__lte"); err != nil {
		return f, err
	}
	if f.TimeStartedGT, err = queryTime(q, "time_started__gte"); err != nil {
		return f, err
	}
	if f.TimeStartedLT, err = queryTime(q, "time_started__lte"); err != nil {
		return f, err
	}
	return f, nil
}

// fiatFilter maps /fiat_prices query params onto the repository filter
func fiatFilter(r *http.Request) (fiatprice.Filter, error) {
	q := r.URL.Query()
	f := fiatprice.Filter{
		Currency: q.Get("currency"),
		Ordering: q.Get("ordering"),
	}
	f.Limit, f.Offset = pageParams(r)

	var err error
	if f.ExchangeID, err = queryInt64(q, "exchange"); err != nil {
		return f, err
	}
	if f.PriceGT, err = queryFloat(q, "price__gte"); err != nil {
		return f, err
	}
	if f.PriceLT, err = queryFloat(q, "price__lte"); err != nil {
		return f, err
	}
	return f, nil
}
