// Package timeseries appends market history to InfluxDB and serves the
// historical read queries. The snapshot store stays authoritative for
// "current"; everything here is best effort.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/common/convert"
	"github.com/coinpulse/marketmanager/exchanges/ticker"
)

// writeWorkers bounds the concurrent point writes per batch
const writeWorkers = 5

var (
	// ErrUnavailable is returned by Ping when the server does not answer ready
	ErrUnavailable = errors.New("timeseries store not ready")
	// ErrBadTimeRange rejects lookback values that are not simple durations
	ErrBadTimeRange = errors.New("time range must be a duration like 30m, 1h or 7d")

	durationRe = regexp.MustCompile(`^[0-9]+(ms|s|m|h|d|w)$`)
	tagKeyRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Config carries the connection and measurement settings
type Config struct {
	URL              string
	Token            string
	Org              string
	Bucket           string
	MeasurementPairs string
	MeasurementFiat  string
}

// Query bounds a historical lookup. Start is a lookback duration ("1h",
// "7d"); Stop optionally trims the recent end of the window the same way.
// Tags are matched exactly.
type Query struct {
	Start string
	Stop  string
	Tags  map[string]string
}

// Point is one resolved timestamp in a measurement with its tag set and
// every field recorded at that instant
type Point struct {
	Time   time.Time          `json:"timestamp"`
	Tags   map[string]string  `json:"tags"`
	Fields map[string]float64 `json:"fields"`
}

// Store wraps one InfluxDB org/bucket
type Store struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	cfg    Config
	log    zerolog.Logger
}

// NewStore connects a Store. Points carry millisecond precision to match
// the write cadence; nothing here is fetched per call so construction cannot
// fail.
func NewStore(cfg Config, log zerolog.Logger) *Store {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetPrecision(time.Millisecond))
	return &Store{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		cfg:    cfg,
		log:    log,
	}
}

// Ping reports whether the server answers ready
func (s *Store) Ping(ctx context.Context) error {
	up, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("pinging timeseries store: %w", err)
	}
	if !up {
		return ErrUnavailable
	}
	return nil
}

// Close releases the underlying client
func (s *Store) Close() {
	s.client.Close()
}

// WriteBatch appends one point per batch entry to the pairs measurement and
// one per fiat valuation to the fiat measurement, all stamped with the same
// write time. Failed writes are logged and counted, never returned: the
// caller's run does not fail on history.
func (s *Store) WriteBatch(ctx context.Context, exchangeID int64, batch ticker.Batch, fiatPairs map[string]float64) int {
	now := time.Now()
	exchangeTag := strconv.FormatInt(exchangeID, 10)

	points := make([]*write.Point, 0, len(batch)+len(fiatPairs))
	for _, name := range batch.SortedNames() {
		p := batch[name]
		points = append(points, influxdb2.NewPoint(s.cfg.MeasurementPairs,
			map[string]string{
				"base":        p.Base,
				"quote":       p.Quote,
				"symbol":      name,
				"exchange_id": exchangeTag,
			},
			map[string]any{
				"last": p.Last, "bid": p.Bid, "ask": p.Ask, "open": p.Open,
				"close": p.Close, "high": p.High, "low": p.Low, "volume": p.Volume,
			},
			now))
	}

	currencies := make([]string, 0, len(fiatPairs))
	for c := range fiatPairs {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		points = append(points, influxdb2.NewPoint(s.cfg.MeasurementFiat,
			map[string]string{"currency": c, "exchange_id": exchangeTag},
			map[string]any{"price": fiatPairs[c]},
			now))
	}

	failed := s.writePoints(ctx, points)
	if failed > 0 {
		s.log.Warn().Int("failed", failed).Int("total", len(points)).
			Int64("exchange_id", exchangeID).Msg("some timeseries writes failed")
	}
	return failed
}

func (s *Store) writePoints(ctx context.Context, points []*write.Point) int {
	var (
		failed int64
		wg     sync.WaitGroup
	)
	queue := make(chan *write.Point)
	for i := 0; i < writeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range queue {
				if err := s.write.WritePoint(ctx, p); err != nil {
					atomic.AddInt64(&failed, 1)
					s.log.Warn().Err(err).Msg("timeseries point write failed")
				}
			}
		}()
	}
	for _, p := range points {
		queue <- p
	}
	close(queue)
	wg.Wait()
	return int(failed)
}

// QueryPairs returns historical pair points matching the query
func (s *Store) QueryPairs(ctx context.Context, q Query) ([]Point, error) {
	return s.queryMeasurement(ctx, s.cfg.MeasurementPairs, q,
		[]string{"base", "quote", "symbol", "exchange_id"})
}

// QueryFiat returns historical fiat valuations matching the query
func (s *Store) QueryFiat(ctx context.Context, q Query) ([]Point, error) {
	return s.queryMeasurement(ctx, s.cfg.MeasurementFiat, q,
		[]string{"currency", "exchange_id"})
}

// queryMeasurement runs one flux query and folds the per-field records back
// into points keyed by timestamp and tag set
func (s *Store) queryMeasurement(ctx context.Context, measurement string, q Query, tagKeys []string) ([]Point, error) {
	flux, err := buildFlux(s.cfg.Bucket, measurement, q)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("flux", flux).Msg("running timeseries query")

	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", measurement, err)
	}

	var (
		out   []Point
		index = make(map[string]int)
	)
	for res.Next() {
		rec := res.Record()
		key := rec.Time().UTC().Format(time.RFC3339Nano)
		tags := make(map[string]string, len(tagKeys))
		for _, k := range tagKeys {
			if v, ok := rec.ValueByKey(k).(string); ok {
				tags[k] = v
				key += "|" + v
			}
		}
		i, ok := index[key]
		if !ok {
			out = append(out, Point{Time: rec.Time(), Tags: tags, Fields: make(map[string]float64)})
			i = len(out) - 1
			index[key] = i
		}
		if f, err := convert.FloatFromAny(rec.Value()); err == nil {
			out[i].Fields[rec.Field()] = f
		}
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("reading %s results: %w", measurement, err)
	}
	return out, nil
}

// buildFlux assembles the range/filter pipeline. Tag values go through %q so
// user input cannot escape the filter expression; keys and durations are
// validated outright.
func buildFlux(bucket, measurement string, q Query) (string, error) {
	if !durationRe.MatchString(q.Start) {
		return "", fmt.Errorf("%w: start %q", ErrBadTimeRange, q.Start)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)", bucket)
	if q.Stop != "" {
		if !durationRe.MatchString(q.Stop) {
			return "", fmt.Errorf("%w: stop %q", ErrBadTimeRange, q.Stop)
		}
		fmt.Fprintf(&b, " |> range(start: -%s, stop: -%s)", q.Start, q.Stop)
	} else {
		fmt.Fprintf(&b, " |> range(start: -%s)", q.Start)
	}
	fmt.Fprintf(&b, " |> filter(fn: (r) => (r._measurement == %q))", measurement)

	keys := make([]string, 0, len(q.Tags))
	for k := range q.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !tagKeyRe.MatchString(k) {
			return "", fmt.Errorf("invalid tag key %q", k)
		}
		fmt.Fprintf(&b, " |> filter(fn: (r) => (r.%s == %q))", k, q.Tags[k])
	}
	return b.String(), nil
}
