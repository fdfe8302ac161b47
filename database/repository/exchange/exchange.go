// Package exchange is the repository over the exchanges table.
package exchange

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coinpulse/marketmanager/database/repository"
)

const selectColumns = `id, name, interval, enabled, fiat_markets, url, api_url, logo,
volume, top_pair, top_pair_volume, last_data_fetch, created, updated`

// orderings whitelist the column names List accepts
var orderings = map[string]string{
	"name":            "name",
	"volume":          "volume",
	"top_pair":        "top_pair",
	"top_pair_volume": "top_pair_volume",
}

// Repo provides access to exchange rows
type Repo struct {
	db *sqlx.DB
}

// NewRepo returns a Repo over db
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// One returns the exchange with the given id
func (r *Repo) One(ctx context.Context, id int64) (*Details, error) {
	var out Details
	err := r.db.GetContext(ctx, &out,
		"SELECT "+selectColumns+" FROM exchanges WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrExchangeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying exchange %d: %w", id, err)
	}
	return &out, nil
}

// OneByName returns the exchange with the given unique name
func (r *Repo) OneByName(ctx context.Context, name string) (*Details, error) {
	var out Details
	err := r.db.GetContext(ctx, &out,
		"SELECT "+selectColumns+" FROM exchanges WHERE name = $1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrExchangeNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying exchange %s: %w", name, err)
	}
	return &out, nil
}

// All returns every exchange ordered by id
func (r *Repo) All(ctx context.Context) ([]Details, error) {
	var out []Details
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+selectColumns+" FROM exchanges ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	return out, nil
}

// Enabled returns the exchanges the scheduler considers, ordered by id
func (r *Repo) Enabled(ctx context.Context) ([]Details, error) {
	var out []Details
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+selectColumns+" FROM exchanges WHERE enabled ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying enabled exchanges: %w", err)
	}
	return out, nil
}

// Insert stores a new exchange and fills in its generated id and timestamps
func (r *Repo) Insert(ctx context.Context, d *Details) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO exchanges (name, interval, enabled, fiat_markets, url, api_url, logo)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created, updated`,
		d.Name, d.Interval, d.Enabled, d.FiatMarkets, d.URL, d.APIURL, d.Logo).
		Scan(&d.ID, &d.Created, &d.Updated)
	if err != nil {
		return fmt.Errorf("inserting exchange %s: %w", d.Name, err)
	}
	return nil
}

// SetEnabled flips the enabled flag for one exchange
func (r *Repo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE exchanges SET enabled = $2, updated = now() WHERE id = $1", id, enabled)
	if err != nil {
		return fmt.Errorf("updating exchange %d enabled: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", ErrExchangeNotFound, id)
	}
	return nil
}

// SetEnabledAll flips the enabled flag on every exchange and reports how many
// rows changed
func (r *Repo) SetEnabledAll(ctx context.Context, enabled bool) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE exchanges SET enabled = $1, updated = now()", enabled)
	if err != nil {
		return 0, fmt.Errorf("updating exchanges enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SetFiatMarkets marks an exchange as listing fiat-quoted pairs. The flag is
// sticky so it is only ever raised.
func (r *Repo) SetFiatMarkets(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE exchanges SET fiat_markets = TRUE, updated = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("updating exchange %d fiat_markets: %w", id, err)
	}
	return nil
}

// UpdateSummary writes the derived aggregates inside the caller's transaction
func (r *Repo) UpdateSummary(ctx context.Context, ext sqlx.ExtContext, id int64, s Summary) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE exchanges SET volume = $2, top_pair = $3, top_pair_volume = $4, updated = now()
		WHERE id = $1`,
		id, s.Volume, s.TopPair, s.TopPairVolume)
	if err != nil {
		return fmt.Errorf("updating exchange %d summary: %w", id, err)
	}
	return nil
}

// SetLastDataFetch advances the fetch watermark inside the caller's
// transaction
func (r *Repo) SetLastDataFetch(ctx context.Context, ext sqlx.ExtContext, id int64, t time.Time) error {
	_, err := ext.ExecContext(ctx,
		"UPDATE exchanges SET last_data_fetch = $2, updated = now() WHERE id = $1", id, t)
	if err != nil {
		return fmt.Errorf("updating exchange %d last_data_fetch: %w", id, err)
	}
	return nil
}

// List returns the filtered page plus the unpaginated row count
func (r *Repo) List(ctx context.Context, f Filter) ([]Details, int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Name != "" {
		add("name = $%d", f.Name)
	}
	if f.Enabled.Valid {
		add("enabled = $%d", f.Enabled.Bool)
	}
	if f.LastFetchLT.Valid {
		add("last_data_fetch <= $%d", f.LastFetchLT.Time)
	}
	if f.LastFetchGT.Valid {
		add("last_data_fetch >= $%d", f.LastFetchGT.Time)
	}
	if f.VolumeLT.Valid {
		add("volume <= $%d", f.VolumeLT.Float64)
	}
	if f.VolumeGT.Valid {
		add("volume >= $%d", f.VolumeGT.Float64)
	}
	if f.Interval.Valid {
		add("interval = $%d", f.Interval.Int64)
	}
	if f.IntervalLT.Valid {
		add("interval <= $%d", f.IntervalLT.Int64)
	}
	if f.IntervalGT.Valid {
		add("interval >= $%d", f.IntervalGT.Int64)
	}
	if f.CreatedLT.Valid {
		add("created <= $%d", f.CreatedLT.Time)
	}
	if f.CreatedGT.Valid {
		add("created >= $%d", f.CreatedGT.Time)
	}

	clause := repository.Where(where)

	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM exchanges"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("counting exchanges: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM exchanges" + clause +
		repository.OrderBy(orderings, f.Ordering, "id") +
		repository.Page(&args, f.Limit, f.Offset)
	var out []Details
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("querying exchanges: %w", err)
	}
	return out, count, nil
}
