// Package market is the repository over the markets snapshot table.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coinpulse/marketmanager/database/repository"
)

const selectColumns = `id, name, base, quote, exchange_id, last, bid, ask, open, close,
high, low, volume, updated`

var orderings = map[string]string{
	"name":   "name",
	"volume": "volume",
	"last":   "last",
	"bid":    "bid",
	"ask":    "ask",
	"base":   "base",
}

// Repo provides access to market rows
type Repo struct {
	db *sqlx.DB
}

// NewRepo returns a Repo over db
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// ByExchangeForUpdate loads and row-locks every market of an exchange inside
// the caller's transaction. The snapshot updater holds these locks for the
// whole reconcile.
func (r *Repo) ByExchangeForUpdate(ctx context.Context, ext sqlx.ExtContext, exchangeID int64) ([]Market, error) {
	rows, err := ext.QueryxContext(ctx,
		"SELECT "+selectColumns+" FROM markets WHERE exchange_id = $1 ORDER BY id FOR UPDATE",
		exchangeID)
	if err != nil {
		return nil, fmt.Errorf("locking markets for exchange %d: %w", exchangeID, err)
	}
	defer rows.Close()

	var out []Market
	for rows.Next() {
		var m Market
		if err := rows.StructScan(&m); err != nil {
			return nil, fmt.Errorf("scanning market row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating market rows: %w", err)
	}
	return out, nil
}

// Update rewrites every data field of an existing row inside the caller's
// transaction. The exchange id is deliberately not part of the update.
func (r *Repo) Update(ctx context.Context, ext sqlx.ExtContext, m *Market) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE markets
		SET name = $2, base = $3, quote = $4, last = $5, bid = $6, ask = $7,
		    open = $8, close = $9, high = $10, low = $11, volume = $12, updated = $13
		WHERE id = $1`,
		m.ID, m.Name, m.Base, m.Quote, m.Last, m.Bid, m.Ask,
		m.Open, m.Close, m.High, m.Low, m.Volume, m.Updated)
	if err != nil {
		return fmt.Errorf("updating market %s: %w", m.Name, err)
	}
	return nil
}

// Insert stores a new market row inside the caller's transaction
func (r *Repo) Insert(ctx context.Context, ext sqlx.ExtContext, m *Market) error {
	err := sqlx.GetContext(ctx, ext, &m.ID,
		`INSERT INTO markets (name, base, quote, exchange_id, last, bid, ask, open, close,
		high, low, volume, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		m.Name, m.Base, m.Quote, m.ExchangeID, m.Last, m.Bid, m.Ask, m.Open, m.Close,
		m.High, m.Low, m.Volume, m.Updated)
	if err != nil {
		return fmt.Errorf("inserting market %s: %w", m.Name, err)
	}
	return nil
}

// FiatQuoted returns every market quoted in one of the given fiat symbols.
// The rate resolver uses it as the local fallback when a batch carries no
// fiat anchor of its own.
func (r *Repo) FiatQuoted(ctx context.Context, fiatSymbols []string) ([]Market, error) {
	var out []Market
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+selectColumns+" FROM markets WHERE quote = ANY($1) ORDER BY name",
		pq.Array(fiatSymbols))
	if err != nil {
		return nil, fmt.Errorf("querying fiat-quoted markets: %w", err)
	}
	return out, nil
}

// DeleteStale removes rows not updated since the horizon and reports how
// many went
func (r *Repo) DeleteStale(ctx context.Context, horizon time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM markets WHERE updated < $1", horizon)
	if err != nil {
		return 0, fmt.Errorf("deleting stale markets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// List returns the filtered page plus the unpaginated row count
func (r *Repo) List(ctx context.Context, f Filter) ([]Market, int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.ID.Valid {
		add("id = $%d", f.ID.Int64)
	}
	if f.ExchangeID.Valid {
		add("exchange_id = $%d", f.ExchangeID.Int64)
	}
	if f.Name != "" {
		add("name = $%d", f.Name)
	}
	if f.Base != "" {
		add("base = $%d", f.Base)
	}
	if f.Quote != "" {
		add("quote = $%d", f.Quote)
	}
	if f.VolumeLT.Valid {
		add("volume <= $%d", f.VolumeLT.Float64)
	}
	if f.VolumeGT.Valid {
		add("volume >= $%d", f.VolumeGT.Float64)
	}
	if f.LastLT.Valid {
		add("last <= $%d", f.LastLT.Float64)
	}
	if f.LastGT.Valid {
		add("last >= $%d", f.LastGT.Float64)
	}
	if f.BidGT.Valid {
		add("bid >= $%d", f.BidGT.Float64)
	}
	if f.AskLT.Valid {
		add("ask <= $%d", f.AskLT.Float64)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("(base ILIKE $%d OR quote ILIKE $%d)", len(args), len(args)))
	}

	clause := repository.Where(where)

	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM markets"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("counting markets: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM markets" + clause +
		repository.OrderBy(orderings, f.Ordering, "id") +
		repository.Page(&args, f.Limit, f.Offset)
	var out []Market
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("querying markets: %w", err)
	}
	return out, count, nil
}
