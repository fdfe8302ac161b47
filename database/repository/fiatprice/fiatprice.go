// Package fiatprice is the repository over per-exchange fiat valuations.
package fiatprice

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/coinpulse/marketmanager/database/repository"
)

const selectColumns = "id, currency, exchange_id, price, updated"

var orderings = map[string]string{
	"currency": "currency",
	"price":    "price",
	"updated":  "updated",
}

// Repo provides access to fiat price rows
type Repo struct {
	db *sqlx.DB
}

// NewRepo returns a Repo over db
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// Upsert stores or refreshes one valuation inside the caller's transaction.
// A currency is priced once per exchange; replays only move price and
// updated.
func (r *Repo) Upsert(ctx context.Context, ext sqlx.ExtContext, p *Price) error {
	err := sqlx.GetContext(ctx, ext, &p.ID,
		`INSERT INTO currency_fiat_prices (currency, exchange_id, price, updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (currency, exchange_id)
		DO UPDATE SET price = EXCLUDED.price, updated = EXCLUDED.updated
		RETURNING id`,
		p.Currency, p.ExchangeID, p.Price, p.Updated)
	if err != nil {
		return fmt.Errorf("upserting fiat price for %s: %w", p.Currency, err)
	}
	return nil
}

// ByExchange returns every valuation an exchange has produced
func (r *Repo) ByExchange(ctx context.Context, exchangeID int64) ([]Price, error) {
	var out []Price
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+selectColumns+" FROM currency_fiat_prices WHERE exchange_id = $1 ORDER BY currency",
		exchangeID)
	if err != nil {
		return nil, fmt.Errorf("querying fiat prices for exchange %d: %w", exchangeID, err)
	}
	return out, nil
}

// List returns the filtered page plus the unpaginated row count
func (r *Repo) List(ctx context.Context, f Filter) ([]Price, int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Currency != "" {
		add("currency = $%d", f.Currency)
	}
	if f.ExchangeID.Valid {
		add("exchange_id = $%d", f.ExchangeID.Int64)
	}
	if f.PriceLT.Valid {
		add("price <= $%d", f.PriceLT.Float64)
	}
	if f.PriceGT.Valid {
		add("price >= $%d", f.PriceGT.Float64)
	}

	clause := repository.Where(where)

	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM currency_fiat_prices"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("counting fiat prices: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM currency_fiat_prices" + clause +
		repository.OrderBy(orderings, f.Ordering, "id") +
		repository.Page(&args, f.Limit, f.Offset)
	var out []Price
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("querying fiat prices: %w", err)
	}
	return out, count, nil
}
