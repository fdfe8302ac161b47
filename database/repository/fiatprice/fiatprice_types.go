package fiatprice

import (
	"time"

	"github.com/volatiletech/null"
)

// Price is one fiat valuation of a currency as reported by an exchange
type Price struct {
	ID         int64     `db:"id" json:"id"`
	Currency   string    `db:"currency" json:"currency"`
	ExchangeID int64     `db:"exchange_id" json:"exchange"`
	Price      float64   `db:"price" json:"price"`
	Updated    time.Time `db:"updated" json:"updated"`
}

// Filter narrows List results
type Filter struct {
	Currency   string
	ExchangeID null.Int64
	PriceLT    null.Float64
	PriceGT    null.Float64
	Ordering   string
	Limit      int
	Offset     int
}
