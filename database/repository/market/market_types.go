package market

import (
	"time"

	"github.com/volatiletech/null"
)

// Market is one snapshot row, unique per (name, exchange). Rows are created
// and mutated only by the snapshot updater; pairs an exchange stops listing
// persist until the staleness sweep removes them.
type Market struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Base       string    `db:"base" json:"base"`
	Quote      string    `db:"quote" json:"quote"`
	ExchangeID int64     `db:"exchange_id" json:"exchange"`
	Last       float64   `db:"last" json:"last"`
	Bid        float64   `db:"bid" json:"bid"`
	Ask        float64   `db:"ask" json:"ask"`
	Open       float64   `db:"open" json:"open"`
	Close      float64   `db:"close" json:"close"`
	High       float64   `db:"high" json:"high"`
	Low        float64   `db:"low" json:"low"`
	Volume     float64   `db:"volume" json:"volume"`
	Updated    time.Time `db:"updated" json:"updated"`
}

// Filter narrows List calls. Search matches base or quote case-insensitively.
type Filter struct {
	ID         null.Int64
	ExchangeID null.Int64
	Name       string
	Base       string
	Quote      string
	VolumeLT   null.Float64
	VolumeGT   null.Float64
	LastLT     null.Float64
	LastGT     null.Float64
	BidGT      null.Float64
	AskLT      null.Float64
	Search     string
	Ordering   string
	Limit      int
	Offset     int
}
