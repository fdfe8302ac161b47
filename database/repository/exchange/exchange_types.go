package exchange

import (
	"errors"
	"time"

	"github.com/volatiletech/null"
)

// ErrExchangeNotFound is returned when no row matches the lookup
var ErrExchangeNotFound = errors.New("exchange not found")

// Details is one exchange row. Summary fields (volume, top pair, last fetch)
// are owned by the snapshot updater; enablement and metadata by admin
// actions.
type Details struct {
	ID            int64        `db:"id" json:"id"`
	Name          string       `db:"name" json:"name"`
	Interval      int64        `db:"interval" json:"interval"`
	Enabled       bool         `db:"enabled" json:"enabled"`
	FiatMarkets   bool         `db:"fiat_markets" json:"fiat_markets"`
	URL           null.String  `db:"url" json:"url"`
	APIURL        null.String  `db:"api_url" json:"api_url"`
	Logo          null.String  `db:"logo" json:"logo"`
	Volume        null.Float64 `db:"volume" json:"volume"`
	TopPair       null.String  `db:"top_pair" json:"top_pair"`
	TopPairVolume null.Float64 `db:"top_pair_volume" json:"top_pair_volume"`
	LastDataFetch null.Time    `db:"last_data_fetch" json:"last_data_fetch"`
	Created       time.Time    `db:"created" json:"created"`
	Updated       time.Time    `db:"updated" json:"updated"`
}

// Summary carries the derived per-exchange aggregates the updater writes
type Summary struct {
	Volume        float64
	TopPair       string
	TopPairVolume float64
}

// Filter narrows List calls. Zero/invalid members are ignored. Ordering
// accepts a whitelisted column name with an optional leading '-' for
// descending order.
type Filter struct {
	Name        string
	Enabled     null.Bool
	LastFetchLT null.Time
	LastFetchGT null.Time
	VolumeLT    null.Float64
	VolumeGT    null.Float64
	Interval    null.Int64
	IntervalLT  null.Int64
	IntervalGT  null.Int64
	CreatedLT   null.Time
	CreatedGT   null.Time
	Ordering    string
	Limit       int
	Offset      int
}
