package exchangestatus

import (
	"errors"

	"github.com/volatiletech/null"
)

// ErrStatusNotFound is returned when no row matches the lookup
var ErrStatusNotFound = errors.New("exchange status not found")

// Status is the per-exchange run-state row, one-to-one with an exchange.
// running transitions false->true only through the scheduler's Claim (or the
// worker's idempotent MarkRunning for manual runs) and true->false only
// through Finish, Fail or ClearRunning.
type Status struct {
	ID            int64       `db:"id" json:"id"`
	ExchangeID    int64       `db:"exchange_id" json:"exchange"`
	Running       bool        `db:"running" json:"running"`
	TimeStarted   null.Time   `db:"time_started" json:"time_started"`
	LastRun       null.Time   `db:"last_run" json:"last_run"`
	LastRunID     null.String `db:"last_run_id" json:"last_run_id"`
	LastRunStatus null.String `db:"last_run_status" json:"last_run_status"`
	Timeout       int64       `db:"timeout" json:"timeout"`
}

// Filter narrows List calls
type Filter struct {
	ExchangeID    null.Int64
	Running       null.Bool
	LastRunLT     null.Time
	LastRunGT     null.Time
	TimeStartedLT null.Time
	TimeStartedGT null.Time
	Ordering      string
	Limit         int
	Offset        int
}
