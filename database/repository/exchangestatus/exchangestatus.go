// Package exchangestatus is the repository over the exchange_status table,
// the coordination surface between the scheduler, the poller and the fetch
// workers.
package exchangestatus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coinpulse/marketmanager/database/repository"
)

const selectColumns = `id, exchange_id, running, time_started, last_run, last_run_id,
last_run_status, timeout`

var orderings = map[string]string{
	"exchange":     "exchange_id",
	"last_run":     "last_run",
	"time_started": "time_started",
	"running":      "running",
}

// Repo provides access to exchange status rows
type Repo struct {
	db             *sqlx.DB
	defaultTimeout time.Duration
}

// NewRepo returns a Repo over db. defaultTimeout seeds the timeout column of
// rows created on first sight; row values take precedence afterwards.
func NewRepo(db *sqlx.DB, defaultTimeout time.Duration) *Repo {
	return &Repo{db: db, defaultTimeout: defaultTimeout}
}

// ByExchange returns the status row for an exchange
func (r *Repo) ByExchange(ctx context.Context, exchangeID int64) (*Status, error) {
	var out Status
	err := r.db.GetContext(ctx, &out,
		"SELECT "+selectColumns+" FROM exchange_status WHERE exchange_id = $1", exchangeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: exchange %d", ErrStatusNotFound, exchangeID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying status for exchange %d: %w", exchangeID, err)
	}
	return &out, nil
}

// GetOrCreate returns the status row for an exchange, creating an idle one
// with the default timeout when the exchange has never been scheduled
func (r *Repo) GetOrCreate(ctx context.Context, exchangeID int64) (*Status, error) {
	out, err := r.ByExchange(ctx, exchangeID)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrStatusNotFound) {
		return nil, err
	}
	var created Status
	err = r.db.GetContext(ctx, &created,
		`INSERT INTO exchange_status (exchange_id, timeout)
		VALUES ($1, $2)
		ON CONFLICT (exchange_id) DO UPDATE SET exchange_id = EXCLUDED.exchange_id
		RETURNING `+selectColumns,
		exchangeID, int64(r.defaultTimeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("creating status for exchange %d: %w", exchangeID, err)
	}
	return &created, nil
}

// Running returns every status with the running flag set
func (r *Repo) Running(ctx context.Context) ([]Status, error) {
	var out []Status
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+selectColumns+" FROM exchange_status WHERE running ORDER BY exchange_id")
	if err != nil {
		return nil, fmt.Errorf("querying running statuses: %w", err)
	}
	return out, nil
}

// Claim atomically transitions running false->true for a dispatch, recording
// the job handle and start time. It reports false when the exchange is
// already running, which callers treat as somebody else holding the run lock.
func (r *Repo) Claim(ctx context.Context, exchangeID int64, runID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE exchange_status
		SET running = TRUE, time_started = $2, last_run_id = $3
		WHERE exchange_id = $1 AND NOT running`,
		exchangeID, now, runID)
	if err != nil {
		return false, fmt.Errorf("claiming exchange %d: %w", exchangeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkRunning raises the running flag from inside a worker. Manually
// enqueued jobs arrive without a scheduler claim; jobs that were claimed keep
// their dispatch-time start and handle.
func (r *Repo) MarkRunning(ctx context.Context, exchangeID int64, runID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE exchange_status
		SET time_started = CASE WHEN running THEN time_started ELSE $2 END,
		    last_run_id = CASE WHEN running THEN last_run_id ELSE $3 END,
		    running = TRUE
		WHERE exchange_id = $1`,
		exchangeID, now, runID)
	if err != nil {
		return fmt.Errorf("marking exchange %d running: %w", exchangeID, err)
	}
	return nil
}

// Finish records a successful run: the flag drops and last_run advances
func (r *Repo) Finish(ctx context.Context, exchangeID int64, diagnostic string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE exchange_status
		SET running = FALSE, last_run = $2, last_run_status = $3
		WHERE exchange_id = $1`,
		exchangeID, now, diagnostic)
	if err != nil {
		return fmt.Errorf("finishing exchange %d: %w", exchangeID, err)
	}
	return nil
}

// Fail records a failed or reaped run: the flag drops, the diagnostic is
// kept and last_run stays where it was
func (r *Repo) Fail(ctx context.Context, exchangeID int64, diagnostic string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE exchange_status
		SET running = FALSE, last_run_status = $2
		WHERE exchange_id = $1`,
		exchangeID, diagnostic)
	if err != nil {
		return fmt.Errorf("failing exchange %d: %w", exchangeID, err)
	}
	return nil
}

// ClearRunning defensively drops the running flag without touching anything
// else. The poller uses it for rows that claim to run but carry no start
// time.
func (r *Repo) ClearRunning(ctx context.Context, exchangeID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE exchange_status SET running = FALSE WHERE exchange_id = $1", exchangeID)
	if err != nil {
		return fmt.Errorf("clearing running for exchange %d: %w", exchangeID, err)
	}
	return nil
}

// SetTimeout overrides the per-exchange timeout in seconds
func (r *Repo) SetTimeout(ctx context.Context, exchangeID, seconds int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE exchange_status SET timeout = $2 WHERE exchange_id = $1", exchangeID, seconds)
	if err != nil {
		return fmt.Errorf("updating timeout for exchange %d: %w", exchangeID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: exchange %d", ErrStatusNotFound, exchangeID)
	}
	return nil
}

// List returns the filtered page plus the unpaginated row count
func (r *Repo) List(ctx context.Context, f Filter) ([]Status, int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.ExchangeID.Valid {
		add("exchange_id = $%d", f.ExchangeID.Int64)
	}
	if f.Running.Valid {
		add("running = $%d", f.Running.Bool)
	}
	if f.LastRunLT.Valid {
		add("last_run <= $%d", f.LastRunLT.Time)
	}
	if f.LastRunGT.Valid {
		add("last_run >= $%d", f.LastRunGT.Time)
	}
	if f.TimeStartedLT.Valid {
		add("time_started <= $%d", f.TimeStartedLT.Time)
	}
	if f.TimeStartedGT.Valid {
		add("time_started >= $%d", f.TimeStartedGT.Time)
	}

	clause := repository.Where(where)

	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM exchange_status"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("counting statuses: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM exchange_status" + clause +
		repository.OrderBy(orderings, f.Ordering, "exchange_id") +
		repository.Page(&args, f.Limit, f.Offset)
	var out []Status
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("querying statuses: %w", err)
	}
	return out, count, nil
}
