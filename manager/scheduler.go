package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
)

// Manual run errors surfaced over the control socket
var (
	ErrExchangeRunning  = errors.New("exchange already running")
	ErrExchangeDisabled = errors.New("exchange is disabled")
)

// schedulerPass walks the enabled exchanges and dispatches everything due.
// Each exchange is handled independently so one bad row cannot stall the
// rest of the fleet.
func (m *Manager) schedulerPass(ctx context.Context, now time.Time) {
	defer func() {
		m.lastScheduler.Store(now.Unix())
		if m.metrics != nil {
			m.metrics.SchedulerTick.SetToCurrentTime()
		}
	}()

	enabled, err := m.exchanges.Enabled(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("scheduler could not list enabled exchanges")
		return
	}
	for i := range enabled {
		exc := &enabled[i]
		status, err := m.statuses.GetOrCreate(ctx, exc.ID)
		if err != nil {
			m.log.Warn().Err(err).Str("exchange", exc.Name).Msg("scheduler could not load run state")
			continue
		}
		if !due(exc, status, now) {
			continue
		}
		if _, err := m.dispatch(ctx, exc, status, now); err != nil {
			m.log.Error().Err(err).Str("exchange", exc.Name).Msg("dispatch failed")
		}
	}
}

// due decides whether an exchange should be fetched now. A run is due when
// the exchange has never completed a fetch, or when at least one interval
// has elapsed since the last completed one. In-flight runs are never
// re-dispatched.
func due(exc *exchange.Details, status *exchangestatus.Status, now time.Time) bool {
	if !exc.Enabled || status.Running {
		return false
	}
	if !exc.LastDataFetch.Valid {
		return true
	}
	return now.Sub(exc.LastDataFetch.Time) >= time.Duration(exc.Interval)*time.Second
}

// dispatch claims the run and enqueues the fetch job under a fresh run ID.
// The claim is the only path that raises the running flag from the control
// plane, so two overlapping passes cannot double-book an exchange: the
// loser's claim simply reports false.
//
// If enqueueing fails after the claim the row is left running with no job
// behind it; the poller clears it once the timeout lapses.
func (m *Manager) dispatch(ctx context.Context, exc *exchange.Details, status *exchangestatus.Status, now time.Time) (string, error) {
	runID := uuid.Must(uuid.NewV4()).String()
	claimed, err := m.statuses.Claim(ctx, exc.ID, runID, now)
	if err != nil {
		return "", fmt.Errorf("claiming %s: %w", exc.Name, err)
	}
	if !claimed {
		m.log.Debug().Str("exchange", exc.Name).Msg("fetch already in flight")
		return "", ErrExchangeRunning
	}
	timeout := time.Duration(status.Timeout) * time.Second
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	if err := m.queue.EnqueueFetch(ctx, exc.ID, runID, timeout); err != nil {
		return "", fmt.Errorf("enqueueing %s: %w", exc.Name, err)
	}
	m.dispatched.Add(1)
	m.log.Info().Str("exchange", exc.Name).Str("run_id", runID).Msg("dispatched fetch")
	return runID, nil
}

// RunExchange dispatches a fetch for one exchange immediately, bypassing the
// interval check. Used by the control socket for operator-triggered runs.
func (m *Manager) RunExchange(ctx context.Context, exchangeID int64) (string, error) {
	exc, err := m.exchanges.One(ctx, exchangeID)
	if err != nil {
		return "", err
	}
	if !exc.Enabled {
		return "", fmt.Errorf("%w: %s", ErrExchangeDisabled, exc.Name)
	}
	status, err := m.statuses.GetOrCreate(ctx, exc.ID)
	if err != nil {
		return "", err
	}
	if status.Running {
		return "", fmt.Errorf("%w: %s", ErrExchangeRunning, exc.Name)
	}
	return m.dispatch(ctx, exc, status, time.Now())
}
