package manager

import (
	"context"
	"time"

	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
)

// pollerPass inspects every running exchange and reaps the ones whose run
// outlived its timeout. Reaping covers workers that died mid-fetch as well
// as claims whose enqueue never reached the queue.
func (m *Manager) pollerPass(ctx context.Context, now time.Time) {
	defer func() {
		m.lastPoller.Store(now.Unix())
		if m.metrics != nil {
			m.metrics.PollerTick.SetToCurrentTime()
		}
	}()

	running, err := m.statuses.Running(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("poller could not list running exchanges")
		return
	}
	if m.metrics != nil {
		m.metrics.RunningExchanges.Set(float64(len(running)))
	}
	for i := range running {
		m.inspect(ctx, &running[i], now)
	}
}

// inspect reaps one running row if it is overdue. A run is overdue only
// when strictly more than its timeout has elapsed; a run exactly at the
// boundary gets one more pass.
func (m *Manager) inspect(ctx context.Context, status *exchangestatus.Status, now time.Time) {
	if !status.LastRunID.Valid || status.LastRunID.String == "" {
		// Raised flag with no job behind it. Nothing to revoke and
		// nothing to time against, so leave it for the operator.
		m.log.Info().Int64("exchange_id", status.ExchangeID).Msg("running without a run ID")
		return
	}
	if !status.TimeStarted.Valid {
		m.log.Error().Int64("exchange_id", status.ExchangeID).
			Msg("running without a start time, clearing")
		if err := m.statuses.ClearRunning(ctx, status.ExchangeID); err != nil {
			m.log.Error().Err(err).Int64("exchange_id", status.ExchangeID).Msg("clear failed")
		}
		return
	}

	timeout := time.Duration(status.Timeout) * time.Second
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	if now.Sub(status.TimeStarted.Time) <= timeout {
		return
	}

	runID := status.LastRunID.String
	m.log.Warn().Int64("exchange_id", status.ExchangeID).Str("run_id", runID).
		Time("started", status.TimeStarted.Time).Msg("run exceeded timeout, reaping")
	m.queue.Cancel(runID)
	if err := m.statuses.Fail(ctx, status.ExchangeID, timeoutDiagnostic); err != nil {
		m.log.Error().Err(err).Int64("exchange_id", status.ExchangeID).Msg("could not record timeout")
		return
	}
	m.reaped.Add(1)
	if m.metrics != nil {
		m.metrics.ReapedJobs.Inc()
	}
}
