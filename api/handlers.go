package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/database/repository/fiatprice"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/timeseries"
)

func (s *Server) getExchanges(w http.ResponseWriter, r *http.Request) {
	f, err := exchangeFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, count, err := s.exchanges.List(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("listing exchanges failed")
		writeError(w, http.StatusInternalServerError, "could not list exchanges")
		return
	}
	if rows == nil {
		rows = []exchange.Details{}
	}
	writeJSON(w, http.StatusOK, paginate(r, count, f.Limit, f.Offset, rows))
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	f, err := marketFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, count, err := s.markets.List(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("listing markets failed")
		writeError(w, http.StatusInternalServerError, "could not list markets")
		return
	}
	if rows == nil {
		rows = []market.Market{}
	}
	writeJSON(w, http.StatusOK, paginate(r, count, f.Limit, f.Offset, rows))
}

func (s *Server) getStatuses(w http.ResponseWriter, r *http.Request) {
	f, err := statusFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, count, err := s.statuses.List(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("listing exchange statuses failed")
		writeError(w, http.StatusInternalServerError, "could not list exchange statuses")
		return
	}
	if rows == nil {
		rows = []exchangestatus.Status{}
	}
	writeJSON(w, http.StatusOK, paginate(r, count, f.Limit, f.Offset, rows))
}

func (s *Server) getFiatPrices(w http.ResponseWriter, r *http.Request) {
	f, err := fiatFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, count, err := s.fiatPrices.List(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("listing fiat prices failed")
		writeError(w, http.StatusInternalServerError, "could not list fiat prices")
		return
	}
	if rows == nil {
		rows = []fiatprice.Price{}
	}
	writeJSON(w, http.StatusOK, paginate(r, count, f.Limit, f.Offset, rows))
}

// getHistoricalMarkets reads the pairs measurement over a lookback window.
// time_start and time_end are lookback durations such as 1h or 7d.
func (s *Server) getHistoricalMarkets(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "timeseries store unavailable")
		return
	}
	q := r.URL.Query()
	base := strings.ToUpper(q.Get("base"))
	quote := strings.ToUpper(q.Get("quote"))
	start := q.Get("time_start")
	switch {
	case base == "" || quote == "":
		writeError(w, http.StatusBadRequest, "base and quote required")
		return
	case start == "":
		writeError(w, http.StatusBadRequest, "time_start required")
		return
	}

	tags := map[string]string{"base": base, "quote": quote}
	if raw := q.Get("exchange_id"); raw != "" {
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid value for exchange_id: %q", raw))
			return
		}
		tags["exchange_id"] = raw
	}

	points, err := s.history.QueryPairs(r.Context(), timeseries.Query{
		Start: start,
		Stop:  q.Get("time_end"),
		Tags:  tags,
	})
	s.writeHistory(w, points, err)
}

// getHistoricalFiat reads the fiat measurement over a lookback window
func (s *Server) getHistoricalFiat(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "timeseries store unavailable")
		return
	}
	q := r.URL.Query()
	cur := strings.ToUpper(q.Get("currency"))
	start := q.Get("time_start")
	switch {
	case cur == "":
		writeError(w, http.StatusBadRequest, "currency required")
		return
	case start == "":
		writeError(w, http.StatusBadRequest, "time_start required")
		return
	}

	tags := map[string]string{"currency": cur}
	if raw := q.Get("exchange_id"); raw != "" {
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid value for exchange_id: %q", raw))
			return
		}
		tags["exchange_id"] = raw
	}

	points, err := s.history.QueryFiat(r.Context(), timeseries.Query{
		Start: start,
		Stop:  q.Get("time_end"),
		Tags:  tags,
	})
	s.writeHistory(w, points, err)
}

func (s *Server) writeHistory(w http.ResponseWriter, points []timeseries.Point, err error) {
	switch {
	case errors.Is(err, timeseries.ErrBadTimeRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error().Err(err).Msg("timeseries query failed")
		writeError(w, http.StatusServiceUnavailable, "timeseries query failed")
	default:
		if points == nil {
			points = []timeseries.Point{}
		}
		writeJSON(w, http.StatusOK, points)
	}
}

type runRequest struct {
	ExchangeID int64 `json:"exchange_id"`
}

type runResponse struct {
	ExchangeID int64  `json:"exchange_id"`
	RunID      string `json:"run_id"`
}

// runExchange enqueues an immediate fetch. The job is queued as-is without
// an interval check; the worker raises the running flag itself.
func (s *Server) runExchange(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExchangeID <= 0 {
		writeError(w, http.StatusBadRequest, "exchange_id required")
		return
	}
	exc, err := s.exchanges.One(r.Context(), req.ExchangeID)
	if errors.Is(err, exchange.ErrExchangeNotFound) {
		writeError(w, http.StatusNotFound, "exchange not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("exchange_id", req.ExchangeID).Msg("exchange lookup failed")
		writeError(w, http.StatusInternalServerError, "could not resolve exchange")
		return
	}
	status, err := s.statuses.GetOrCreate(r.Context(), exc.ID)
	if err != nil {
		s.log.Error().Err(err).Int64("exchange_id", exc.ID).Msg("run state lookup failed")
		writeError(w, http.StatusInternalServerError, "could not resolve run timeout")
		return
	}
	timeout := time.Duration(status.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	runID := uuid.Must(uuid.NewV4()).String()
	if err := s.queue.EnqueueFetch(r.Context(), exc.ID, runID, timeout); err != nil {
		s.log.Error().Err(err).Int64("exchange_id", exc.ID).Msg("manual fetch enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "could not enqueue fetch")
		return
	}
	s.log.Info().Int64("exchange_id", exc.ID).Str("run_id", runID).Msg("manual fetch enqueued")
	writeJSON(w, http.StatusOK, runResponse{ExchangeID: exc.ID, RunID: runID})
}

// daemonStatus reports 200 with the daemon's counters when its control
// socket answers, 503 otherwise
func (s *Server) daemonStatus(w http.ResponseWriter, r *http.Request) {
	if s.daemon == nil {
		writeError(w, http.StatusServiceUnavailable, "daemon unreachable")
		return
	}
	stats, err := s.daemon.Status(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("daemon status probe failed")
		writeError(w, http.StatusServiceUnavailable, "daemon unreachable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// health pings the configured backends and reports per-component state
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	report := make(map[string]string)
	healthy := true
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			report[name] = err.Error()
			healthy = false
			return
		}
		report[name] = "ok"
	}
	check("database", s.db)
	check("timeseries", s.timeseries)

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
