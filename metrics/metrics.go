// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcome label values for FetchJobs
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeUnknown = "unknown_exchange"
)

// Set holds every collector the scheduler, poller and workers report into.
// Each process builds its own Set on a private registry so tests and
// multi-instance binaries never fight over registration.
type Set struct {
	registry *prometheus.Registry

	FetchJobs        *prometheus.CounterVec
	TickersParsed    prometheus.Counter
	TickersDropped   prometheus.Counter
	TimeseriesFailed prometheus.Counter
	RunningFetches   prometheus.Gauge
	RunningExchanges prometheus.Gauge
	SchedulerTick    prometheus.Gauge
	PollerTick       prometheus.Gauge
	ReapedJobs       prometheus.Counter
	FetchDuration    prometheus.Histogram
}

// New returns a Set registered on its own registry
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		FetchJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketmanager_fetch_jobs_total",
			Help: "Fetch jobs finished, split by outcome",
		}, []string{"status"}),
		TickersParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketmanager_ticker_entries_parsed_total",
			Help: "Raw ticker entries normalised into batches",
		}),
		TickersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketmanager_ticker_entries_dropped_total",
			Help: "Raw ticker entries dropped as unparseable",
		}),
		TimeseriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketmanager_timeseries_write_failures_total",
			Help: "Timeseries point writes that failed",
		}),
		RunningFetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketmanager_running_fetches",
			Help: "Fetches in flight in this worker process",
		}),
		RunningExchanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketmanager_running_exchanges",
			Help: "Exchange rows currently flagged running",
		}),
		SchedulerTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketmanager_scheduler_last_tick_timestamp",
			Help: "Unix time of the scheduler's last completed pass",
		}),
		PollerTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketmanager_poller_last_tick_timestamp",
			Help: "Unix time of the poller's last completed pass",
		}),
		ReapedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketmanager_reaped_jobs_total",
			Help: "Jobs the poller cancelled for exceeding their timeout",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketmanager_fetch_duration_seconds",
			Help:    "End-to-end duration of one exchange fetch",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.FetchJobs,
		s.TickersParsed,
		s.TickersDropped,
		s.TimeseriesFailed,
		s.RunningFetches,
		s.RunningExchanges,
		s.SchedulerTick,
		s.PollerTick,
		s.ReapedJobs,
		s.FetchDuration,
	)
	return s
}

// Handler serves the set in Prometheus text exposition format
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one finished job with its outcome and duration
func (s *Set) ObserveFetch(status string, d time.Duration) {
	s.FetchJobs.WithLabelValues(status).Inc()
	s.FetchDuration.Observe(d.Seconds())
}
