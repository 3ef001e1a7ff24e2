// Package metrics exposes refresh-loop counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for FetchesTotal.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeAuth    = "auth"
	OutcomeSkipped = "skipped"
)

var (
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kyoto_fetches_total", Help: "Group fetches by outcome"},
		[]string{"outcome"},
	)
	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kyoto_fetch_duration_seconds",
			Help:    "Latency of one group fetch",
			Buckets: []float64{.05, .1, .25, .5, 1, 1.5, 2, 5},
		},
	)
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kyoto_tick_duration_seconds",
			Help:    "Duration of one refresh tick from group to publish",
			Buckets: prometheus.DefBuckets,
		},
	)
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "kyoto_ticks_total", Help: "Refresh ticks completed"},
	)
	CachedGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "kyoto_cached_groups", Help: "Groups currently held in the quote cache"},
	)
	ValuationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kyoto_valuations_total", Help: "Tile valuations by status"},
		[]string{"status"},
	)
	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "kyoto_frames_dropped_total", Help: "Frames dropped for slow subscribers"},
	)
	AlertsTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "kyoto_alerts_triggered_total", Help: "Net-cost alerts fired"},
	)
)

func init() {
	prometheus.MustRegister(FetchesTotal, FetchDuration, TickDuration, TicksTotal, CachedGroups, ValuationsTotal, FramesDropped, AlertsTriggered)
}

// ObserveFetch records one group fetch.
func ObserveFetch(outcome string, d time.Duration) {
	FetchesTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		FetchDuration.Observe(d.Seconds())
	}
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
