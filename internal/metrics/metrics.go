// Package metrics owns the prometheus registry: HTTP server metrics with
// safe labels only (method, route, status) plus reconciliation-cycle
// metrics consumed by dashboards and alerting.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kmxconnect/feedsync/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	// reconciliation metrics
	cyclesTotal     prometheus.Counter
	cycleOutcomes   *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	listedEntries   prometheus.Gauge
	lastSuccessTs   prometheus.Gauge
	manifestStale   prometheus.Gauge
}

// New returns a fresh registry + standard collectors + all app metrics.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Total reconciliation cycles started",
		}),
		cycleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_cycle_outcomes_total",
			Help: "Completed cycles by outcome (skipped, published, failed)",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Wall-clock time of one reconciliation cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		listedEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_listed_entries",
			Help: "Number of storage entries observed by the last completed listing",
		}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful reconciliation cycle",
		}),
		manifestStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_manifest_stale",
			Help: "Whether reconciliation has failed past the staleness threshold (1) or is healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.cyclesTotal,
		m.cycleOutcomes,
		m.cycleDuration,
		m.listedEntries,
		m.lastSuccessTs,
		m.manifestStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// set once at startup.
func (m *ServerMetrics) SetBuildInfo(vi version.Info) {
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.AppName,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"go_version": vi.GoVersion,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

// reconcile.CycleMetrics implementation

func (m *ServerMetrics) IncCycles() { m.cyclesTotal.Inc() }

func (m *ServerMetrics) IncCycleOutcome(outcome string) {
	m.cycleOutcomes.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) ObserveCycleDuration(seconds float64) {
	m.cycleDuration.Observe(seconds)
}

func (m *ServerMetrics) SetListedEntries(n int) {
	m.listedEntries.Set(float64(n))
}

func (m *ServerMetrics) SetLastSuccess(unixSeconds float64) {
	m.lastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetStale(stale bool) {
	if stale {
		m.manifestStale.Set(1)
	} else {
		m.manifestStale.Set(0)
	}
}

func statusLabel(code int) string { return strconv.Itoa(code) }
