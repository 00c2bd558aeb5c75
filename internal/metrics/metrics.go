package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/script"
)

// Metrics holds all Prometheus metrics for the velocity service.
type Metrics struct {
	reg *prometheus.Registry

	// Indicator computation
	ComputeDur     *prometheus.HistogramVec // labels: source=preset|script
	ResultsTotal   *prometheus.CounterVec   // labels: status
	ScriptFailures *prometheus.CounterVec   // labels: kind

	// Series cache
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheErrors  prometheus.Counter
	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter

	// Bars and live feed
	BarsIngested prometheus.Counter
	WSClients    prometheus.Gauge
	WSPushes     prometheus.Counter
	RateLimited  prometheus.Counter
}

// NewMetrics registers and returns all metrics on a fresh registry, so
// several services (or tests) can coexist in one process.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "velocity_indicator_compute_duration_seconds",
			Help:    "Time to compute one indicator over a bar sequence",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"source"}),
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velocity_indicator_results_total",
			Help: "Indicator computations by outcome",
		}, []string{"status"}),
		ScriptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velocity_script_failures_total",
			Help: "Script evaluations that failed, by error kind",
		}, []string{"kind"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velocity_cache_hits_total",
			Help: "Series served from the Redis cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velocity_cache_misses_total",
			Help: "Series not found in the Redis cache",
		}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velocity_cache_errors_total",
			Help: "Cache calls that failed or were rejected by the breaker",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "velocity_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velocity_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velocity_bars_ingested_total",
			Help: "Bars written to the bar store",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "velocity_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velocity_ws_pushes_total",
			Help: "Indicator result messages pushed to WebSocket clients",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velocity_rate_limited_total",
			Help: "Requests rejected by the compute rate limiter",
		}),
	}

	m.reg.MustRegister(
		m.ComputeDur,
		m.ResultsTotal,
		m.ScriptFailures,
		m.CacheHits,
		m.CacheMisses,
		m.CacheErrors,
		m.BreakerState,
		m.BreakerTrips,
		m.BarsIngested,
		m.WSClients,
		m.WSPushes,
		m.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveCompute implements indicator.Observer.
func (m *Metrics) ObserveCompute(_ string, res model.Result, elapsed time.Duration) {
	source := "preset"
	if res.Err != nil {
		if kind, ok := script.KindOf(res.Err); ok {
			source = "script"
			m.ScriptFailures.WithLabelValues(string(kind)).Inc()
		}
	}
	m.ComputeDur.WithLabelValues(source).Observe(elapsed.Seconds())
	m.ResultsTotal.WithLabelValues(string(res.Status)).Inc()
}

// SetBreakerState records a breaker transition. Pass the numeric state.
func (m *Metrics) SetBreakerState(state int, tripped bool) {
	m.BreakerState.Set(float64(state))
	if tripped {
		m.BreakerTrips.Inc()
	}
}
