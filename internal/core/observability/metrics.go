// Package observability holds the Prometheus collectors of the tile server.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tile fetch outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	tileFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wms_tile_fetch_total",
			Help: "Tile fetches by kind (image, heightfield) and outcome (ok, empty, error).",
		},
		[]string{"kind", "outcome"},
	)

	sourceInitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wms_source_init_total",
			Help: "Source initializations by final state and profile kind.",
		},
		[]string{"state", "profile"},
	)

	sourceState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wms_source_state",
			Help: "Current source state: 0 unconfigured, 1 awaiting capabilities, 2 profile resolved, 3 ready, 4 failed.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Init additionally registers the collectors with reg, for a provider that
// serves its own registry.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		tileFetchTotal,
		sourceInitTotal,
		sourceState,
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncTileFetch(kind, outcome string) {
	tileFetchTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveSourceInit(state, profileKind string) {
	if profileKind == "" {
		profileKind = "none"
	}
	sourceInitTotal.WithLabelValues(state, profileKind).Inc()
}

func SetSourceState(state int) {
	sourceState.Set(float64(state))
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
