package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// collector, geocoder, archiver, and backup manager.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram
	FetchErrors   *prometheus.CounterVec // labels: source

	IncidentsNew         *prometheus.CounterVec // labels: source
	IncidentsDeactivated *prometheus.CounterVec // labels: source
	ActiveIncidents      *prometheus.GaugeVec   // labels: source

	GeocodeRequests *prometheus.CounterVec   // labels: provider, outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec   // labels: result={hit,miss}
	GeocodeDuration *prometheus.HistogramVec // labels: provider

	ArchivedIncidents prometheus.Counter
	BackupSnapshots   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.FetchErrors,
		m.IncidentsNew,
		m.IncidentsDeactivated,
		m.ActiveIncidents,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeDuration,
		m.ArchivedIncidents,
		m.BackupSnapshots,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "scrape_cycles_total",
			Help:      "Completed scrape cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "caddo911",
			Name:      "scrape_cycle_duration_seconds",
			Help:      "Duration of a complete fetch-reconcile-geocode cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "fetch_errors_total",
			Help:      "Upstream fetch failures by source.",
		}, []string{"source"}),
		IncidentsNew: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "incidents_new_total",
			Help:      "Newly fingerprinted incidents by source.",
		}, []string{"source"}),
		IncidentsDeactivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "incidents_deactivated_total",
			Help:      "Incidents marked inactive by source.",
		}, []string{"source"}),
		ActiveIncidents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "caddo911",
			Name:      "active_incidents",
			Help:      "Incidents active after the most recent cycle, by source.",
		}, []string{"source"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "geocode_requests_total",
			Help:      "Geocoding provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "geocode_cache_total",
			Help:      "Geocode cache lookups by result.",
		}, []string{"result"}),
		GeocodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "caddo911",
			Name:      "geocode_request_duration_seconds",
			Help:      "Provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		ArchivedIncidents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "archived_incidents_total",
			Help:      "Incidents moved to monthly archive partitions.",
		}),
		BackupSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caddo911",
			Name:      "backup_snapshots_total",
			Help:      "Backup snapshots written.",
		}),
	}
}
