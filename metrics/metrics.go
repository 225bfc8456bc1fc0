// Package metrics defines the Prometheus collectors for the guide
// service. Collectors are registered on the default registry and
// exposed by the API server's /metrics endpoint.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlacemarksImported counts placemarks processed during KML imports,
	// by outcome (created, updated, skipped).
	PlacemarksImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guide_placemarks_imported_total",
		Help: "Placemarks processed during KML imports by outcome",
	}, []string{"outcome"})

	// ImportsTotal counts whole-file import runs by result.
	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guide_imports_total",
		Help: "KML import runs by result",
	}, []string{"result"})

	// ProviderAttempts counts image provider lookups by provider name.
	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guide_image_provider_attempts_total",
		Help: "Image provider lookups by provider",
	}, []string{"provider"})

	// ProviderHits counts lookups that returned a usable image URL.
	ProviderHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guide_image_provider_hits_total",
		Help: "Image provider lookups that returned a URL",
	}, []string{"provider"})

	// ImagesDownloaded counts images written to the media directory.
	ImagesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guide_images_downloaded_total",
		Help: "Images downloaded into the media directory",
	})

	// ImageBytesDownloaded counts the bytes of downloaded image payloads.
	ImageBytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guide_image_bytes_downloaded_total",
		Help: "Total bytes of downloaded image payloads",
	})

	// EnrichmentFailures counts per-place enrichment failures.
	EnrichmentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guide_enrichment_failures_total",
		Help: "Places whose image enrichment failed and was skipped",
	})
)

// DatabaseMetrics exposes connection pool gauges for a sql.DB.
type DatabaseMetrics struct {
	openConnections  prometheus.Gauge
	inUseConnections prometheus.Gauge
	idleConnections  prometheus.Gauge
	waitCount        prometheus.Gauge
}

// NewDatabaseMetrics registers pool gauges under the given service
// label.
func NewDatabaseMetrics(service string) *DatabaseMetrics {
	labels := prometheus.Labels{"service": service}
	return &DatabaseMetrics{
		openConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "guide_db_open_connections",
			Help:        "Open database connections",
			ConstLabels: labels,
		}),
		inUseConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "guide_db_in_use_connections",
			Help:        "Database connections currently in use",
			ConstLabels: labels,
		}),
		idleConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "guide_db_idle_connections",
			Help:        "Idle database connections",
			ConstLabels: labels,
		}),
		waitCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "guide_db_wait_count",
			Help:        "Cumulative connections waited for",
			ConstLabels: labels,
		}),
	}
}

// UpdateDBStats refreshes the pool gauges from the connection's stats.
func (m *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	stats := db.Stats()
	m.openConnections.Set(float64(stats.OpenConnections))
	m.inUseConnections.Set(float64(stats.InUse))
	m.idleConnections.Set(float64(stats.Idle))
	m.waitCount.Set(float64(stats.WaitCount))
}
