// Package metrics exposes Prometheus counters and histograms for every
// KMS call, cache decision, module decryption, and hidden column the
// reader produces, plus a handler to serve them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Metrics holds every metric the reader emits.
type Metrics struct {
	kmsWrapTotal       *prometheus.CounterVec
	kmsUnwrapTotal     *prometheus.CounterVec
	kmsErrorsTotal     *prometheus.CounterVec
	cacheHitsTotal     *prometheus.CounterVec
	cacheMissesTotal   *prometheus.CounterVec
	modulesDecrypted   *prometheus.CounterVec
	hiddenColumnsTotal prometheus.Counter
	footerOpenDuration prometheus.Histogram
}

// NewMetrics registers every metric against the default Prometheus
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(defaultRegistry)
}

// NewMetricsWithRegistry registers every metric against reg, so tests can
// use a private registry instead of the process-global default.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		kmsWrapTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kms_wrap_total",
				Help: "Total number of data keys wrapped through the KMS client",
			},
			[]string{"kms_instance"},
		),
		kmsUnwrapTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kms_unwrap_total",
				Help: "Total number of data keys unwrapped through the KMS client",
			},
			[]string{"kms_instance"},
		),
		kmsErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kms_errors_total",
				Help: "Total number of KMS client errors, by operation and error kind",
			},
			[]string{"operation", "error_kind"},
		),
		cacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of two-level cache hits, by cache name",
			},
			[]string{"cache"},
		),
		cacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of two-level cache misses, by cache name",
			},
			[]string{"cache"},
		),
		modulesDecrypted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modules_decrypted_total",
				Help: "Total number of modules decrypted, by module kind",
			},
			[]string{"module_kind"},
		),
		hiddenColumnsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hidden_columns_total",
				Help: "Total number of columns skipped because their key was denied",
			},
		),
		footerOpenDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "footer_open_duration_seconds",
				Help:    "Time spent locating, decrypting, and decoding a file footer",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordKmsWrap records one successful wrap call against kmsInstance.
func (m *Metrics) RecordKmsWrap(kmsInstance string) {
	m.kmsWrapTotal.WithLabelValues(kmsInstance).Inc()
}

// RecordKmsUnwrap records one successful unwrap call against kmsInstance.
func (m *Metrics) RecordKmsUnwrap(kmsInstance string) {
	m.kmsUnwrapTotal.WithLabelValues(kmsInstance).Inc()
}

// RecordKmsError records a failed KMS call, classified by operation
// ("wrap"/"unwrap") and error kind (a sentinel error's short name).
func (m *Metrics) RecordKmsError(operation, errorKind string) {
	m.kmsErrorsTotal.WithLabelValues(operation, errorKind).Inc()
}

// RecordCacheHit records a cache hit for the named cache ("dek" from the
// key toolkit, "column_key" from the metadata resolver).
func (m *Metrics) RecordCacheHit(cache string) {
	m.cacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss for the named cache.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.cacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordModuleDecrypted records one module decryption, classified by
// module kind ("Footer", "ColumnMetaData", "DataPage", ...).
func (m *Metrics) RecordModuleDecrypted(moduleKind string) {
	m.modulesDecrypted.WithLabelValues(moduleKind).Inc()
}

// RecordHiddenColumn records one column surfaced as HiddenColumn.
func (m *Metrics) RecordHiddenColumn() {
	m.hiddenColumnsTotal.Inc()
}

// ObserveFooterOpenDuration records how long footer.Read took.
func (m *Metrics) ObserveFooterOpenDuration(d time.Duration) {
	m.footerOpenDuration.Observe(d.Seconds())
}

// Handler returns the HTTP handler for the default Prometheus registry,
// which is where NewMetrics registers. Metrics registered on another
// registry through NewMetricsWithRegistry are not served by it.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
