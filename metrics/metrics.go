// Package metrics defines the Prometheus collectors used by the container
// writer and reader. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexusms"

// Array labels used by per-array collectors.
const (
	ArrayPrecursor = "precursor"
	ArrayProduct   = "product"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	QueriesTotal        *prometheus.CounterVec
	QueryPeaks          *prometheus.HistogramVec
	QueryCacheHits      prometheus.Counter
	QueryCacheMisses    prometheus.Counter
	SpectrumReads       prometheus.Counter
	SpectrumCacheHits   prometheus.Counter
	SpectrumCacheMisses prometheus.Counter
	ScansWritten        prometheus.Counter
	PeaksWritten        *prometheus.CounterVec
	ResidentPeaks       prometheus.Gauge
	BuildDuration       prometheus.Histogram
	BuildsTotal         *prometheus.CounterVec
	Preallocations      *prometheus.CounterVec
}

// Preallocation results.
const (
	PreallocOK          = "ok"
	PreallocUnsupported = "unsupported"
	PreallocFailed      = "error"
)

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chromatogram_queries_total",
				Help:      "Chromatogram range queries by array.",
			},
			[]string{"array"},
		),
		QueryPeaks: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chromatogram_query_peaks",
				Help:      "Peaks returned per chromatogram query.",
				Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"array"},
		),
		QueryCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_hits_total",
			Help:      "Precursor queries answered from the adaptive cache.",
		}),
		QueryCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_misses_total",
			Help:      "Precursor queries that rebuilt the adaptive cache.",
		}),
		SpectrumReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spectrum_reads_total",
			Help:      "Spectrum records decoded from disk.",
		}),
		SpectrumCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spectrum_cache_hits_total",
			Help:      "Spectra served from the decoded spectrum cache.",
		}),
		SpectrumCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spectrum_cache_misses_total",
			Help:      "Spectrum cache lookups that went to disk.",
		}),
		ScansWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_written_total",
			Help:      "Spectrum records written to containers.",
		}),
		PeaksWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chromatogram_peaks_written_total",
				Help:      "Chromatogram peaks emitted by the builder, by array.",
			},
			[]string{"array"},
		),
		ResidentPeaks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "builder_resident_peaks",
			Help:      "Peaks currently buffered by the chromatogram builder.",
		}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of container builds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Container builds by status.",
			},
			[]string{"status"},
		),
		Preallocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preallocations_total",
				Help:      "Chromatogram section preallocations by result.",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.QueriesTotal,
			m.QueryPeaks,
			m.QueryCacheHits,
			m.QueryCacheMisses,
			m.SpectrumReads,
			m.SpectrumCacheHits,
			m.SpectrumCacheMisses,
			m.ScansWritten,
			m.PeaksWritten,
			m.ResidentPeaks,
			m.BuildDuration,
			m.BuildsTotal,
			m.Preallocations,
		)
	}
	return m
}

func (m *Metrics) ObserveQuery(array string, peaks int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(array).Inc()
	m.QueryPeaks.WithLabelValues(array).Observe(float64(peaks))
}

func (m *Metrics) ObserveQueryCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.QueryCacheHits.Inc()
	} else {
		m.QueryCacheMisses.Inc()
	}
}

func (m *Metrics) SpectrumRead() {
	if m == nil {
		return
	}
	m.SpectrumReads.Inc()
}

func (m *Metrics) SpectrumCacheHit() {
	if m == nil {
		return
	}
	m.SpectrumCacheHits.Inc()
}

func (m *Metrics) SpectrumCacheMiss() {
	if m == nil {
		return
	}
	m.SpectrumCacheMisses.Inc()
}

func (m *Metrics) ScanWritten() {
	if m == nil {
		return
	}
	m.ScansWritten.Inc()
}

func (m *Metrics) AddPeaksWritten(array string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PeaksWritten.WithLabelValues(array).Add(float64(n))
}

func (m *Metrics) SetResidentPeaks(n int) {
	if m == nil {
		return
	}
	m.ResidentPeaks.Set(float64(n))
}

// ObserveBuild records one finished build.
func (m *Metrics) ObserveBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BuildsTotal.WithLabelValues(status).Inc()
	m.BuildDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePreallocation(result string) {
	if m == nil {
		return
	}
	m.Preallocations.WithLabelValues(result).Inc()
}

// Handler returns the scrape handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a scrape handler for a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
