// Package metrics provides a small facade for recording counters, gauges,
// and latency stopwatches, backed by prometheus/client_golang. Collectors
// are created lazily on first use, so call sites stay one-liners:
//
//	metrics.IncrCounter("net", "connection_open_total")
//	metrics.RecordStopwatch("session", "turn_process_time", start)
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dimension carries optional label values for a metric observation.
type Dimension map[string]string

type store struct {
	registerer prometheus.Registerer

	mu          sync.Mutex
	counters    map[string]prometheus.Counter
	counterVecs map[string]*prometheus.CounterVec
	gauges      map[string]prometheus.Gauge
	histograms  map[string]prometheus.Histogram
}

var _store = &store{
	registerer:  prometheus.DefaultRegisterer,
	counters:    map[string]prometheus.Counter{},
	counterVecs: map[string]*prometheus.CounterVec{},
	gauges:      map[string]prometheus.Gauge{},
	histograms:  map[string]prometheus.Histogram{},
}

// SetRegisterer redirects all subsequently created collectors to the given
// registerer. Call once at startup, before any metric is recorded; tests use
// it to isolate a fresh registry.
func SetRegisterer(r prometheus.Registerer) {
	_store.mu.Lock()
	defer _store.mu.Unlock()
	_store.registerer = r
	_store.counters = map[string]prometheus.Counter{}
	_store.counterVecs = map[string]*prometheus.CounterVec{}
	_store.gauges = map[string]prometheus.Gauge{}
	_store.histograms = map[string]prometheus.Histogram{}
}

// fqName joins a metric group and name into a prometheus-safe identifier.
func fqName(group, name string) string {
	return strings.ReplaceAll(group, ".", "_") + "_" + name
}

// IncrCounter increments the counter identified by group and name.
func IncrCounter(group, name string) {
	AddCounter(group, name, 1)
}

// AddCounter adds v to the counter identified by group and name.
func AddCounter(group, name string, v float64) {
	_store.mu.Lock()
	fq := fqName(group, name)
	c, ok := _store.counters[fq]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{Name: fq})
		_ = _store.registerer.Register(c)
		_store.counters[fq] = c
	}
	_store.mu.Unlock()
	c.Add(v)
}

// IncrCounterWithDim increments a labelled counter. The label set must be
// identical on every call for a given group and name.
func IncrCounterWithDim(group, name string, dims Dimension) {
	labels := make([]string, 0, len(dims))
	for k := range dims {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	_store.mu.Lock()
	fq := fqName(group, name)
	cv, ok := _store.counterVecs[fq]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: fq}, labels)
		_ = _store.registerer.Register(cv)
		_store.counterVecs[fq] = cv
	}
	_store.mu.Unlock()

	values := make([]string, len(labels))
	for i, k := range labels {
		values[i] = dims[k]
	}
	if c, err := cv.GetMetricWithLabelValues(values...); err == nil {
		c.Inc()
	}
}

// UpdateGauge sets the gauge identified by group and name to v.
func UpdateGauge(group, name string, v float64) {
	_store.mu.Lock()
	fq := fqName(group, name)
	g, ok := _store.gauges[fq]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{Name: fq})
		_ = _store.registerer.Register(g)
		_store.gauges[fq] = g
	}
	_store.mu.Unlock()
	g.Set(v)
}

// RecordStopwatch observes the elapsed time since start, in seconds, on the
// histogram identified by group and name.
func RecordStopwatch(group, name string, start time.Time) {
	_store.mu.Lock()
	fq := fqName(group, name)
	h, ok := _store.histograms[fq]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{Name: fq})
		_ = _store.registerer.Register(h)
		_store.histograms[fq] = h
	}
	_store.mu.Unlock()
	h.Observe(time.Since(start).Seconds())
}
