// Package metrics holds the Prometheus collectors of a mount.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rebuild outcomes.
const (
	RebuildSucceeded = "success"
	RebuildUnchanged = "unchanged"
	RebuildFailed    = "failure"
)

// Metrics contains the counters and gauges updated by the lifecycle manager
// and the filesystem adapter. A nil *Metrics is valid and records nothing.
type Metrics struct {
	rebuildsTotal      *prometheus.CounterVec
	snapshotFiles      prometheus.Gauge
	snapshotDirs       prometheus.Gauge
	snapshotGeneration prometheus.Gauge
	skippedPaths       prometheus.Gauge
	operationsTotal    *prometheus.CounterVec
	readBytesTotal     prometheus.Counter
}

// New returns a new Metrics instance.
func New() *Metrics {
	return &Metrics{
		rebuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapperfs_rebuilds_total",
			Help: "Number of tree rebuilds by outcome.",
		}, []string{"result"}),
		snapshotFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapperfs_snapshot_files",
			Help: "Number of files in the current snapshot.",
		}),
		snapshotDirs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapperfs_snapshot_directories",
			Help: "Number of directories in the current snapshot, the root included.",
		}),
		snapshotGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapperfs_snapshot_generation",
			Help: "Generation number of the current snapshot.",
		}),
		skippedPaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapperfs_skipped_paths",
			Help: "Number of input lines rejected while building the current snapshot.",
		}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapperfs_operations_total",
			Help: "Number of filesystem operations by operation and errno class.",
		}, []string{"op", "result"}),
		readBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapperfs_read_bytes_total",
			Help: "Number of bytes read through the mount.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	m.rebuildsTotal.Describe(descs)
	m.snapshotFiles.Describe(descs)
	m.snapshotDirs.Describe(descs)
	m.snapshotGeneration.Describe(descs)
	m.skippedPaths.Describe(descs)
	m.operationsTotal.Describe(descs)
	m.readBytesTotal.Describe(descs)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(metrics chan<- prometheus.Metric) {
	m.rebuildsTotal.Collect(metrics)
	m.snapshotFiles.Collect(metrics)
	m.snapshotDirs.Collect(metrics)
	m.snapshotGeneration.Collect(metrics)
	m.skippedPaths.Collect(metrics)
	m.operationsTotal.Collect(metrics)
	m.readBytesTotal.Collect(metrics)
}

// Rebuild records one rebuild outcome.
func (m *Metrics) Rebuild(result string) {
	if m == nil {
		return
	}
	m.rebuildsTotal.WithLabelValues(result).Inc()
}

// Snapshot records the shape of a newly installed snapshot.
func (m *Metrics) Snapshot(generation uint64, files, dirs, skipped int) {
	if m == nil {
		return
	}
	m.snapshotGeneration.Set(float64(generation))
	m.snapshotFiles.Set(float64(files))
	m.snapshotDirs.Set(float64(dirs))
	m.skippedPaths.Set(float64(skipped))
}

// Operation records one filesystem operation. result is "ok" or an errno name.
func (m *Metrics) Operation(op, result string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, result).Inc()
}

// Read records bytes returned by a read.
func (m *Metrics) Read(n int) {
	if m == nil {
		return
	}
	m.readBytesTotal.Add(float64(n))
}

// Handler returns an HTTP handler exposing m and the Go runtime collectors.
func Handler(m *Metrics) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
