package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the application.
type Metrics struct {
	EventsIngested  *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	SnapshotFailure prometheus.Counter
	DeviceCalls     *prometheus.CounterVec
	DeviceReachable *prometheus.GaugeVec
	ReconcileWrites *prometheus.CounterVec
	ResyncRuns      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpr_events_ingested_total",
			Help: "Access events persisted, by decision and device resolution.",
		}, []string{"decision", "device"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lpr_ingest_duration_seconds",
			Help:    "Time spent handling one inbound event notification.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lpr_snapshot_persist_failures_total",
			Help: "Snapshots that could not be stored; the event was kept without image.",
		}),
		DeviceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpr_device_calls_total",
			Help: "Device protocol calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		DeviceReachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lpr_device_reachable",
			Help: "1 when the last health probe of the device succeeded.",
		}, []string{"device"}),
		ReconcileWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpr_reconcile_writes_total",
			Help: "Reconciliation writes against devices by mode and outcome.",
		}, []string{"mode", "outcome"}),
		ResyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpr_resync_runs_total",
			Help: "Full resync runs by terminal status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsIngested,
			m.IngestDuration,
			m.SnapshotFailure,
			m.DeviceCalls,
			m.DeviceReachable,
			m.ReconcileWrites,
			m.ResyncRuns,
		)
	}
	return m
}

// ObserveIngest records one persisted event.
func (m *Metrics) ObserveIngest(decision string, knownDevice bool, started time.Time) {
	if m == nil {
		return
	}
	device := "known"
	if !knownDevice {
		device = "unknown"
	}
	m.EventsIngested.WithLabelValues(decision, device).Inc()
	m.IngestDuration.Observe(time.Since(started).Seconds())
}

// SnapshotFailed counts a snapshot that was dropped.
func (m *Metrics) SnapshotFailed() {
	if m == nil {
		return
	}
	m.SnapshotFailure.Inc()
}

// DeviceCall counts one protocol call.
func (m *Metrics) DeviceCall(op, outcome string) {
	if m == nil {
		return
	}
	m.DeviceCalls.WithLabelValues(op, outcome).Inc()
}

// SetReachable records the probe result of a device.
func (m *Metrics) SetReachable(device string, ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.DeviceReachable.WithLabelValues(device).Set(v)
}

// ReconcileWrite counts one reconciliation write.
func (m *Metrics) ReconcileWrite(mode string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.ReconcileWrites.WithLabelValues(mode, outcome).Inc()
}

// ResyncFinished counts a full resync by terminal status.
func (m *Metrics) ResyncFinished(status string) {
	if m == nil {
		return
	}
	m.ResyncRuns.WithLabelValues(status).Inc()
}
