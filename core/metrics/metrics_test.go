package metrics_test

import (
	"testing"
	"time"

	"lpr-manager/core/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveIngest("denied", false, time.Now())
	m.ObserveIngest("granted", true, time.Now())
	m.DeviceCall("upsert", "ok")
	m.ReconcileWrite("targeted", false)
	m.ResyncFinished("completed")
	m.SetReachable("gate-1", true)
	m.SnapshotFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("denied", "unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceCalls.WithLabelValues("upsert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileWrites.WithLabelValues("targeted", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceReachable.WithLabelValues("gate-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotFailure))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest("granted", true, time.Now())
		m.DeviceCall("fetch", "unreachable")
		m.SetReachable("x", false)
		m.ResyncFinished("failed")
	})
}
