package audit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"lpr-manager/core/device"
	"lpr-manager/core/logger"
	"lpr-manager/core/metrics"
	"lpr-manager/core/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Health is the latest probe result of one device.
type Health struct {
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Monitor periodically pings every device and keeps reachability in memory.
// A successful probe also refreshes the device's last_seen.
type Monitor struct {
	store       *store.Store
	connector   device.Connector
	metrics     *metrics.Metrics
	logger      *zap.Logger
	interval    time.Duration
	timeout     time.Duration
	concurrency int

	mu     sync.RWMutex
	health map[uint]Health

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor but does not start it.
func NewMonitor(s *store.Store, connector device.Connector, cfg Config, m *metrics.Metrics, log *zap.Logger) *Monitor {
	timeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Monitor{
		store:       s,
		connector:   connector,
		metrics:     m,
		logger:      log,
		interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		timeout:     timeout,
		concurrency: concurrency,
		health:      make(map[uint]Health),
		done:        make(chan struct{}),
	}
}

// Start runs an immediate probe and then one per interval until ctx is done
// or Stop is called. An interval of 0 disables the loop.
func (m *Monitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("Device health monitor disabled")
		close(m.done)
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
	m.logger.Info("Device health monitor started", zap.Duration("interval", m.interval))
}

// Stop signals the loop to exit and waits for it.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.ProbeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll pings every registered device once.
func (m *Monitor) ProbeAll(ctx context.Context) {
	devices, err := m.store.Devices(ctx)
	if err != nil {
		m.logger.Error("Failed to list devices for health probe", zap.Error(err))
		return
	}

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, d := range devices {
		g.Go(func() error {
			m.Probe(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

// Probe pings one device and records the result.
func (m *Monitor) Probe(ctx context.Context, d store.Device) Health {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.connector.Connect(d).Ping(probeCtx)
	h := Health{Reachable: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		h.Error = device.Reason(err)
	}

	m.mu.Lock()
	prev, seen := m.health[d.ID]
	m.health[d.ID] = h
	m.mu.Unlock()

	m.metrics.SetReachable(strconv.FormatUint(uint64(d.ID), 10), h.Reachable)

	fields := logger.DeviceFields(d.ID, d.Name, d.Address)
	if seen && prev.Reachable != h.Reachable {
		if h.Reachable {
			m.logger.Info("Device reachable again", fields...)
		} else {
			m.logger.Warn("Device became unreachable", append(fields, zap.String("reason", h.Error))...)
		}
	}

	if h.Reachable {
		if err := m.store.TouchDevice(ctx, d.ID, h.CheckedAt); err != nil {
			m.logger.Warn("Failed to refresh last_seen", append(fields, zap.Error(err))...)
		}
	}
	return h
}

// Status returns the latest probe result of a device.
func (m *Monitor) Status(id uint) (Health, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[id]
	return h, ok
}
