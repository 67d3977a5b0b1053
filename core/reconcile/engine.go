package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lpr-manager/core/audit"
	"lpr-manager/core/device"
	"lpr-manager/core/lock"
	"lpr-manager/core/logger"
	"lpr-manager/core/metrics"
	"lpr-manager/core/store"
	"lpr-manager/core/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBusy is returned when another operation holds the device for too long.
	ErrBusy = errors.New("device busy with another reconciliation")
	// ErrNotAllowed rejects pushing a subject the canonical list does not allow.
	ErrNotAllowed = errors.New("subject is not classified allow")
)

// Engine pushes the canonical allow list onto devices. Writes to one device are
// serialized through a per-device lock and paced by a fixed delay.
type Engine struct {
	store     *store.Store
	connector device.Connector
	auditor   *audit.Auditor
	locks     lock.Locker
	cfg       Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(s *store.Store, connector device.Connector, auditor *audit.Auditor, locks lock.Locker, cfg Config, m *metrics.Metrics, log *zap.Logger) *Engine {
	if cfg.MaxFailureSamples <= 0 {
		cfg.MaxFailureSamples = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockWaitSeconds <= 0 {
		cfg.LockWaitSeconds = 5
	}
	return &Engine{
		store:     s,
		connector: connector,
		auditor:   auditor,
		locks:     locks,
		cfg:       cfg,
		metrics:   m,
		logger:    log,
	}
}

func deviceKey(id uint) string {
	return "device:" + strconv.FormatUint(uint64(id), 10)
}

// acquire takes the device lock, waiting at most LockWaitSeconds.
func (e *Engine) acquire(ctx context.Context, d store.Device) (lock.Unlock, error) {
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.LockWaitSeconds)*time.Second)
	defer cancel()

	unlock, err := e.locks.Lock(waitCtx, deviceKey(d.ID))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("device %s: %w", d.Name, ErrBusy)
	}
	return unlock, nil
}

// pause waits the configured delay between two writes to one device.
func (e *Engine) pause(ctx context.Context) error {
	if e.cfg.WriteDelayMs <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(e.cfg.WriteDelayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) fail(o *Outcome, subject string, err error) {
	o.Failed++
	if len(o.Failures) < e.cfg.MaxFailureSamples {
		o.Failures = append(o.Failures, Failure{Subject: subject, Reason: device.Reason(err)})
	}
}

func newOutcome(d store.Device, mode string) *Outcome {
	return &Outcome{
		DeviceID:    d.ID,
		DeviceName:  d.Name,
		Mode:        mode,
		ClearStatus: ClearNotRequested,
		Failures:    []Failure{},
		StartedAt:   time.Now().UTC(),
	}
}

func (e *Engine) finish(o *Outcome) *Outcome {
	o.FinishedAt = time.Now().UTC()
	if o.Status == "" {
		switch {
		case o.Failed == 0 && o.Remaining == 0:
			o.Status = StatusCompleted
		default:
			o.Status = StatusPartial
		}
	}

	fields := append(logger.DeviceFields(o.DeviceID, o.DeviceName, ""),
		zap.String("mode", o.Mode),
		zap.String("status", string(o.Status)),
		zap.Int("attempted", o.Attempted),
		zap.Int("added", o.Added),
		zap.Int("removed", o.Removed),
		zap.Int("failed", o.Failed),
		zap.Int("remaining", o.Remaining),
		zap.Bool("cleared", o.Cleared),
	)
	if o.Status == StatusCompleted || o.Status == StatusDryRun {
		e.logger.Info("Reconciliation finished", fields...)
	} else {
		e.logger.Warn("Reconciliation finished with problems", append(fields, zap.String("error", o.Error))...)
	}
	return o
}

// Repair upserts subject on each device, one device at a time with the write
// delay in between. Every device gets its own result; an unreachable device is
// reported and skipped, never retried.
func (e *Engine) Repair(ctx context.Context, subject string, devices []store.Device) (*RepairReport, error) {
	subject = utils.NormalizePlate(subject)
	if subject == "" {
		return nil, audit.ErrEmptySubject
	}
	entry, err := e.store.Entry(ctx, subject)
	if err != nil {
		return nil, err
	}
	if entry.Classification != store.ClassAllow {
		return nil, fmt.Errorf("%s is %s: %w", subject, entry.Classification, ErrNotAllowed)
	}

	report := &RepairReport{Subject: subject, Results: make([]DeviceResult, 0, len(devices))}
	for i, d := range devices {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				return report, err
			}
		}

		res := DeviceResult{DeviceID: d.ID, DeviceName: d.Name}
		err := e.upsertLocked(ctx, d, subject)
		e.metrics.ReconcileWrite("repair", err == nil)
		if err != nil {
			res.Error = device.Reason(err)
			res.Unreachable = device.IsUnreachable(err)
			report.Failed++
			e.logger.Warn("Targeted repair failed on device",
				append(logger.DeviceFields(d.ID, d.Name, d.Address), zap.String("subject", subject), zap.Error(err))...)
		} else {
			res.Succeeded = true
			report.Succeeded++
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (e *Engine) upsertLocked(ctx context.Context, d store.Device, subject string) error {
	unlock, err := e.acquire(ctx, d)
	if err != nil {
		return err
	}
	defer unlock()
	defer e.auditor.Invalidate(d.ID)

	return e.connector.Connect(d).Upsert(ctx, subject)
}

// Resync clears the device and writes every canonical allow entry back. The
// device is exposed (partially populated) until the pass completes; the outcome
// always says how far it got.
func (e *Engine) Resync(ctx context.Context, d store.Device) (*Outcome, error) {
	o := newOutcome(d, "resync")
	o.ClearStatus = ClearSkipped

	unlock, err := e.acquire(ctx, d)
	if err != nil {
		o.Status = StatusFailed
		if ctx.Err() != nil {
			o.Status = StatusCancelled
		}
		o.Error = err.Error()
		e.metrics.ResyncFinished(string(o.Status))
		return e.finish(o), nil
	}
	defer unlock()
	defer e.auditor.Invalidate(d.ID)

	subjects, err := e.store.AllowedSubjects(ctx)
	if err != nil {
		return nil, err
	}

	client := e.connector.Connect(d)
	if err := client.ClearAll(ctx); err != nil {
		o.Status = StatusFailed
		if ctx.Err() != nil {
			o.Status = StatusCancelled
		}
		o.ClearStatus = ClearFailed
		o.ClearError = device.Reason(err)
		o.Error = err.Error()
		o.Remaining = len(subjects)
		e.metrics.ResyncFinished(string(o.Status))
		return e.finish(o), nil
	}
	o.Cleared = true
	o.ClearStatus = ClearOK

	for i, subject := range subjects {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				o.Status = StatusCancelled
				o.Remaining = len(subjects) - i
				break
			}
		}

		o.Attempted++
		err := client.Upsert(ctx, subject)
		if err != nil && ctx.Err() != nil {
			// Interrupted mid-call; the device may or may not hold it.
			o.Attempted--
			o.Status = StatusCancelled
			o.Remaining = len(subjects) - i
			break
		}
		e.metrics.ReconcileWrite("resync", err == nil)
		if err != nil {
			e.fail(o, subject, err)
			if device.IsUnreachable(err) {
				o.Remaining = len(subjects) - i - 1
				o.Error = "device became unreachable during repopulation"
				break
			}
			continue
		}
		o.Added++
	}

	e.finish(o)
	e.metrics.ResyncFinished(string(o.Status))
	return o, nil
}

// ResyncBatch resyncs several devices, at most Concurrency at a time. A device
// that fails never stops the others.
func (e *Engine) ResyncBatch(ctx context.Context, devices []store.Device) []*Outcome {
	outcomes := make([]*Outcome, len(devices))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, d := range devices {
		g.Go(func() error {
			o, err := e.Resync(ctx, d)
			if err != nil {
				o = newOutcome(d, "resync")
				o.ClearStatus = ClearSkipped
				o.Status = StatusFailed
				o.Error = err.Error()
				e.finish(o)
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
