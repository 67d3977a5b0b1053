package sync

import (
	"context"
	"fmt"

	"lpr-manager/core/audit"
	"lpr-manager/core/reconcile"
	"lpr-manager/core/store"
	"lpr-manager/core/utils"

	"go.uber.org/zap"
)

// Service drives audits and reconciliation for operators.
type Service struct {
	store   *store.Store
	auditor *audit.Auditor
	engine  *reconcile.Engine
	jobs    *Jobs
	logger  *zap.Logger
}

// NewService creates a sync service.
func NewService(s *store.Store, auditor *audit.Auditor, engine *reconcile.Engine, logger *zap.Logger) *Service {
	return &Service{
		store:   s,
		auditor: auditor,
		engine:  engine,
		jobs:    NewJobs(),
		logger:  logger,
	}
}

// Jobs exposes the resync job registry.
func (s *Service) Jobs() *Jobs {
	return s.jobs
}

// Audit reports where subject is present. No ids means the whole fleet.
func (s *Service) Audit(ctx context.Context, subject string, ids []uint) (*audit.Report, error) {
	devices, err := s.store.DevicesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.auditor.Audit(ctx, subject, devices)
}

// Diff plans the writes that would bring one device in line.
func (s *Service) Diff(ctx context.Context, id uint, prune bool) (*reconcile.Plan, error) {
	d, err := s.store.Device(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Diff(ctx, *d, reconcile.Options{DoPrune: prune})
}

// ApplyResult pairs a plan with what was done about it.
type ApplyResult struct {
	Plan    *reconcile.Plan    `json:"plan"`
	Outcome *reconcile.Outcome `json:"outcome"`
}

// Apply computes a fresh plan for one device and executes it when confirmed.
func (s *Service) Apply(ctx context.Context, id uint, opts reconcile.Options) (*ApplyResult, error) {
	d, err := s.store.Device(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := s.engine.Diff(ctx, *d, opts)
	if err != nil {
		return nil, err
	}
	o, err := s.engine.Apply(ctx, *d, plan, opts)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Plan: plan, Outcome: o}, nil
}

// RepairResult is a targeted repair with the audit that chose its devices.
type RepairResult struct {
	Audit  *audit.Report           `json:"audit,omitempty"`
	Repair *reconcile.RepairReport `json:"repair"`
}

// Repair pushes subject onto the given devices. Without ids the subject is
// audited across the fleet first and only reachable devices missing it are
// written.
func (s *Service) Repair(ctx context.Context, subject string, ids []uint) (*RepairResult, error) {
	res := &RepairResult{}
	if len(ids) == 0 {
		report, err := s.Audit(ctx, subject, nil)
		if err != nil {
			return nil, err
		}
		res.Audit = report
		ids = report.Missing()
		if len(ids) == 0 {
			res.Repair = &reconcile.RepairReport{
				Subject: utils.NormalizePlate(subject),
				Results: []reconcile.DeviceResult{},
			}
			return res, nil
		}
	}

	devices, err := s.store.DevicesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	report, err := s.engine.Repair(ctx, subject, devices)
	if err != nil {
		return nil, err
	}
	res.Repair = report
	s.logger.Info("Targeted repair finished",
		zap.String("subject", report.Subject),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return res, nil
}

// StartResync launches a full resync of one device as a background job.
func (s *Service) StartResync(ctx context.Context, id uint) (Job, error) {
	d, err := s.store.Device(ctx, id)
	if err != nil {
		return Job{}, err
	}
	dev := *d
	return s.jobs.Start(dev, func(jobCtx context.Context) *reconcile.Outcome {
		o, err := s.engine.Resync(jobCtx, dev)
		if err != nil {
			status := reconcile.StatusFailed
			if jobCtx.Err() != nil {
				status = reconcile.StatusCancelled
			}
			s.logger.Error("Resync job failed", zap.Uint("device_id", dev.ID), zap.Error(err))
			return &reconcile.Outcome{
				DeviceID:    dev.ID,
				DeviceName:  dev.Name,
				Mode:        "resync",
				Status:      status,
				ClearStatus: reconcile.ClearSkipped,
				Error:       err.Error(),
				Failures:    []reconcile.Failure{},
			}
		}
		return o
	})
}

// ResyncBatch resyncs several devices synchronously, isolated per device.
func (s *Service) ResyncBatch(ctx context.Context, ids []uint) ([]*reconcile.Outcome, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one device id is required", ErrInvalidRequest)
	}
	devices, err := s.store.DevicesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.engine.ResyncBatch(ctx, devices), nil
}
