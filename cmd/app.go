package cmd

import (
	"context"
	"fmt"

	"lpr-manager/core/audit"
	"lpr-manager/core/config"
	"lpr-manager/core/database"
	"lpr-manager/core/device"
	"lpr-manager/core/lock"
	"lpr-manager/core/logger"
	"lpr-manager/core/metrics"
	"lpr-manager/core/reconcile"
	"lpr-manager/core/snapshot"
	"lpr-manager/core/storage"
	"lpr-manager/core/store"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app holds the wired components shared by the server and the CLI commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *store.Store
	objects   storage.Client
	snapshots *snapshot.Writer
	factory   *device.Factory
	auditor   *audit.Auditor
	engine    *reconcile.Engine
	// locks serializes ingestion per subject and device writes per device, across
	// processes with the redis backend.
	locks   lock.Locker
	metrics *metrics.Metrics
}

type appOptions struct {
	// storage connects object storage; commands that never touch snapshots skip it.
	storage  bool
	registry prometheus.Registerer
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := store.New(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  l,
		store:   s,
		metrics: metrics.New(opts.registry),
	}

	if opts.storage {
		client, err := storage.NewClient(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to storage: %w", err)
		}
		if err := storage.EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.Storage.Region); err != nil {
			// Events are still recorded without snapshots.
			l.Warn("Snapshot bucket unavailable", zap.String("bucket", cfg.Storage.Bucket), zap.Error(err))
		}
		a.objects = client
	}
	a.snapshots = snapshot.NewWriter(a.objects, cfg.Storage.Bucket, cfg.Snapshot, l)

	a.locks, err = lock.New(cfg.Lock)
	if err != nil {
		return nil, err
	}

	a.factory = device.NewFactory(cfg.Device, a.metrics)
	a.auditor = audit.NewAuditor(a.factory, cfg.Audit, l)
	a.engine = reconcile.NewEngine(s, a.factory, a.auditor, a.locks, cfg.Reconcile, a.metrics, l)
	return a, nil
}

func (a *app) close() {
	if sqlDB, err := a.store.DB().DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
