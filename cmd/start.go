package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lpr-manager/core/audit"
	"lpr-manager/core/loader"
	"lpr-manager/core/logger"
	"lpr-manager/core/middleware/auth"
	"lpr-manager/core/middleware/rayid"
	"lpr-manager/feature/access"
	"lpr-manager/feature/fleet"
	"lpr-manager/feature/ingest"
	syncfeature "lpr-manager/feature/sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "lpr-manager/docs/swagger"
)

// @title LPR Manager API
// @version 1.0
// @description Event ingestion and access list reconciliation for LPR devices.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the LPR manager server",
	Long:  `Starts the HTTP server, the device health monitor and all enabled features.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 1. Wire configuration, logger, canonical store, storage and engines
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		a, err := newApp(ctx, appOptions{storage: true, registry: registry})
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer a.close()
		logg := a.logger
		zap.ReplaceGlobals(logg)
		cfg := a.cfg

		// 2. Initialize Fiber App
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
			BodyLimit:             cfg.Server.BodyLimit(),
			ReadTimeout:           time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		})

		// 3. Device health monitor
		monitor := audit.NewMonitor(a.store, a.factory, cfg.Audit, a.metrics, logg)

		// 4. Initialize Feature Loader
		mgr := loader.NewManager(logg)
		syncFeature := syncfeature.NewFeature(a.store, a.auditor, a.engine, logg)
		mgr.Register(ingest.NewFeature(a.store, a.snapshots, a.locks, a.metrics, logg))
		mgr.Register(fleet.NewFeature(a.store, monitor, logg))
		mgr.Register(access.NewFeature(a.store, a.snapshots, logg))
		mgr.Register(syncFeature)

		// Middleware Registration
		// 1. RayID (Must be first to trace everything)
		app.Use(rayid.New())

		// 2. Request logging with the ray id
		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			started := time.Now()
			err := c.Next()
			fields := []zap.Field{
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
				zap.Int("status", c.Response().StatusCode()),
				zap.Duration("took", time.Since(started)),
			}
			if err != nil {
				l.Error("Request error", append(fields, zap.Error(err))...)
				return err
			}
			l.Debug("Request handled", fields...)
			return nil
		})

		// 3. Public routes: API docs and metrics
		app.Get("/swagger/*", swagger.HandlerDefault)
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

		// 4. Auth protects the operator API; devices post events without a key
		if !cfg.Server.IsProtected() {
			logg.Warn("SERVER_API_KEY is empty, operator API is unprotected")
		}
		app.Use(auth.New(auth.Config{
			ApiKey: cfg.Server.ApiKey,
			Skip:   []string{"POST /events"},
		}))

		// 5. Load Features
		if err := mgr.LoadAll(app); err != nil {
			logg.Fatal("Failed to load features", zap.Error(err))
		}

		monitor.Start(ctx)

		// 6. Start Server
		go func() {
			logg.Info("Starting server",
				zap.String("port", cfg.Server.Port),
				zap.Strings("features", mgr.Names()),
			)
			if err := app.Listen(":" + cfg.Server.Port); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()

		// 7. Graceful Shutdown
		<-ctx.Done()
		logg.Info("Shutting down server...")
		_ = app.ShutdownWithTimeout(10 * time.Second)
		monitor.Stop()
		syncFeature.Shutdown()
	},
}

func init() {
	RootCmd.AddCommand(startCmd)
}
