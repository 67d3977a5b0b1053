package sync

import (
	"lpr-manager/core/audit"
	"lpr-manager/core/reconcile"
	"lpr-manager/core/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the sync feature.
func NewFeature(s *store.Store, auditor *audit.Auditor, engine *reconcile.Engine, logger *zap.Logger) *Feature {
	svc := NewService(s, auditor, engine, logger)
	return &Feature{service: svc, handler: NewHandler(svc)}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "sync"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return f.service.engine != nil
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}

// Shutdown cancels running resync jobs and waits for their outcomes.
func (f *Feature) Shutdown() {
	f.service.jobs.Shutdown()
}
