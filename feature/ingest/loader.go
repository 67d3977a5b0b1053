package ingest

import (
	"lpr-manager/core/lock"
	"lpr-manager/core/metrics"
	"lpr-manager/core/snapshot"
	"lpr-manager/core/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the ingest feature.
func NewFeature(s *store.Store, snapshots *snapshot.Writer, locks lock.Locker, m *metrics.Metrics, logger *zap.Logger) *Feature {
	svc := NewService(s, snapshots, locks, m, logger)
	return &Feature{service: svc, handler: NewHandler(svc)}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "ingest"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return f.service.store != nil
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
