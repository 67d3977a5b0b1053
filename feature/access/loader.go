package access

import (
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

// NewFeature creates the access feature.
func NewFeature(s *store.Store, snapshots *snapshot.Writer, logger *zap.Logger) *Feature {
	svc := NewService(s, snapshots, logger)
	return &Feature{service: svc, handler: NewHandler(svc)}
}

// Service exposes the feature's service for the CLI.
func (f *Feature) Service() *Service {
	return f.service
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "access"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return true
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
