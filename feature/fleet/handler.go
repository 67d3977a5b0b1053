package fleet

import (
	"errors"

	"lpr-manager/core/logger"
	"lpr-manager/core/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the fleet.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the fleet routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/devices")
	group.Get("/", h.HandleListDevices)
	group.Get("/:id", h.HandleGetDevice)
	group.Post("/:id/probe", h.HandleProbeDevice)
}

func (h *Handler) failure(c *fiber.Ctx, err error) error {
	l := logger.WithRayID(h.service.logger, c)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"ok": false, "error": "not_found", "message": err.Error()})
	case errors.Is(err, store.ErrStorageFailure):
		l.Error("Fleet query failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "error": "storage_failure", "message": err.Error()})
	default:
		l.Error("Fleet request failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "internal", "message": err.Error()})
	}
}

func deviceID(c *fiber.Ctx) (uint, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

func badID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_id", "message": "device id must be a positive integer"})
}

// HandleListDevices lists every device with last-seen and reachability.
// @Summary List Devices
// @Description List the fleet with last_seen and the latest health probe.
// @Tags fleet
// @Produce json
// @Success 200 {array} fleet.DeviceView "Devices"
// @Failure 503 {object} map[string]any "Canonical store unavailable"
// @Security ApiKeyAuth
// @Router /devices [get]
func (h *Handler) HandleListDevices(c *fiber.Ctx) error {
	views, err := h.service.Devices(c.UserContext())
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(views)
}

// HandleGetDevice returns one device.
// @Summary Get Device
// @Tags fleet
// @Produce json
// @Param id path int true "Device ID"
// @Success 200 {object} fleet.DeviceView "Device"
// @Failure 404 {object} map[string]any "Unknown device"
// @Security ApiKeyAuth
// @Router /devices/{id} [get]
func (h *Handler) HandleGetDevice(c *fiber.Ctx) error {
	id, ok := deviceID(c)
	if !ok {
		return badID(c)
	}
	view, err := h.service.Device(c.UserContext(), id)
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(view)
}

// HandleProbeDevice pings a device now.
// @Summary Probe Device
// @Description Runs a low-impact read against the device to check connectivity and credentials.
// @Tags fleet
// @Produce json
// @Param id path int true "Device ID"
// @Success 200 {object} fleet.DeviceView "Device"
// @Failure 404 {object} map[string]any "Unknown device"
// @Security ApiKeyAuth
// @Router /devices/{id}/probe [post]
func (h *Handler) HandleProbeDevice(c *fiber.Ctx) error {
	id, ok := deviceID(c)
	if !ok {
		return badID(c)
	}
	view, err := h.service.Probe(c.UserContext(), id)
	if err != nil {
		return h.failure(c, err)
	}
	logger.WithRayID(h.service.logger, c).Info("Device probed",
		zap.Uint("device_id", id),
		zap.Boolp("reachable", view.Reachable),
	)
	return c.JSON(view)
}
