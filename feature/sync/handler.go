package sync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lpr-manager/core/audit"
	"lpr-manager/core/device"
	"lpr-manager/core/logger"
	"lpr-manager/core/reconcile"
	"lpr-manager/core/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for audits and reconciliation.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the sync routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/sync")
	group.Get("/audit/:subject", h.HandleAudit)
	group.Post("/repair", h.HandleRepair)
	group.Get("/devices/:id/diff", h.HandleDiff)
	group.Post("/devices/:id/apply", h.HandleApply)
	group.Post("/devices/:id/resync", h.HandleStartResync)
	group.Post("/resync", h.HandleResyncBatch)
	group.Get("/jobs", h.HandleListJobs)
	group.Get("/jobs/:id", h.HandleGetJob)
	group.Delete("/jobs/:id", h.HandleCancelJob)
}

func (h *Handler) failure(c *fiber.Ctx, err error) error {
	l := logger.WithRayID(h.service.logger, c)
	status, code := fiber.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, audit.ErrEmptySubject):
		status, code = fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrJobNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	case errors.Is(err, reconcile.ErrNotAllowed):
		status, code = fiber.StatusUnprocessableEntity, "not_allowed"
	case errors.Is(err, ErrJobRunning), errors.Is(err, reconcile.ErrBusy):
		status, code = fiber.StatusConflict, "device_busy"
	case errors.Is(err, device.ErrUnreachable):
		status, code = fiber.StatusBadGateway, "device_unreachable"
	case errors.Is(err, device.ErrRejected):
		status, code = fiber.StatusBadGateway, "device_rejected"
	case errors.Is(err, store.ErrStorageFailure):
		status, code = fiber.StatusServiceUnavailable, "storage_failure"
	}

	if status >= fiber.StatusInternalServerError {
		l.Error("Sync request failed", zap.String("code", code), zap.Error(err))
	} else {
		l.Info("Sync request refused", zap.String("code", code), zap.Error(err))
	}

	body := fiber.Map{"ok": false, "error": code, "message": err.Error()}
	var derr *device.Error
	if errors.As(err, &derr) {
		body["device"] = derr.Detail()
	}
	return c.Status(status).JSON(body)
}

// parseIDs reads a comma separated id list such as "1,2,5".
func parseIDs(raw string) ([]uint, error) {
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: bad device id %q", ErrInvalidRequest, part)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

func pathID(c *fiber.Ctx) (uint, error) {
	ids, err := parseIDs(c.Params("id"))
	if err != nil || len(ids) != 1 {
		return 0, fmt.Errorf("%w: device id must be a positive integer", ErrInvalidRequest)
	}
	return ids[0], nil
}

// HandleAudit reports per device whether a subject is present.
// @Summary Audit Subject Presence
// @Description Read-only query of each device's list for one subject.
// @Tags sync
// @Produce json
// @Param subject path string true "Subject"
// @Param devices query string false "Comma separated device ids (default: all)"
// @Success 200 {object} audit.Report "Audit report"
// @Security ApiKeyAuth
// @Router /sync/audit/{subject} [get]
func (h *Handler) HandleAudit(c *fiber.Ctx) error {
	ids, err := parseIDs(c.Query("devices"))
	if err != nil {
		return h.failure(c, err)
	}
	report, err := h.service.Audit(c.UserContext(), c.Params("subject"), ids)
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(report)
}

// RepairRequest is the body of a targeted repair.
type RepairRequest struct {
	Subject   string `json:"subject"`
	DeviceIDs []uint `json:"device_ids"`
}

// HandleRepair upserts one subject on the devices missing it.
// @Summary Targeted Repair
// @Description Upserts the subject on the given devices, or on the devices an audit finds missing it.
// @Tags sync
// @Accept json
// @Produce json
// @Param request body sync.RepairRequest true "Subject and optional device ids"
// @Success 200 {object} sync.RepairResult "Per-device results"
// @Failure 422 {object} map[string]any "Subject not classified allow"
// @Security ApiKeyAuth
// @Router /sync/repair [post]
func (h *Handler) HandleRepair(c *fiber.Ctx) error {
	var req RepairRequest
	if err := c.BodyParser(&req); err != nil {
		return h.failure(c, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	res, err := h.service.Repair(c.UserContext(), req.Subject, req.DeviceIDs)
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(res)
}

// HandleDiff plans the writes that would bring a device in line.
// @Summary Diff Device
// @Tags sync
// @Produce json
// @Param id path int true "Device ID"
// @Param prune query bool false "Plan removal of entries not classified allow"
// @Success 200 {object} reconcile.Plan "Plan"
// @Failure 502 {object} map[string]any "Device unreachable or rejected the read"
// @Security ApiKeyAuth
// @Router /sync/devices/{id}/diff [get]
func (h *Handler) HandleDiff(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return h.failure(c, err)
	}
	plan, err := h.service.Diff(c.UserContext(), id, c.QueryBool("prune"))
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(plan)
}

// ApplyRequest selects what an apply may write.
type ApplyRequest struct {
	Confirmed bool `json:"confirmed"`
	DryRun    bool `json:"dry_run"`
	Prune     bool `json:"prune"`
}

// HandleApply executes a fresh diff plan against a device.
// Nothing is written unless confirmed is true and dry_run is false.
// @Summary Apply Device Diff
// @Tags sync
// @Accept json
// @Produce json
// @Param id path int true "Device ID"
// @Param request body sync.ApplyRequest true "Options"
// @Success 200 {object} sync.ApplyResult "Plan and outcome"
// @Security ApiKeyAuth
// @Router /sync/devices/{id}/apply [post]
func (h *Handler) HandleApply(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return h.failure(c, err)
	}
	var req ApplyRequest
	if err := c.BodyParser(&req); err != nil {
		return h.failure(c, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	res, err := h.service.Apply(c.UserContext(), id, reconcile.Options{
		Confirmed: req.Confirmed,
		DryRun:    req.DryRun,
		DoPrune:   req.Prune,
	})
	if err != nil {
		return h.failure(c, err)
	}
	if res.Outcome.Status != reconcile.StatusDryRun {
		logger.WithRayID(h.service.logger, c).Info("Device diff applied",
			zap.Uint("device_id", id),
			zap.String("status", string(res.Outcome.Status)),
			zap.Int("added", res.Outcome.Added),
			zap.Int("removed", res.Outcome.Removed),
		)
	}
	return c.JSON(res)
}

// HandleStartResync starts a full resync job.
// @Summary Start Full Resync
// @Description Clears the device and repopulates it from the canonical allow list in the background.
// @Tags sync
// @Produce json
// @Param id path int true "Device ID"
// @Success 202 {object} sync.Job "Job"
// @Failure 409 {object} map[string]any "Resync already running"
// @Security ApiKeyAuth
// @Router /sync/devices/{id}/resync [post]
func (h *Handler) HandleStartResync(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return h.failure(c, err)
	}
	job, err := h.service.StartResync(c.UserContext(), id)
	if err != nil {
		return h.failure(c, err)
	}
	logger.WithRayID(h.service.logger, c).Warn("Full resync started",
		zap.String("job_id", job.ID), zap.Uint("device_id", id))
	c.Location("/sync/jobs/" + job.ID)
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// BatchRequest lists devices for a batch resync.
type BatchRequest struct {
	DeviceIDs []uint `json:"device_ids"`
}

// HandleResyncBatch resyncs several devices and waits for all of them.
// @Summary Batch Full Resync
// @Tags sync
// @Accept json
// @Produce json
// @Param request body sync.BatchRequest true "Device ids"
// @Success 200 {array} reconcile.Outcome "Per-device outcomes"
// @Security ApiKeyAuth
// @Router /sync/resync [post]
func (h *Handler) HandleResyncBatch(c *fiber.Ctx) error {
	var req BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return h.failure(c, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	outcomes, err := h.service.ResyncBatch(c.UserContext(), req.DeviceIDs)
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(outcomes)
}

// HandleListJobs lists resync jobs.
// @Summary List Resync Jobs
// @Tags sync
// @Produce json
// @Success 200 {array} sync.Job "Jobs"
// @Security ApiKeyAuth
// @Router /sync/jobs [get]
func (h *Handler) HandleListJobs(c *fiber.Ctx) error {
	return c.JSON(h.service.jobs.List())
}

// HandleGetJob returns one resync job.
// @Summary Get Resync Job
// @Tags sync
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} sync.Job "Job"
// @Failure 404 {object} map[string]any "Unknown job"
// @Security ApiKeyAuth
// @Router /sync/jobs/{id} [get]
func (h *Handler) HandleGetJob(c *fiber.Ctx) error {
	job, err := h.service.jobs.Get(c.Params("id"))
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(job)
}

// HandleCancelJob cancels a resync job and returns its final outcome.
// @Summary Cancel Resync Job
// @Description The device may be left cleared and partially repopulated; the outcome says how far it got.
// @Tags sync
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} sync.Job "Job"
// @Failure 404 {object} map[string]any "Unknown job"
// @Security ApiKeyAuth
// @Router /sync/jobs/{id} [delete]
func (h *Handler) HandleCancelJob(c *fiber.Ctx) error {
	job, err := h.service.jobs.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.failure(c, err)
	}
	logger.WithRayID(h.service.logger, c).Warn("Resync job cancelled",
		zap.String("job_id", job.ID), zap.Uint("device_id", job.DeviceID), zap.String("state", string(job.State)))
	return c.JSON(job)
}
