package access

import (
	"errors"
	"io"
	"mime"
	"path"
	"time"

	"lpr-manager/core/logger"
	"lpr-manager/core/store"
	"lpr-manager/core/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for entries and events.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the access routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/entries", h.HandleListEntries)

	events := app.Group("/events")
	events.Get("/", h.HandleListEvents)
	events.Post("/purge", h.HandlePurge)
	events.Get("/:id", h.HandleGetEvent)
	events.Patch("/:id/annotation", h.HandleAnnotate)
	events.Get("/:id/snapshot", h.HandleSnapshot)

	app.Post("/snapshots/sweep", h.HandleSweep)
}

func (h *Handler) failure(c *fiber.Ctx, err error) error {
	l := logger.WithRayID(h.service.logger, c)
	switch {
	case errors.Is(err, ErrInvalidFilter):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_request", "message": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrNoSnapshot):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"ok": false, "error": "not_found", "message": err.Error()})
	case errors.Is(err, store.ErrStorageFailure):
		l.Error("Canonical store request failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "error": "storage_failure", "message": err.Error()})
	default:
		l.Error("Access request failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "internal", "message": err.Error()})
	}
}

func eventID(c *fiber.Ctx) (uint, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

func badID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_id", "message": "event id must be a positive integer"})
}

// parseTime accepts RFC3339 or a plain date.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

// HandleListEntries lists the canonical access list.
// @Summary List Access List Entries
// @Tags access
// @Produce json
// @Param classification query string false "allow, deny or auxiliary"
// @Success 200 {array} store.AccessListEntry "Entries"
// @Failure 400 {object} map[string]any "Unknown classification"
// @Security ApiKeyAuth
// @Router /entries [get]
func (h *Handler) HandleListEntries(c *fiber.Ctx) error {
	entries, err := h.service.Entries(c.UserContext(), c.Query("classification"))
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(entries)
}

// HandleListEvents lists events by subject and time range, newest first.
// @Summary List Access Events
// @Tags access
// @Produce json
// @Param subject query string false "Subject, normalized before matching"
// @Param from query string false "RFC3339 or YYYY-MM-DD, inclusive"
// @Param to query string false "RFC3339 or YYYY-MM-DD, exclusive"
// @Param limit query int false "Max rows (default 100, max 1000)"
// @Success 200 {array} store.AccessEvent "Events"
// @Security ApiKeyAuth
// @Router /events [get]
func (h *Handler) HandleListEvents(c *fiber.Ctx) error {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		return h.failure(c, errors.Join(ErrInvalidFilter, err))
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		return h.failure(c, errors.Join(ErrInvalidFilter, err))
	}

	events, err := h.service.Events(c.UserContext(), store.EventFilter{
		Subject: utils.NormalizePlate(c.Query("subject")),
		From:    from,
		To:      to,
		Limit:   c.QueryInt("limit"),
	})
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(events)
}

// HandleGetEvent returns one event.
// @Summary Get Access Event
// @Tags access
// @Produce json
// @Param id path int true "Event ID"
// @Success 200 {object} store.AccessEvent "Event"
// @Failure 404 {object} map[string]any "Unknown event"
// @Security ApiKeyAuth
// @Router /events/{id} [get]
func (h *Handler) HandleGetEvent(c *fiber.Ctx) error {
	id, ok := eventID(c)
	if !ok {
		return badID(c)
	}
	e, err := h.service.Event(c.UserContext(), id)
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(e)
}

type annotationRequest struct {
	Annotation string `json:"annotation"`
}

// HandleAnnotate sets the operator note of an event.
// @Summary Annotate Access Event
// @Tags access
// @Accept json
// @Produce json
// @Param id path int true "Event ID"
// @Success 200 {object} store.AccessEvent "Event"
// @Failure 404 {object} map[string]any "Unknown event"
// @Security ApiKeyAuth
// @Router /events/{id}/annotation [patch]
func (h *Handler) HandleAnnotate(c *fiber.Ctx) error {
	id, ok := eventID(c)
	if !ok {
		return badID(c)
	}
	var req annotationRequest
	if err := c.BodyParser(&req); err != nil {
		return h.failure(c, errors.Join(ErrInvalidFilter, err))
	}

	e, err := h.service.Annotate(c.UserContext(), id, req.Annotation)
	if err != nil {
		return h.failure(c, err)
	}
	logger.WithRayID(h.service.logger, c).Info("Event annotated", zap.Uint("event_id", id))
	return c.JSON(e)
}

// HandleSnapshot streams the snapshot of an event.
// @Summary Get Event Snapshot
// @Tags access
// @Produce image/jpeg
// @Param id path int true "Event ID"
// @Param thumb query bool false "Serve the thumbnail when one exists"
// @Success 200 {file} file "Snapshot"
// @Failure 404 {object} map[string]any "No snapshot"
// @Security ApiKeyAuth
// @Router /events/{id}/snapshot [get]
func (h *Handler) HandleSnapshot(c *fiber.Ctx) error {
	id, ok := eventID(c)
	if !ok {
		return badID(c)
	}
	rc, ref, err := h.service.Snapshot(c.UserContext(), id, c.QueryBool("thumb"))
	if err != nil {
		return h.failure(c, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return h.failure(c, err)
	}
	if ct := mime.TypeByExtension(path.Ext(ref)); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	}
	return c.Send(body)
}

type purgeRequest struct {
	Before  string `json:"before" query:"before"`
	Confirm bool   `json:"confirm" query:"confirm"`
}

// HandlePurge irreversibly deletes old events and their snapshots.
// Without confirm=true it only reports how many events match.
// @Summary Purge Access Events
// @Tags access
// @Accept json
// @Produce json
// @Param before query string true "RFC3339 or YYYY-MM-DD cutoff"
// @Param confirm query bool false "Actually delete"
// @Success 200 {object} access.PurgeResult "Purge report"
// @Security ApiKeyAuth
// @Router /events/purge [post]
func (h *Handler) HandlePurge(c *fiber.Ctx) error {
	var req purgeRequest
	if err := c.QueryParser(&req); err != nil {
		return h.failure(c, errors.Join(ErrInvalidFilter, err))
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return h.failure(c, errors.Join(ErrInvalidFilter, err))
		}
	}

	before, err := parseTime(req.Before)
	if err != nil {
		return h.failure(c, errors.Join(ErrInvalidFilter, err))
	}

	res, err := h.service.Purge(c.UserContext(), before, req.Confirm)
	if err != nil {
		return h.failure(c, err)
	}
	if res.Confirmed {
		logger.WithRayID(h.service.logger, c).Warn("Bulk purge executed",
			zap.Time("before", res.Before), zap.Int("deleted", res.Deleted))
	}
	return c.JSON(res)
}

// HandleSweep removes snapshot objects no event references.
// @Summary Sweep Orphaned Snapshots
// @Tags access
// @Produce json
// @Param confirm query bool false "Actually delete"
// @Success 200 {object} access.SweepResult "Sweep report"
// @Security ApiKeyAuth
// @Router /snapshots/sweep [post]
func (h *Handler) HandleSweep(c *fiber.Ctx) error {
	res, err := h.service.SweepOrphans(c.UserContext(), c.QueryBool("confirm"))
	if err != nil {
		return h.failure(c, err)
	}
	return c.JSON(res)
}
