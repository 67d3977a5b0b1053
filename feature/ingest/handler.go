package ingest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"sort"
	"strings"

	"lpr-manager/core/logger"
	"lpr-manager/core/store"
	"lpr-manager/core/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// metadataParts are the multipart names devices use for the JSON event body.
var metadataParts = []string{"event", "anpr.json", "event_log"}

// Handler handles inbound event notifications.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the ingest routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Post("/events", h.HandleEvent)
}

// eventPayload accepts both the flat field names and the nested ANPR layout
// used by the device firmware.
type eventPayload struct {
	MAC        string `json:"mac"`
	MacAddress string `json:"macAddress"`
	HardwareID string `json:"hardware_id"`

	Plate   string `json:"plate"`
	Subject string `json:"subject"`
	ANPR    *struct {
		LicensePlate string `json:"licensePlate"`
	} `json:"ANPR"`

	Timestamp any    `json:"timestamp"`
	DateTime  string `json:"dateTime"`

	EventType    string `json:"event_type"`
	EventTypeAlt string `json:"eventType"`

	// Image is base64 when the event arrives as plain JSON.
	Image string `json:"image"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (p eventPayload) submission() (Submission, error) {
	sub := Submission{
		HardwareID: firstNonEmpty(p.HardwareID, p.MAC, p.MacAddress),
		Subject:    firstNonEmpty(p.Subject, p.Plate),
		Timestamp:  firstNonEmpty(utils.ToString(p.Timestamp), p.DateTime),
		EventType:  firstNonEmpty(p.EventType, p.EventTypeAlt),
	}
	if sub.Subject == "" && p.ANPR != nil {
		sub.Subject = p.ANPR.LicensePlate
	}
	if p.Image != "" {
		img, err := base64.StdEncoding.DecodeString(p.Image)
		if err != nil {
			return sub, errors.New("image is not valid base64")
		}
		sub.Image = img
	}
	return sub, nil
}

// HandleEvent records one device event and replies with the decision.
// @Summary Ingest Device Event
// @Description Accepts an event notification (multipart with JSON metadata and snapshot, or JSON) and returns the decision.
// @Tags ingest
// @Accept mpfd,json
// @Produce json
// @Success 200 {object} ingest.Ack "Acknowledgment"
// @Failure 400 {object} map[string]any "Invalid event"
// @Failure 503 {object} map[string]any "Canonical store unavailable"
// @Router /events [post]
func (h *Handler) HandleEvent(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	sub, err := parseSubmission(c)
	if err != nil {
		l.Warn("Malformed event notification", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":      false,
			"error":   "malformed_event",
			"message": err.Error(),
		})
	}

	ack, err := h.service.Ingest(c.UserContext(), sub)
	switch {
	case errors.Is(err, ErrInvalidSubject):
		l.Info("Event rejected", zap.String("hardware_id", sub.HardwareID), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":      false,
			"error":   "invalid_subject",
			"message": err.Error(),
		})
	case errors.Is(err, store.ErrStorageFailure):
		l.Error("Event could not be stored", zap.String("hardware_id", sub.HardwareID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ok":      false,
			"error":   "storage_failure",
			"message": "event not recorded, retry later",
		})
	case err != nil:
		l.Error("Event ingestion failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":      false,
			"error":   "internal",
			"message": err.Error(),
		})
	}

	l.Info("Event recorded",
		zap.Uint("event_id", ack.EventID),
		zap.String("subject", ack.Subject),
		zap.String("decision", string(ack.Decision)),
		zap.String("session", ack.Session),
		zap.Bool("known_device", ack.DeviceID != nil),
	)
	return c.JSON(ack)
}

func parseSubmission(c *fiber.Ctx) (Submission, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return Submission{}, err
		}
		return fromMultipart(form)
	}

	var p eventPayload
	if err := json.Unmarshal(c.Body(), &p); err != nil {
		return Submission{}, errors.New("body is neither multipart nor JSON")
	}
	return p.submission()
}

func fromMultipart(form *multipart.Form) (Submission, error) {
	var (
		p        eventPayload
		metaFile string
		haveMeta bool
	)

	for _, name := range metadataParts {
		if vals := form.Value[name]; len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
			if err := json.Unmarshal([]byte(vals[0]), &p); err != nil {
				return Submission{}, errors.New("event metadata is not valid JSON")
			}
			haveMeta = true
			break
		}
		if files := form.File[name]; len(files) > 0 {
			raw, err := readPart(files[0])
			if err != nil {
				return Submission{}, err
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return Submission{}, errors.New("event metadata is not valid JSON")
			}
			metaFile, haveMeta = name, true
			break
		}
	}

	if !haveMeta {
		p.MAC = formValue(form, "mac")
		p.HardwareID = formValue(form, "hardware_id")
		p.Plate = formValue(form, "plate")
		p.Subject = formValue(form, "subject")
		p.Timestamp = formValue(form, "timestamp")
		p.EventType = formValue(form, "event_type")
	}

	sub, err := p.submission()
	if err != nil {
		return sub, err
	}

	// The snapshot is the first file part that is not the metadata.
	names := make([]string, 0, len(form.File))
	for name := range form.File {
		if name != metaFile {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if files := form.File[name]; len(files) > 0 {
			img, err := readPart(files[0])
			if err != nil {
				return sub, err
			}
			sub.Image = img
			break
		}
	}
	return sub, nil
}

func formValue(form *multipart.Form, key string) string {
	if vals := form.Value[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
