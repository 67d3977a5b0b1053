package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lpr-manager/core/lock"
	"lpr-manager/core/logger"
	"lpr-manager/core/metrics"
	"lpr-manager/core/snapshot"
	"lpr-manager/core/store"
	"lpr-manager/core/utils"

	"go.uber.org/zap"
)

// ErrInvalidSubject is returned when the reported plate has no [A-Z0-9] characters.
var ErrInvalidSubject = errors.New("invalid subject")

// Submission is one event notification as a device sent it.
type Submission struct {
	HardwareID string
	Subject    string
	// Timestamp is the device clock, if any. Unparseable values fall back to
	// ingestion time.
	Timestamp string
	EventType string
	Image     []byte
}

// Session transitions reported in an Ack.
const (
	SessionNone   = "none"
	SessionOpened = "opened"
	SessionClosed = "closed"
)

// Ack is the synchronous reply to a device.
type Ack struct {
	OK       bool           `json:"ok"`
	Decision store.Decision `json:"decision"`
	EventID  uint           `json:"event_id"`
	Subject  string         `json:"subject"`
	DeviceID *uint          `json:"device_id"`
	Session  string         `json:"session"`
	ImageRef *string        `json:"image_ref"`
}

// Service turns event notifications into access events and presence changes.
type Service struct {
	store     *store.Store
	snapshots *snapshot.Writer
	locks     lock.Locker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates an ingest service.
func NewService(s *store.Store, snapshots *snapshot.Writer, locks lock.Locker, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		store:     s,
		snapshots: snapshots,
		locks:     locks,
		metrics:   m,
		logger:    log,
		now:       time.Now,
	}
}

// Ingest records one event. Only input validation and canonical store failures
// return an error; an unknown device or a lost snapshot still produce an event.
func (s *Service) Ingest(ctx context.Context, sub Submission) (*Ack, error) {
	started := s.now()

	subject := utils.NormalizePlate(sub.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, sub.Subject)
	}

	occurredAt := started.UTC()
	if t := parseOptionalTimestamp(sub.Timestamp); t != nil {
		occurredAt = *t
	}

	// The upload happens before the subject lock so a slow object store never
	// holds up other events for the same plate.
	var stored *snapshot.Stored
	if len(sub.Image) > 0 {
		var err error
		stored, err = s.snapshots.Save(ctx, subject, occurredAt, sub.Image)
		if err != nil {
			s.metrics.SnapshotFailed()
			s.logger.Warn("Snapshot not stored, keeping event without image",
				zap.String("subject", subject), zap.Error(err))
			stored = nil
		}
	}

	unlock, err := s.locks.Lock(ctx, "subject:"+subject)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize subject %s: %w", subject, err)
	}
	defer unlock()

	var (
		dev     *store.Device
		event   *store.AccessEvent
		session = SessionNone
	)
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		dev, err = tx.DeviceByHardwareID(ctx, sub.HardwareID)
		if err != nil {
			return err
		}

		entry, _, err := tx.FindOrCreateEntry(ctx, subject)
		if err != nil {
			return err
		}

		decision := store.DecisionDenied
		if dev != nil && entry.Classification == store.ClassAllow {
			decision = store.DecisionGranted
		}

		event = &store.AccessEvent{
			Subject:    subject,
			HardwareID: store.NormalizeHardwareID(sub.HardwareID),
			OccurredAt: occurredAt,
			Decision:   decision,
			EventType:  truncate(sub.EventType, 64),
		}
		if dev != nil {
			event.DeviceID = &dev.ID
			event.DeviceName = dev.Name
		}
		if stored != nil {
			event.ImageRef = &stored.ImageRef
			if stored.ThumbRef != "" {
				event.ThumbRef = &stored.ThumbRef
			}
		}
		if err := tx.CreateEvent(ctx, event); err != nil {
			return err
		}

		if session, err = transition(ctx, tx, dev, decision, event); err != nil {
			return err
		}
		return tx.TouchEntry(ctx, subject, occurredAt)
	})
	if err != nil {
		if stored != nil {
			s.discard(stored)
		}
		return nil, err
	}

	if dev != nil {
		if err := s.store.TouchDevice(ctx, dev.ID, started); err != nil {
			s.logger.Warn("Failed to refresh last_seen", append(logger.DeviceFields(dev.ID, dev.Name, dev.Address), zap.Error(err))...)
		}
	}

	s.metrics.ObserveIngest(string(event.Decision), dev != nil, started)

	ack := &Ack{
		OK:       true,
		Decision: event.Decision,
		EventID:  event.ID,
		Subject:  subject,
		DeviceID: event.DeviceID,
		Session:  session,
		ImageRef: event.ImageRef,
	}
	return ack, nil
}

// transition opens or closes the subject's presence session. Only granted
// events from devices with a declared role move a session.
func transition(ctx context.Context, tx *store.Store, dev *store.Device, decision store.Decision, event *store.AccessEvent) (string, error) {
	if dev == nil || decision != store.DecisionGranted {
		return SessionNone, nil
	}

	open, err := tx.OpenSession(ctx, event.Subject)
	if err != nil {
		return SessionNone, err
	}

	switch dev.Role {
	case store.RoleEntry:
		if open != nil {
			return SessionNone, nil
		}
		if _, err := tx.StartSession(ctx, event.Subject, event.OccurredAt, event.ID); err != nil {
			return SessionNone, err
		}
		return SessionOpened, nil
	case store.RoleExit:
		if open == nil {
			return SessionNone, nil
		}
		if err := tx.EndSession(ctx, open, event.OccurredAt, event.ID); err != nil {
			return SessionNone, err
		}
		return SessionClosed, nil
	default:
		return SessionNone, nil
	}
}

// discard removes a snapshot whose event was never written. Failures leave an
// orphan for the sweep.
func (s *Service) discard(stored *snapshot.Stored) {
	refs := []string{stored.ImageRef}
	if stored.ThumbRef != "" {
		refs = append(refs, stored.ThumbRef)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.snapshots.Remove(ctx, refs); err != nil {
		s.logger.Warn("Failed to discard snapshot of unsaved event", zap.Strings("objects", refs), zap.Error(err))
	}
}

var deviceClockLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseOptionalTimestamp accepts RFC3339, zone-less device clocks (read as
// UTC) and unix seconds or milliseconds. It returns nil when s is unusable.
func parseOptionalTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range deviceClockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		var t time.Time
		if n > 1e12 {
			t = time.UnixMilli(n)
		} else {
			t = time.Unix(n, 0)
		}
		u := t.UTC()
		return &u
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
