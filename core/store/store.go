package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	// ErrStorageFailure wraps every failed read or write against the canonical store.
	ErrStorageFailure = errors.New("storage failure")
	// ErrNotFound is returned by lookups that require a row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidDevice is returned when a device fails validation.
	ErrInvalidDevice = errors.New("invalid device")
)

var validate = validator.New()

func fail(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}

// Store is the repository over the canonical relational state.
type Store struct {
	db *gorm.DB
}

// New wraps an open connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for callers that need raw queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Device{}, &AccessListEntry{}, &AccessEvent{}, &PresenceSession{}); err != nil {
		return fail("migrate", err)
	}
	return nil
}

// Transaction runs fn against a store bound to one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	if err != nil && !errors.Is(err, ErrStorageFailure) {
		return fail("transaction", err)
	}
	return err
}

// NormalizeHardwareID lowercases a hardware identifier and unifies MAC separators.
func NormalizeHardwareID(raw string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", ":")
}

// ValidateDevice checks a device before it is stored.
func ValidateDevice(d *Device) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	return nil
}

// CreateDevice validates and registers a device.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	if d.AuthScheme == "" {
		d.AuthScheme = AuthDigest
	}
	if d.Role == "" {
		d.Role = RoleUndeclared
	}
	if d.HardwareID != nil {
		hw := NormalizeHardwareID(*d.HardwareID)
		if hw == "" {
			d.HardwareID = nil
		} else {
			d.HardwareID = &hw
		}
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fail("create device", err)
	}
	return nil
}

// Device loads one device by id.
func (s *Store) Device(ctx context.Context, id uint) (*Device, error) {
	var d Device
	err := s.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fail("load device", err)
	}
	return &d, nil
}

// DeviceByHardwareID resolves a device. It returns nil without error when no
// device declares hw.
func (s *Store) DeviceByHardwareID(ctx context.Context, hw string) (*Device, error) {
	hw = NormalizeHardwareID(hw)
	if hw == "" {
		return nil, nil
	}
	var devices []Device
	if err := s.db.WithContext(ctx).Where("hardware_id = ?", hw).Limit(1).Find(&devices).Error; err != nil {
		return nil, fail("resolve device", err)
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

// Devices lists the fleet ordered by id.
func (s *Store) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fail("list devices", err)
	}
	return devices, nil
}

// DevicesByIDs loads the given devices. Every id must exist.
func (s *Store) DevicesByIDs(ctx context.Context, ids []uint) ([]Device, error) {
	if len(ids) == 0 {
		return s.Devices(ctx)
	}
	var devices []Device
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&devices).Error; err != nil {
		return nil, fail("list devices", err)
	}
	if len(devices) != len(uniqueIDs(ids)) {
		return nil, fmt.Errorf("some of devices %v: %w", ids, ErrNotFound)
	}
	return devices, nil
}

func uniqueIDs(ids []uint) map[uint]struct{} {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// TouchDevice refreshes last_seen.
func (s *Store) TouchDevice(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&Device{}).Where("id = ?", id).Update("last_seen", at.UTC()).Error
	if err != nil {
		return fail("touch device", err)
	}
	return nil
}

// FindOrCreateEntry returns the entry for subject, creating it as deny when it
// has never been seen.
func (s *Store) FindOrCreateEntry(ctx context.Context, subject string) (*AccessListEntry, bool, error) {
	entry, err := s.Entry(ctx, subject)
	if err == nil {
		return entry, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	entry = &AccessListEntry{Subject: subject, Classification: ClassDeny}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		// Another replica may have won the insert.
		if existing, lookupErr := s.Entry(ctx, subject); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, fail("create entry", err)
	}
	return entry, true, nil
}

// Entry loads the entry for subject.
func (s *Store) Entry(ctx context.Context, subject string) (*AccessListEntry, error) {
	var entries []AccessListEntry
	if err := s.db.WithContext(ctx).Where("subject = ?", subject).Limit(1).Find(&entries).Error; err != nil {
		return nil, fail("load entry", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("entry %s: %w", subject, ErrNotFound)
	}
	return &entries[0], nil
}

// Entries lists entries, optionally filtered by classification.
func (s *Store) Entries(ctx context.Context, class Classification) ([]AccessListEntry, error) {
	q := s.db.WithContext(ctx).Order("subject")
	if class != "" {
		q = q.Where("classification = ?", class)
	}
	var entries []AccessListEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fail("list entries", err)
	}
	return entries, nil
}

// AllowedSubjects returns the sorted subjects classified allow.
func (s *Store) AllowedSubjects(ctx context.Context) ([]string, error) {
	var subjects []string
	err := s.db.WithContext(ctx).Model(&AccessListEntry{}).
		Where("classification = ?", ClassAllow).
		Pluck("subject", &subjects).Error
	if err != nil {
		return nil, fail("list allowed subjects", err)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// TouchEntry records the time of the latest event for subject.
func (s *Store) TouchEntry(ctx context.Context, subject string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&AccessListEntry{}).Where("subject = ?", subject).Update("last_event_at", at.UTC()).Error
	if err != nil {
		return fail("touch entry", err)
	}
	return nil
}

// OpenSession returns the open session of subject, or nil.
func (s *Store) OpenSession(ctx context.Context, subject string) (*PresenceSession, error) {
	var sessions []PresenceSession
	err := s.db.WithContext(ctx).Where("subject = ? AND closed_at IS NULL", subject).Limit(1).Find(&sessions).Error
	if err != nil {
		return nil, fail("load session", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// StartSession opens a session for subject.
func (s *Store) StartSession(ctx context.Context, subject string, at time.Time, entryEventID uint) (*PresenceSession, error) {
	open := subject
	sess := &PresenceSession{
		Subject:      subject,
		OpenSubject:  &open,
		OpenedAt:     at.UTC(),
		EntryEventID: &entryEventID,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fail("open session", err)
	}
	return sess, nil
}

// EndSession closes sess with the matching exit event.
func (s *Store) EndSession(ctx context.Context, sess *PresenceSession, at time.Time, exitEventID uint) error {
	closed := at.UTC()
	err := s.db.WithContext(ctx).Model(&PresenceSession{}).Where("id = ?", sess.ID).Updates(map[string]any{
		"closed_at":     closed,
		"exit_event_id": exitEventID,
		"open_subject":  gorm.Expr("NULL"),
	}).Error
	if err != nil {
		return fail("close session", err)
	}
	sess.ClosedAt = &closed
	sess.ExitEventID = &exitEventID
	sess.OpenSubject = nil
	return nil
}

// Sessions lists the sessions of subject, newest first.
func (s *Store) Sessions(ctx context.Context, subject string) ([]PresenceSession, error) {
	var sessions []PresenceSession
	if err := s.db.WithContext(ctx).Where("subject = ?", subject).Order("opened_at DESC, id DESC").Find(&sessions).Error; err != nil {
		return nil, fail("list sessions", err)
	}
	return sessions, nil
}

// CreateEvent persists one event.
func (s *Store) CreateEvent(ctx context.Context, e *AccessEvent) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fail("create event", err)
	}
	return nil
}

// Event loads one event by id.
func (s *Store) Event(ctx context.Context, id uint) (*AccessEvent, error) {
	var e AccessEvent
	err := s.db.WithContext(ctx).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fail("load event", err)
	}
	return &e, nil
}

// EventFilter narrows an event listing. Zero values do not filter.
type EventFilter struct {
	Subject string
	From    time.Time
	To      time.Time
	Limit   int
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Events lists events newest first.
func (s *Store) Events(ctx context.Context, f EventFilter) ([]AccessEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	q := s.db.WithContext(ctx).Order("occurred_at DESC, id DESC").Limit(limit)
	if f.Subject != "" {
		q = q.Where("subject = ?", f.Subject)
	}
	if !f.From.IsZero() {
		q = q.Where("occurred_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("occurred_at < ?", f.To.UTC())
	}

	var events []AccessEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, fail("list events", err)
	}
	return events, nil
}

// Annotate sets the operator note of an event, the only mutable column.
func (s *Store) Annotate(ctx context.Context, id uint, note string) (*AccessEvent, error) {
	e, err := s.Event(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&AccessEvent{}).Where("id = ?", id).Update("annotation", note).Error; err != nil {
		return nil, fail("annotate event", err)
	}
	e.Annotation = &note
	return e, nil
}
