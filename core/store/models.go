package store

import "time"

// Role governs the direction of presence transitions a device drives.
type Role string

const (
	RoleEntry      Role = "entry"
	RoleExit       Role = "exit"
	RoleUndeclared Role = "undeclared"
)

// Classification is the canonical verdict for one subject.
type Classification string

const (
	ClassAllow     Classification = "allow"
	ClassDeny      Classification = "deny"
	ClassAuxiliary Classification = "auxiliary"
)

// Valid reports whether c belongs to the closed classification set.
func (c Classification) Valid() bool {
	switch c {
	case ClassAllow, ClassDeny, ClassAuxiliary:
		return true
	}
	return false
}

// Decision is what the ingestor decided for one pass attempt.
type Decision string

const (
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
)

// AuthScheme selects how requests to a device are authenticated.
type AuthScheme string

const (
	AuthBasic  AuthScheme = "basic"
	AuthDigest AuthScheme = "digest"
)

// Device is one fleet member.
type Device struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"size:128;not null" json:"name" validate:"required,max=128"`
	Address    string     `gorm:"size:255;not null" json:"address" validate:"required,max=255"`
	Username   string     `gorm:"size:64" json:"username" validate:"max=64"`
	Password   string     `gorm:"size:128" json:"-" validate:"max=128"`
	AuthScheme AuthScheme `gorm:"size:16;not null;default:digest" json:"auth_scheme" validate:"required,oneof=basic digest"`
	// HardwareID correlates inbound events to the device. NULL when unknown, so the
	// unique index only constrains devices that declare one.
	HardwareID *string    `gorm:"size:64;uniqueIndex" json:"hardware_id,omitempty" validate:"omitempty,max=64"`
	Role       Role       `gorm:"size:16;not null;default:undeclared" json:"role" validate:"required,oneof=entry exit undeclared"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// AccessListEntry is the canonical classification of one subject.
type AccessListEntry struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Subject        string         `gorm:"size:32;not null;uniqueIndex" json:"subject"`
	Classification Classification `gorm:"size:16;not null;default:deny;index" json:"classification"`
	OwnerRef       *string        `gorm:"size:128" json:"owner_ref,omitempty"`
	LastEventAt    *time.Time     `json:"last_event_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AccessEvent records one observed pass attempt. Rows are immutable apart from
// Annotation.
type AccessEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Subject    string    `gorm:"size:32;not null;index" json:"subject"`
	DeviceID   *uint     `gorm:"index" json:"device_id"`
	DeviceName string    `gorm:"size:128" json:"device_name,omitempty"`
	HardwareID string    `gorm:"size:64" json:"hardware_id,omitempty"`
	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
	Decision   Decision  `gorm:"size:16;not null" json:"decision"`
	EventType  string    `gorm:"size:64" json:"event_type,omitempty"`
	ImageRef   *string   `gorm:"size:255" json:"image_ref"`
	ThumbRef   *string   `gorm:"size:255" json:"thumb_ref,omitempty"`
	Annotation *string   `gorm:"size:1024" json:"annotation,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PresenceSession tracks whether a subject is inside.
type PresenceSession struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Subject string `gorm:"size:32;not null;index" json:"subject"`
	// OpenSubject mirrors Subject while the session is open and is NULL once
	// closed; its unique index allows one open session per subject.
	OpenSubject  *string    `gorm:"size:32;uniqueIndex" json:"-"`
	OpenedAt     time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	EntryEventID *uint      `json:"entry_event_id,omitempty"`
	ExitEventID  *uint      `json:"exit_event_id,omitempty"`
}

// IsOpen reports whether the subject is still inside.
func (p *PresenceSession) IsOpen() bool {
	return p.ClosedAt == nil
}
