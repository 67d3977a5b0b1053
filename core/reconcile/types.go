package reconcile

import "time"

// ActionType represents the type of device write.
type ActionType string

const (
	// ActionUpsert adds a canonical allow entry the device lacks.
	ActionUpsert ActionType = "upsert"
	// ActionRemove deletes an entry the device holds but the canonical list does not allow.
	ActionRemove ActionType = "remove"
)

// Action represents a planned device write.
type Action struct {
	Type    ActionType `json:"type"`
	Subject string     `json:"subject"`
	Reason  string     `json:"reason"`
}

// Plan is the diff between the canonical allow list and one device.
type Plan struct {
	DeviceID   uint        `json:"device_id"`
	DeviceName string      `json:"device_name"`
	Missing    []string    `json:"missing"`
	Extra      []string    `json:"extra"`
	Actions    []Action    `json:"actions"`
	Summary    PlanSummary `json:"summary"`
}

// PlanSummary provides aggregate counts for a plan.
type PlanSummary struct {
	// Canonical counts entries classified allow.
	Canonical int `json:"canonical"`
	// OnDevice counts entries the device holds.
	OnDevice int `json:"on_device"`
	// Present counts canonical entries confirmed on the device.
	Present int `json:"present"`
	Missing int `json:"missing"`
	Extra   int `json:"extra"`
	// UpsertActions and RemoveActions count planned writes.
	UpsertActions int `json:"upsert_actions"`
	RemoveActions int `json:"remove_actions"`
}

// InSync reports whether the device holds exactly the canonical list.
func (s PlanSummary) InSync() bool {
	return s.Missing == 0 && s.Extra == 0
}

// Options controls what Apply is allowed to do.
type Options struct {
	// DryRun prevents any write when true.
	DryRun bool
	// DoPrune plans removal of entries not in the canonical allow list.
	DoPrune bool
	// Confirmed indicates the operator confirmed the writes.
	// If false, nothing is written regardless of DryRun.
	Confirmed bool
}

// Status is the terminal state of one reconciliation pass.
type Status string

const (
	StatusCompleted Status = "completed"
	// StatusPartial means some writes failed or were not attempted.
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusDryRun    Status = "dry_run"
)

// ClearStatus is the terminal state of the clear step of a full resync.
type ClearStatus string

const (
	ClearNotRequested ClearStatus = "not_requested"
	ClearSkipped      ClearStatus = "skipped"
	ClearOK           ClearStatus = "ok"
	ClearFailed       ClearStatus = "failed"
)

// Failure is one failed write.
type Failure struct {
	Subject string `json:"subject,omitempty"`
	Reason  string `json:"reason"`
}

// Outcome is the result of one reconciliation pass against one device.
type Outcome struct {
	DeviceID   uint   `json:"device_id"`
	DeviceName string `json:"device_name"`
	Mode       string `json:"mode"`
	Status     Status `json:"status"`
	// Error explains a pass that could not run at all.
	Error string `json:"error,omitempty"`

	// Confirmed counts canonical entries found present before any write.
	Confirmed int `json:"confirmed"`
	Attempted int `json:"attempted"`
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
	// Remaining counts writes never attempted because the pass stopped early.
	Remaining int `json:"remaining"`

	Cleared     bool        `json:"cleared"`
	ClearStatus ClearStatus `json:"clear_status"`
	ClearError  string      `json:"clear_error,omitempty"`

	// Failures holds the first failures, up to the configured sample size.
	Failures []Failure `json:"failures"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// DeviceResult is the targeted repair result on one device.
type DeviceResult struct {
	DeviceID    uint   `json:"device_id"`
	DeviceName  string `json:"device_name"`
	Succeeded   bool   `json:"succeeded"`
	Unreachable bool   `json:"unreachable"`
	Error       string `json:"error,omitempty"`
}

// RepairReport is the result of a targeted repair across devices.
type RepairReport struct {
	Subject   string         `json:"subject"`
	Results   []DeviceResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}
