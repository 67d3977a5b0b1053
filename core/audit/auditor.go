package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lpr-manager/core/device"
	"lpr-manager/core/logger"
	"lpr-manager/core/store"
	"lpr-manager/core/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrEmptySubject is returned when a subject normalizes to nothing.
var ErrEmptySubject = errors.New("subject is empty after normalization")

// Presence is what one device holds for a subject.
type Presence struct {
	DeviceID   uint   `json:"device_id"`
	DeviceName string `json:"device_name"`
	Reachable  bool   `json:"reachable"`
	// Present is meaningful only when Reachable.
	Present   bool      `json:"present"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the outcome of one audit across devices.
type Report struct {
	Subject string     `json:"subject"`
	Devices []Presence `json:"devices"`
	Summary Summary    `json:"summary"`
}

// Summary counts the per-device results.
type Summary struct {
	Devices     int `json:"devices"`
	Present     int `json:"present"`
	Missing     int `json:"missing"`
	Unreachable int `json:"unreachable"`
}

// Missing returns the reachable devices that do not hold the subject.
func (r *Report) Missing() []uint {
	var ids []uint
	for _, p := range r.Devices {
		if p.Reachable && !p.Present {
			ids = append(ids, p.DeviceID)
		}
	}
	return ids
}

// Auditor queries devices read-only.
type Auditor struct {
	connector   device.Connector
	concurrency int
	cache       *listCache
	logger      *zap.Logger
}

// NewAuditor creates an auditor.
func NewAuditor(connector device.Connector, cfg Config, log *zap.Logger) *Auditor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Auditor{
		connector:   connector,
		concurrency: concurrency,
		cache:       newListCache(time.Duration(cfg.CacheTTLSeconds) * time.Second),
		logger:      log,
	}
}

// Subjects returns the normalized set of subjects d currently holds.
func (a *Auditor) Subjects(ctx context.Context, d store.Device) (map[string]struct{}, error) {
	list, err := a.cache.getOrFetch(ctx, d.ID, strconv.FormatUint(uint64(d.ID), 10), func(ctx context.Context) (map[string]struct{}, error) {
		entries, err := a.connector.Connect(d).FetchAll(ctx)
		if err != nil {
			return nil, err
		}
		return SubjectSet(entries), nil
	})
	if err != nil {
		return nil, err
	}
	return list.Subjects, nil
}

// Invalidate drops the cached list of a device after it was written to.
func (a *Auditor) Invalidate(deviceID uint) {
	a.cache.invalidate(deviceID)
}

// SubjectSet normalizes device entries into a set.
func SubjectSet(entries []device.Entry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if s := utils.NormalizePlate(e.Plate); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// Audit reports, per device, whether it is reachable and holds subject. A failing
// device never affects the result of another.
func (a *Auditor) Audit(ctx context.Context, subject string, devices []store.Device) (*Report, error) {
	subject = utils.NormalizePlate(subject)
	if subject == "" {
		return nil, ErrEmptySubject
	}

	results := make([]Presence, len(devices))
	var g errgroup.Group
	g.SetLimit(a.concurrency)

	for i, d := range devices {
		g.Go(func() error {
			p := Presence{DeviceID: d.ID, DeviceName: d.Name}
			set, err := a.Subjects(ctx, d)
			p.CheckedAt = time.Now().UTC()
			if err != nil {
				p.Error = device.Reason(err)
				a.logger.Debug("Audit query failed",
					append(logger.DeviceFields(d.ID, d.Name, d.Address), zap.String("subject", subject), zap.Error(err))...)
			} else {
				p.Reachable = true
				_, p.Present = set[subject]
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Subject: subject, Devices: results}
	for _, p := range results {
		report.Summary.Devices++
		switch {
		case !p.Reachable:
			report.Summary.Unreachable++
		case p.Present:
			report.Summary.Present++
		default:
			report.Summary.Missing++
		}
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("audit interrupted: %w", err)
	}
	return report, nil
}
