package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lpr-manager/core/audit"
	"lpr-manager/core/store"

	"go.uber.org/zap"
)

// DeviceView is a device with its latest reachability.
type DeviceView struct {
	store.Device
	// Reachable is nil until the monitor has probed the device.
	Reachable *bool      `json:"reachable"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	Error     string     `json:"probe_error,omitempty"`
}

// Registration is the input of Register. Role is fixed once registered.
type Registration struct {
	Name       string
	Address    string
	Username   string
	Password   string
	AuthScheme string
	HardwareID string
	Role       string
}

// Service serves fleet read views.
type Service struct {
	store   *store.Store
	monitor *audit.Monitor
	logger  *zap.Logger
}

// NewService creates a fleet service. monitor may be nil.
func NewService(s *store.Store, monitor *audit.Monitor, logger *zap.Logger) *Service {
	return &Service{store: s, monitor: monitor, logger: logger}
}

func (s *Service) view(d store.Device) DeviceView {
	v := DeviceView{Device: d}
	if s.monitor == nil {
		return v
	}
	if h, ok := s.monitor.Status(d.ID); ok {
		reachable, checked := h.Reachable, h.CheckedAt
		v.Reachable = &reachable
		v.CheckedAt = &checked
		v.Error = h.Error
	}
	return v
}

// Devices lists the fleet with reachability.
func (s *Service) Devices(ctx context.Context) ([]DeviceView, error) {
	devices, err := s.store.Devices(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.view(d))
	}
	return views, nil
}

// Device returns one device with reachability.
func (s *Service) Device(ctx context.Context, id uint) (*DeviceView, error) {
	d, err := s.store.Device(ctx, id)
	if err != nil {
		return nil, err
	}
	v := s.view(*d)
	return &v, nil
}

// Probe pings a device now and returns the refreshed view.
func (s *Service) Probe(ctx context.Context, id uint) (*DeviceView, error) {
	if s.monitor == nil {
		return nil, errors.New("health monitor not configured")
	}
	d, err := s.store.Device(ctx, id)
	if err != nil {
		return nil, err
	}
	s.monitor.Probe(ctx, *d)
	// Re-read so last_seen reflects a successful probe.
	if d, err = s.store.Device(ctx, id); err != nil {
		return nil, err
	}
	v := s.view(*d)
	return &v, nil
}

// Register validates and stores a new device.
func (s *Service) Register(ctx context.Context, r Registration) (*store.Device, error) {
	d := &store.Device{
		Name:       strings.TrimSpace(r.Name),
		Address:    strings.TrimSpace(r.Address),
		Username:   r.Username,
		Password:   r.Password,
		AuthScheme: store.AuthScheme(strings.ToLower(strings.TrimSpace(r.AuthScheme))),
		Role:       store.Role(strings.ToLower(strings.TrimSpace(r.Role))),
	}
	if d.AuthScheme == "" {
		d.AuthScheme = store.AuthDigest
	}
	if hw := store.NormalizeHardwareID(r.HardwareID); hw != "" {
		d.HardwareID = &hw
	}
	if err := store.ValidateDevice(d); err != nil {
		return nil, err
	}

	if d.HardwareID != nil {
		existing, err := s.store.DeviceByHardwareID(ctx, *d.HardwareID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: hardware id %s already belongs to device %d", store.ErrInvalidDevice, *d.HardwareID, existing.ID)
		}
	}

	if err := s.store.CreateDevice(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("Device registered",
		zap.Uint("device_id", d.ID),
		zap.String("device", d.Name),
		zap.String("role", string(d.Role)),
	)
	return d, nil
}
