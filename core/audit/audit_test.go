package audit

import (
	"context"
	"testing"

	"lpr-manager/core/database"
	"lpr-manager/core/device"
	"lpr-manager/core/device/devicetest"
	"lpr-manager/core/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAudit_PerDeviceResults(t *testing.T) {
	a, b, c := devicetest.New(t), devicetest.New(t), devicetest.New(t)
	a.Seed("ABC123", "ZZZ999")
	c.Seed("ZZZ999")
	b.SetUnreachable(true)

	auditor := NewAuditor(device.NewFactory(device.Config{}, nil), Config{}, zap.NewNop())
	report, err := auditor.Audit(context.Background(), "abc-123", []store.Device{
		a.Model(1, "A"), b.Model(2, "B"), c.Model(3, "C"),
	})
	require.NoError(t, err)

	assert.Equal(t, "ABC123", report.Subject)
	require.Len(t, report.Devices, 3)

	assert.True(t, report.Devices[0].Reachable)
	assert.True(t, report.Devices[0].Present)

	assert.False(t, report.Devices[1].Reachable)
	assert.NotEmpty(t, report.Devices[1].Error)

	assert.True(t, report.Devices[2].Reachable)
	assert.False(t, report.Devices[2].Present)

	assert.Equal(t, Summary{Devices: 3, Present: 1, Missing: 1, Unreachable: 1}, report.Summary)
	assert.Equal(t, []uint{3}, report.Missing())
}

func TestAudit_RefusedSearchIsNotAMiss(t *testing.T) {
	fake := devicetest.New(t)
	fake.Seed("ABC123")
	fake.RefuseSearch("Invalid Operation")

	auditor := NewAuditor(device.NewFactory(device.Config{}, nil), Config{}, zap.NewNop())
	report, err := auditor.Audit(context.Background(), "ABC123", []store.Device{fake.Model(1, "A")})
	require.NoError(t, err)

	assert.False(t, report.Devices[0].Reachable)
	assert.Equal(t, "Invalid Operation / notSupport", report.Devices[0].Error)
	assert.Empty(t, report.Missing())
	assert.Equal(t, Summary{Devices: 1, Unreachable: 1}, report.Summary)
}

func TestAudit_EmptySubject(t *testing.T) {
	auditor := NewAuditor(device.NewFactory(device.Config{}, nil), Config{}, zap.NewNop())
	_, err := auditor.Audit(context.Background(), "-- !!", nil)
	assert.ErrorIs(t, err, ErrEmptySubject)
}

func TestAudit_NormalizesDevicePlates(t *testing.T) {
	fake := devicetest.New(t)
	fake.Seed("abc 123")

	auditor := NewAuditor(device.NewFactory(device.Config{}, nil), Config{}, zap.NewNop())
	report, err := auditor.Audit(context.Background(), "ABC123", []store.Device{fake.Model(1, "A")})
	require.NoError(t, err)
	assert.True(t, report.Devices[0].Present)
}

func TestSubjects_Cache(t *testing.T) {
	fake := devicetest.New(t)
	fake.Seed("AAA111")
	d := fake.Model(1, "A")

	t.Run("Live Without TTL", func(t *testing.T) {
		auditor := NewAuditor(device.NewFactory(device.Config{}, nil), Config{}, zap.NewNop())
		before := fake.Searches.Load()
		_, err := auditor.Subjects(context.Background(), d)
		require.NoError(t, err)
		_, err = auditor.Subjects(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, before+2, fake.Searches.Load())
	})

	t.Run("Cached With TTL", func(t *testing.T) {
		auditor := NewAuditor(device.NewFactory(device.Config{}, nil), Config{CacheTTLSeconds: 60}, zap.NewNop())
		before := fake.Searches.Load()
		_, err := auditor.Subjects(context.Background(), d)
		require.NoError(t, err)
		set, err := auditor.Subjects(context.Background(), d)
		require.NoError(t, err)
		assert.Contains(t, set, "AAA111")
		assert.Equal(t, before+1, fake.Searches.Load())

		auditor.Invalidate(d.ID)
		_, err = auditor.Subjects(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, before+2, fake.Searches.Load())
	})
}

func TestMonitor_ProbeAll(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.Migrate(context.Background()))

	up, down := devicetest.New(t), devicetest.New(t)
	down.SetUnreachable(true)

	upModel, downModel := up.Model(0, "up"), down.Model(0, "down")
	require.NoError(t, s.CreateDevice(context.Background(), &upModel))
	require.NoError(t, s.CreateDevice(context.Background(), &downModel))

	m := NewMonitor(s, device.NewFactory(device.Config{}, nil), Config{ProbeTimeoutSeconds: 2}, nil, zap.NewNop())
	m.ProbeAll(context.Background())

	h, ok := m.Status(upModel.ID)
	require.True(t, ok)
	assert.True(t, h.Reachable)

	h, ok = m.Status(downModel.ID)
	require.True(t, ok)
	assert.False(t, h.Reachable)
	assert.NotEmpty(t, h.Error)

	refreshed, err := s.Device(context.Background(), upModel.ID)
	require.NoError(t, err)
	assert.NotNil(t, refreshed.LastSeen)

	stale, err := s.Device(context.Background(), downModel.ID)
	require.NoError(t, err)
	assert.Nil(t, stale.LastSeen)
}

func TestMonitor_DisabledStartStop(t *testing.T) {
	m := NewMonitor(nil, nil, Config{IntervalSeconds: 0}, nil, zap.NewNop())
	m.Start(context.Background())
	m.Stop()
}
