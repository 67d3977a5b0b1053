package fleet

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"lpr-manager/core/audit"
	"lpr-manager/core/database"
	"lpr-manager/core/device"
	"lpr-manager/core/device/devicetest"
	"lpr-manager/core/store"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.Migrate(context.Background()))

	factory := device.NewFactory(device.Config{}, nil)
	monitor := audit.NewMonitor(s, factory, audit.Config{ProbeTimeoutSeconds: 2}, nil, zap.NewNop())
	return NewService(s, monitor, zap.NewNop())
}

func TestRegister(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	d, err := svc.Register(ctx, Registration{
		Name:       " Gate North ",
		Address:    "http://10.0.0.5",
		Username:   "admin",
		Password:   "secret",
		HardwareID: "AA-BB-CC-00-11-22",
		Role:       "Entry",
	})
	require.NoError(t, err)
	assert.Equal(t, "Gate North", d.Name)
	assert.Equal(t, store.RoleEntry, d.Role)
	assert.Equal(t, store.AuthDigest, d.AuthScheme)
	assert.Equal(t, "aa:bb:cc:00:11:22", *d.HardwareID)

	tests := []struct {
		name string
		reg  Registration
	}{
		{"Missing Role", Registration{Name: "A", Address: "10.0.0.6"}},
		{"Unknown Role", Registration{Name: "A", Address: "10.0.0.6", Role: "lobby"}},
		{"Unknown Scheme", Registration{Name: "A", Address: "10.0.0.6", Role: "exit", AuthScheme: "ntlm"}},
		{"Missing Address", Registration{Name: "A", Role: "exit"}},
		{"Duplicate Hardware ID", Registration{Name: "B", Address: "10.0.0.7", Role: "exit", HardwareID: "aa:bb:cc:00:11:22"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.reg)
			assert.ErrorIs(t, err, store.ErrInvalidDevice)
		})
	}

	devices, err := svc.Devices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestDevicesReachability(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	up := devicetest.New(t)
	down := devicetest.New(t)
	down.SetUnreachable(true)

	for i, fake := range []*devicetest.Device{up, down} {
		d := fake.Model(0, []string{"up", "down"}[i])
		require.NoError(t, svc.store.CreateDevice(ctx, &d))
	}

	views, err := svc.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Nil(t, views[0].Reachable, "not probed yet")

	svc.monitor.ProbeAll(ctx)

	views, err = svc.Devices(ctx)
	require.NoError(t, err)
	require.NotNil(t, views[0].Reachable)
	assert.True(t, *views[0].Reachable)
	assert.NotNil(t, views[0].LastSeen)
	require.NotNil(t, views[1].Reachable)
	assert.False(t, *views[1].Reachable)
	assert.NotEmpty(t, views[1].Error)
	assert.Nil(t, views[1].LastSeen)
}

func TestHandlers(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	fake := devicetest.New(t)
	fake.Username, fake.Password = "admin", "hunter2"
	d := fake.Model(0, "gate")
	require.NoError(t, svc.store.CreateDevice(ctx, &d))

	app := fiber.New()
	NewHandler(svc).RegisterRoutes(app)

	t.Run("List Hides Credentials", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/devices", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var out []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Len(t, out, 1)
		assert.Equal(t, "gate", out[0]["name"])
		assert.NotContains(t, out[0], "password")
	})

	t.Run("Probe", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("POST", "/devices/1/probe", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, true, out["reachable"])
	})

	t.Run("Unknown Device", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/devices/42", nil))
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)
	})

	t.Run("Bad ID", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/devices/abc", nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})
}
