package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"lpr-manager/core/device/devicetest"
	"lpr-manager/core/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plates(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Plate)
	}
	sort.Strings(out)
	return out
}

func newClient(t *testing.T, cfg Config) (*Client, *devicetest.Device) {
	t.Helper()
	fake := devicetest.New(t)
	return NewFactory(cfg, nil).Client(fake.Model(1, "gate-north")), fake
}

func TestFetchAll_Paginates(t *testing.T) {
	c, fake := newClient(t, Config{PageSize: 3})
	var want []string
	for i := 0; i < 7; i++ {
		want = append(want, fmt.Sprintf("AAA%03d", i))
	}
	fake.Seed(want...)

	entries, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, plates(entries))
	assert.Equal(t, int32(3), fake.Searches.Load())
}

func TestFetchAll_ExactPageMultiple(t *testing.T) {
	c, fake := newClient(t, Config{PageSize: 2})
	fake.Seed("A1", "A2", "A3", "A4")

	entries, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	// Two full pages, then an empty one ends the scan.
	assert.Equal(t, int32(3), fake.Searches.Load())
}

func TestFetchAll_MaxPages(t *testing.T) {
	c, fake := newClient(t, Config{PageSize: 1, MaxPages: 2})
	fake.Seed("A1", "A2", "A3")

	_, err := c.FetchAll(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestUpsertRemoveRoundTrip(t *testing.T) {
	c, _ := newClient(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Upsert(ctx, "ABC123"))
	entries, err := c.FetchAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, plates(entries), "ABC123")

	require.NoError(t, c.Upsert(ctx, "ABC123"), "upsert is idempotent")

	require.NoError(t, c.Remove(ctx, "ABC123"))
	entries, err = c.FetchAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, plates(entries), "ABC123")

	assert.NoError(t, c.Remove(ctx, "ABC123"), "removing an absent entry succeeds")
}

func TestClearAll(t *testing.T) {
	c, fake := newClient(t, Config{})
	fake.Seed("A1", "B2", "C3")

	require.NoError(t, c.ClearAll(context.Background()))
	assert.Empty(t, fake.Plates())
	assert.Equal(t, int32(1), fake.Clears.Load())
}

func TestUpsert_RejectedSurfacesStatus(t *testing.T) {
	c, fake := newClient(t, Config{})
	fake.RejectPlate("BAD1", "Device Memory Full")

	err := c.Upsert(context.Background(), "BAD1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, IsUnreachable(err))

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 6, de.StatusCode)
	assert.Equal(t, "Device Memory Full", de.StatusString)
	assert.Equal(t, "badParameters", de.SubStatusCode)
	assert.Equal(t, "Device Memory Full / badParameters", Reason(err))
}

func TestFetchAll_StatusOnlyReplyIsRejected(t *testing.T) {
	c, fake := newClient(t, Config{})
	fake.Seed("AAA111")
	fake.RefuseSearch("Invalid Operation")

	entries, err := c.FetchAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, entries)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, IsUnreachable(err))

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "search", de.Op)
	assert.Equal(t, http.StatusOK, de.HTTPStatus)
	assert.Equal(t, 4, de.StatusCode)
	assert.Equal(t, "Invalid Operation", de.StatusString)
	assert.Equal(t, "notSupport", de.SubStatusCode)

	assert.ErrorIs(t, c.Ping(context.Background()), ErrRejected)
}

func TestFetchAll_ReplyWithoutResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	t.Cleanup(srv.Close)
	c := NewFactory(Config{}, nil).Client(store.Device{ID: 9, Name: "gate-odd", Address: srv.URL, AuthScheme: store.AuthBasic})

	_, err := c.FetchAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, Reason(err), "no search result")
}

func TestUnreachable(t *testing.T) {
	c, fake := newClient(t, Config{})
	fake.SetUnreachable(true)

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, IsUnreachable(err))
}

func TestTimeout(t *testing.T) {
	c, fake := newClient(t, Config{RequestTimeoutSeconds: 1})
	fake.SetDelay(3 * time.Second)

	started := time.Now()
	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestBasicAuth(t *testing.T) {
	fake := devicetest.New(t)
	fake.Username, fake.Password = "admin", "s3cret"
	f := NewFactory(Config{}, nil)

	require.NoError(t, f.Client(fake.Model(1, "gate")).Ping(context.Background()))

	wrong := fake.Model(1, "gate")
	wrong.Password = "nope"
	err := f.Client(wrong).Ping(context.Background())
	require.ErrorIs(t, err, ErrRejected)
	assert.NotContains(t, err.Error(), "nope")

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusUnauthorized, de.HTTPStatus)
}

func TestDigestAuth(t *testing.T) {
	fake := devicetest.New(t)
	fake.Username, fake.Password, fake.Digest = "admin", "s3cret", true

	c := NewFactory(Config{}, nil).Client(fake.Model(1, "gate"))
	require.NoError(t, c.Upsert(context.Background(), "ABC123"))
	assert.Equal(t, []string{"ABC123"}, fake.Plates())
}

func TestStatusCodeEncodings(t *testing.T) {
	replies := map[string]bool{
		`{"statusCode":1,"statusString":"OK"}`:                                        true,
		`{"statusCode":"1","statusString":"OK","subStatusCode":"ok"}`:                true,
		`{"statusString":"OK"}`:                                                       true,
		`{"statusCode":"4","statusString":"Invalid Operation","errorMsg":"locked"}`:   false,
		`{"statusCode":6,"statusString":"Invalid Content","subStatusCode":"badXml"}`: false,
	}
	for body, ok := range replies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}))
		c := NewFactory(Config{}, nil).Client(store.Device{ID: 9, Name: "raw", Address: srv.URL})
		err := c.ClearAll(context.Background())
		if ok {
			assert.NoError(t, err, body)
		} else {
			assert.ErrorIs(t, err, ErrRejected, body)
		}
		srv.Close()
	}
}

func TestRemove_NotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewFactory(Config{}, nil).Client(store.Device{ID: 9, Name: "raw", Address: srv.URL})
	assert.NoError(t, c.Remove(context.Background(), "ABC123"))
	assert.ErrorIs(t, c.ClearAll(context.Background()), ErrRejected)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.5", baseURL("10.0.0.5"))
	assert.Equal(t, "http://10.0.0.5:8080", baseURL(" 10.0.0.5:8080/ "))
	assert.Equal(t, "https://cam.local", baseURL("https://cam.local"))
}
