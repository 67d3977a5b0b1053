package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lpr-manager/core/database"
	"lpr-manager/core/lock"
	"lpr-manager/core/snapshot"
	"lpr-manager/core/storage/mocks"
	"lpr-manager/core/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	entryMAC = "aa:bb:cc:00:00:01"
	exitMAC  = "aa:bb:cc:00:00:02"
	sideMAC  = "aa:bb:cc:00:00:03"
)

type fixture struct {
	store   *store.Store
	objects *mocks.Client
	service *Service
}

func strPtr(s string) *string { return &s }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.Connect(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.Migrate(ctx))

	for _, d := range []*store.Device{
		{Name: "North In", Address: "10.0.0.1", HardwareID: strPtr(entryMAC), Role: store.RoleEntry},
		{Name: "North Out", Address: "10.0.0.2", HardwareID: strPtr(exitMAC), Role: store.RoleExit},
		{Name: "Yard", Address: "10.0.0.3", HardwareID: strPtr(sideMAC), Role: store.RoleUndeclared},
	} {
		require.NoError(t, s.CreateDevice(ctx, d))
	}

	objects := new(mocks.Client)
	writer := snapshot.NewWriter(objects, "lpr", snapshot.Config{Prefix: "snapshots"}, zap.NewNop())
	return &fixture{
		store:   s,
		objects: objects,
		service: NewService(s, writer, lock.NewLocal(), nil, zap.NewNop()),
	}
}

func (f *fixture) allow(t *testing.T, subject string) {
	t.Helper()
	require.NoError(t, f.store.DB().Create(&store.AccessListEntry{Subject: subject, Classification: store.ClassAllow}).Error)
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestIngest_UnknownDeviceNewSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ack, err := f.service.Ingest(ctx, Submission{HardwareID: "ff:ff:ff:ff:ff:ff", Subject: "xyz-123!!"})
	require.NoError(t, err)

	assert.True(t, ack.OK)
	assert.Equal(t, "XYZ123", ack.Subject)
	assert.Equal(t, store.DecisionDenied, ack.Decision)
	assert.Nil(t, ack.DeviceID)
	assert.Nil(t, ack.ImageRef)
	assert.Equal(t, SessionNone, ack.Session)

	entry, err := f.store.Entry(ctx, "XYZ123")
	require.NoError(t, err)
	assert.Equal(t, store.ClassDeny, entry.Classification)
	require.NotNil(t, entry.LastEventAt)

	ev, err := f.store.Event(ctx, ack.EventID)
	require.NoError(t, err)
	assert.Equal(t, "XYZ123", ev.Subject)
	assert.Equal(t, store.DecisionDenied, ev.Decision)
	assert.Nil(t, ev.DeviceID)
	assert.Nil(t, ev.ImageRef)
	assert.Equal(t, "ff:ff:ff:ff:ff:ff", ev.HardwareID)
}

func TestIngest_InvalidSubjectWritesNothing(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{"", "  ", "!!--", "äöü"} {
		_, err := f.service.Ingest(context.Background(), Submission{HardwareID: entryMAC, Subject: raw, Image: []byte("x")})
		assert.ErrorIs(t, err, ErrInvalidSubject, raw)
	}

	db := f.store.DB()
	assert.Zero(t, countRows(t, db, &store.AccessEvent{}))
	assert.Zero(t, countRows(t, db, &store.AccessListEntry{}))
	f.objects.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_KnownDeviceDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.allow(t, "ABC123")
	require.NoError(t, f.store.DB().Create(&store.AccessListEntry{Subject: "SUP001", Classification: store.ClassAuxiliary}).Error)

	ack, err := f.service.Ingest(ctx, Submission{HardwareID: "AA-BB-CC-00-00-03", Subject: "abc 123"})
	require.NoError(t, err)
	assert.Equal(t, store.DecisionGranted, ack.Decision)
	require.NotNil(t, ack.DeviceID)
	assert.Equal(t, SessionNone, ack.Session, "undeclared role never moves a session")

	ack, err = f.service.Ingest(ctx, Submission{HardwareID: sideMAC, Subject: "SUP001"})
	require.NoError(t, err)
	assert.Equal(t, store.DecisionDenied, ack.Decision)

	dev, err := f.store.Device(ctx, *ack.DeviceID)
	require.NoError(t, err)
	assert.NotNil(t, dev.LastSeen)

	// An allowed plate is still denied when the reporting device is unknown.
	ack, err = f.service.Ingest(ctx, Submission{HardwareID: "", Subject: "ABC123"})
	require.NoError(t, err)
	assert.Equal(t, store.DecisionDenied, ack.Decision)
}

func TestIngest_SessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.allow(t, "ABC123")

	t.Run("Exit Without Session", func(t *testing.T) {
		ack, err := f.service.Ingest(ctx, Submission{HardwareID: exitMAC, Subject: "ABC123"})
		require.NoError(t, err)
		assert.Equal(t, SessionNone, ack.Session)
		sessions, err := f.store.Sessions(ctx, "ABC123")
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	var entryID uint
	t.Run("Entry Opens", func(t *testing.T) {
		ack, err := f.service.Ingest(ctx, Submission{HardwareID: entryMAC, Subject: "ABC123", Timestamp: "2026-03-01T08:00:00Z"})
		require.NoError(t, err)
		assert.Equal(t, SessionOpened, ack.Session)
		entryID = ack.EventID

		open, err := f.store.OpenSession(ctx, "ABC123")
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, entryID, *open.EntryEventID)
		assert.True(t, open.OpenedAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	})

	t.Run("Second Entry Is Idempotent", func(t *testing.T) {
		ack, err := f.service.Ingest(ctx, Submission{HardwareID: entryMAC, Subject: "ABC123"})
		require.NoError(t, err)
		assert.Equal(t, SessionNone, ack.Session)
		sessions, err := f.store.Sessions(ctx, "ABC123")
		require.NoError(t, err)
		assert.Len(t, sessions, 1)
	})

	t.Run("Exit Closes", func(t *testing.T) {
		ack, err := f.service.Ingest(ctx, Submission{HardwareID: exitMAC, Subject: "ABC123"})
		require.NoError(t, err)
		assert.Equal(t, SessionClosed, ack.Session)

		open, err := f.store.OpenSession(ctx, "ABC123")
		require.NoError(t, err)
		assert.Nil(t, open)

		sessions, err := f.store.Sessions(ctx, "ABC123")
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.False(t, sessions[0].IsOpen())
		assert.Equal(t, ack.EventID, *sessions[0].ExitEventID)
	})

	t.Run("Denied Entry Does Not Open", func(t *testing.T) {
		ack, err := f.service.Ingest(ctx, Submission{HardwareID: entryMAC, Subject: "ZZZ999"})
		require.NoError(t, err)
		assert.Equal(t, store.DecisionDenied, ack.Decision)
		assert.Equal(t, SessionNone, ack.Session)
	})
}

func TestIngest_ConcurrentEntriesOpenOneSession(t *testing.T) {
	f := newFixture(t)
	f.allow(t, "ABC123")

	const n = 12
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
		errs   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := f.service.Ingest(context.Background(), Submission{HardwareID: entryMAC, Subject: "abc-123"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ack.Session == SessionOpened {
				opened++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, opened)
	assert.Equal(t, int64(1), countRows(t, f.store.DB(), &store.PresenceSession{}))
	assert.Equal(t, int64(n), countRows(t, f.store.DB(), &store.AccessEvent{}))
	assert.Equal(t, int64(1), countRows(t, f.store.DB(), &store.AccessListEntry{}))
}

func TestIngest_ConcurrentNewSubjectCreatesOneEntry(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Ingest(context.Background(), Submission{HardwareID: sideMAC, Subject: "NEW001"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := f.store.Entries(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.ClassDeny, entries[0].Classification)
}

func TestIngest_Snapshot(t *testing.T) {
	t.Run("Stored", func(t *testing.T) {
		f := newFixture(t)
		f.objects.On("PutObject", mock.Anything, "lpr", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(minio.UploadInfo{}, nil).Once()

		ack, err := f.service.Ingest(context.Background(), Submission{HardwareID: entryMAC, Subject: "ABC123", Image: []byte("raw-bytes")})
		require.NoError(t, err)
		require.NotNil(t, ack.ImageRef)
		assert.Contains(t, *ack.ImageRef, "snapshots/")
		assert.Contains(t, *ack.ImageRef, "ABC123_")
		f.objects.AssertExpectations(t)
	})

	t.Run("Upload Failure Degrades", func(t *testing.T) {
		f := newFixture(t)
		f.objects.On("PutObject", mock.Anything, "lpr", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(minio.UploadInfo{}, errors.New("bucket unavailable"))

		ack, err := f.service.Ingest(context.Background(), Submission{HardwareID: entryMAC, Subject: "ABC123", Image: []byte("raw-bytes")})
		require.NoError(t, err)
		assert.True(t, ack.OK)
		assert.Nil(t, ack.ImageRef)

		ev, err := f.store.Event(context.Background(), ack.EventID)
		require.NoError(t, err)
		assert.Nil(t, ev.ImageRef)
	})
}

func TestIngest_StorageFailure(t *testing.T) {
	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{})
	require.NoError(t, err)

	objects := new(mocks.Client)
	objects.On("PutObject", mock.Anything, "lpr", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil).Once()
	objects.On("RemoveObjects", mock.Anything, "lpr", mock.Anything, mock.Anything).Return(nil).Once()

	writer := snapshot.NewWriter(objects, "lpr", snapshot.Config{Prefix: "snapshots"}, zap.NewNop())
	svc := NewService(store.New(gormDB), writer, lock.NewLocal(), nil, zap.NewNop())

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))
	sqlMock.ExpectRollback()

	_, err = svc.Ingest(context.Background(), Submission{HardwareID: entryMAC, Subject: "ABC123", Image: []byte("raw-bytes")})
	assert.ErrorIs(t, err, store.ErrStorageFailure)

	// The snapshot of the lost event is discarded.
	require.Len(t, objects.Removed, 1)
	assert.Contains(t, objects.Removed[0], "ABC123_")
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestParseOptionalTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2026-03-01T08:00:00Z",
		"2026-03-01T09:00:00+01:00",
		"2026-03-01T08:00:00",
		"2026-03-01 08:00:00",
		"1772352000",
		"1772352000000",
	} {
		got := parseOptionalTimestamp(in)
		if assert.NotNil(t, got, in) {
			assert.True(t, want.Equal(*got), in)
		}
	}

	assert.Nil(t, parseOptionalTimestamp(""))
	assert.Nil(t, parseOptionalTimestamp("yesterday"))
	assert.Nil(t, parseOptionalTimestamp("-5"))
}
