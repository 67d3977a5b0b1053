package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"lpr-manager/core/database"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// setupMockDB creates a mock GORM DB for failure paths.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}
	return gormDB, mock
}

func strPtr(s string) *string { return &s }

func TestCreateDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("Defaults And Normalization", func(t *testing.T) {
		d := &Device{Name: "Gate North", Address: "10.0.0.5", HardwareID: strPtr(" AA-BB-CC-00-11-22 "), Role: RoleEntry}
		require.NoError(t, s.CreateDevice(ctx, d))
		assert.NotZero(t, d.ID)
		assert.Equal(t, AuthDigest, d.AuthScheme)
		assert.Equal(t, "aa:bb:cc:00:11:22", *d.HardwareID)

		found, err := s.DeviceByHardwareID(ctx, "AA:BB:CC:00:11:22")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, d.ID, found.ID)
	})

	t.Run("Invalid Role", func(t *testing.T) {
		err := s.CreateDevice(ctx, &Device{Name: "Gate", Address: "10.0.0.6", Role: "Entrada Principal"})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrStorageFailure)
	})

	t.Run("Duplicate Hardware ID", func(t *testing.T) {
		err := s.CreateDevice(ctx, &Device{Name: "Clone", Address: "10.0.0.7", HardwareID: strPtr("aa:bb:cc:00:11:22")})
		assert.ErrorIs(t, err, ErrStorageFailure)
	})

	t.Run("Devices Without Hardware ID Coexist", func(t *testing.T) {
		require.NoError(t, s.CreateDevice(ctx, &Device{Name: "A", Address: "10.0.1.1"}))
		require.NoError(t, s.CreateDevice(ctx, &Device{Name: "B", Address: "10.0.1.2", HardwareID: strPtr("  ")}))
	})

	t.Run("Unknown Hardware ID", func(t *testing.T) {
		found, err := s.DeviceByHardwareID(ctx, "ff:ff:ff:ff:ff:ff")
		assert.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestDevicesByIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := &Device{Name: "A", Address: "a"}
	b := &Device{Name: "B", Address: "b"}
	require.NoError(t, s.CreateDevice(ctx, a))
	require.NoError(t, s.CreateDevice(ctx, b))

	all, err := s.DevicesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := s.DevicesByIDs(ctx, []uint{b.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "B", one[0].Name)

	_, err = s.DevicesByIDs(ctx, []uint{a.ID, 999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindOrCreateEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry, created, err := s.FindOrCreateEntry(ctx, "XYZ123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ClassDeny, entry.Classification)

	again, created, err := s.FindOrCreateEntry(ctx, "XYZ123")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, entry.ID, again.ID)

	var count int64
	s.DB().Model(&AccessListEntry{}).Where("subject = ?", "XYZ123").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAllowedSubjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for subject, class := range map[string]Classification{
		"CCC333": ClassAllow,
		"AAA111": ClassAllow,
		"BBB222": ClassDeny,
		"DDD444": ClassAuxiliary,
	} {
		require.NoError(t, s.DB().Create(&AccessListEntry{Subject: subject, Classification: class}).Error)
	}

	subjects, err := s.AllowedSubjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA111", "CCC333"}, subjects)

	aux, err := s.Entries(ctx, ClassAuxiliary)
	require.NoError(t, err)
	require.Len(t, aux, 1)
	assert.Equal(t, "DDD444", aux[0].Subject)
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	open, err := s.OpenSession(ctx, "ABC123")
	require.NoError(t, err)
	assert.Nil(t, open)

	sess, err := s.StartSession(ctx, "ABC123", now, 1)
	require.NoError(t, err)
	assert.True(t, sess.IsOpen())

	_, err = s.StartSession(ctx, "ABC123", now, 2)
	assert.ErrorIs(t, err, ErrStorageFailure, "a second open session must violate the unique index")

	require.NoError(t, s.EndSession(ctx, sess, now.Add(time.Minute), 3))
	assert.False(t, sess.IsOpen())

	open, err = s.OpenSession(ctx, "ABC123")
	require.NoError(t, err)
	assert.Nil(t, open)

	_, err = s.StartSession(ctx, "ABC123", now.Add(2*time.Minute), 4)
	require.NoError(t, err)

	all, err := s.Sessions(ctx, "ABC123")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEventsAndAnnotate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, subject := range []string{"AAA111", "BBB222", "AAA111"} {
		require.NoError(t, s.CreateEvent(ctx, &AccessEvent{
			Subject:    subject,
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
			Decision:   DecisionDenied,
		}))
	}

	events, err := s.Events(ctx, EventFilter{Subject: "AAA111"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].OccurredAt.After(events[1].OccurredAt))

	ranged, err := s.Events(ctx, EventFilter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "BBB222", ranged[0].Subject)

	annotated, err := s.Annotate(ctx, ranged[0].ID, "tailgating")
	require.NoError(t, err)
	assert.Equal(t, "tailgating", *annotated.Annotation)

	_, err = s.Annotate(ctx, 9999, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeEventsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	entryEvt := &AccessEvent{Subject: "AAA111", OccurredAt: old, Decision: DecisionGranted, ImageRef: strPtr("snapshots/a.jpg"), ThumbRef: strPtr("snapshots/a_thumb.jpg")}
	exitEvt := &AccessEvent{Subject: "AAA111", OccurredAt: old.Add(time.Hour), Decision: DecisionGranted}
	keep := &AccessEvent{Subject: "AAA111", OccurredAt: recent, Decision: DecisionGranted, ImageRef: strPtr("snapshots/b.jpg")}
	for _, e := range []*AccessEvent{entryEvt, exitEvt, keep} {
		require.NoError(t, s.CreateEvent(ctx, e))
	}
	sess, err := s.StartSession(ctx, "AAA111", old, entryEvt.ID)
	require.NoError(t, err)
	require.NoError(t, s.EndSession(ctx, sess, old.Add(time.Hour), exitEvt.ID))

	n, err := s.CountEventsBefore(ctx, recent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	batch, err := s.PurgeEventsBefore(ctx, recent, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Deleted)
	assert.ElementsMatch(t, []string{"snapshots/a.jpg", "snapshots/a_thumb.jpg"}, batch.Objects)

	batch, err = s.PurgeEventsBefore(ctx, recent, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Deleted)
	assert.Empty(t, batch.Objects)

	batch, err = s.PurgeEventsBefore(ctx, recent, 10)
	require.NoError(t, err)
	assert.Zero(t, batch.Deleted)

	sessions, err := s.Sessions(ctx, "AAA111")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Nil(t, sessions[0].EntryEventID)
	assert.Nil(t, sessions[0].ExitEventID)
	assert.NotNil(t, sessions[0].ClosedAt)

	refs, err := s.ReferencedObjects(ctx, []string{"snapshots/a.jpg", "snapshots/b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"snapshots/b.jpg": {}}, refs)
}

func TestStorageFailureIsWrapped(t *testing.T) {
	db, mock := setupMockDB(t)
	s := New(db)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := s.Entry(context.Background(), "ABC123")
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassificationValid(t *testing.T) {
	assert.True(t, ClassAllow.Valid())
	assert.True(t, ClassAuxiliary.Valid())
	assert.False(t, Classification("vip").Valid())
}
