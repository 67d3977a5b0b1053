package snapshot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"lpr-manager/core/storage/mocks"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pngPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		img.Set(x, 10, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("X", -3*3600))
	name := ObjectName("snapshots", "ABC123", at, "deadbeef", "jpg")
	assert.Equal(t, "snapshots/2026/02/03/ABC123_20260203T070506Z_deadbeef.jpg", name)
	assert.Equal(t, "snapshots/2026/02/03/ABC123_20260203T070506Z_deadbeef_thumb.jpg", ThumbName(name))
}

func TestSave(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	t.Run("Image And Thumbnail", func(t *testing.T) {
		client := new(mocks.Client)
		w := NewWriter(client, "lpr", Config{Prefix: "snapshots", ThumbnailWidth: 16}, zap.NewNop())

		client.On("PutObject", mock.Anything, "lpr", mock.MatchedBy(func(k string) bool {
			return strings.HasPrefix(k, "snapshots/2026/02/03/ABC123_") && strings.HasSuffix(k, ".png")
		}), mock.Anything, mock.Anything, mock.Anything).Return(minio.UploadInfo{}, nil).Once()
		client.On("PutObject", mock.Anything, "lpr", mock.MatchedBy(func(k string) bool {
			return strings.HasSuffix(k, "_thumb.jpg")
		}), mock.Anything, mock.Anything, mock.Anything).Return(minio.UploadInfo{}, nil).Once()

		stored, err := w.Save(context.Background(), "ABC123", at, pngPayload(t))
		require.NoError(t, err)
		assert.Equal(t, ThumbName(stored.ImageRef), stored.ThumbRef)
		client.AssertExpectations(t)
	})

	t.Run("Unique Names", func(t *testing.T) {
		client := new(mocks.Client)
		w := NewWriter(client, "lpr", Config{Prefix: "snapshots"}, zap.NewNop())
		client.On("PutObject", mock.Anything, "lpr", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(minio.UploadInfo{}, nil)

		a, err := w.Save(context.Background(), "ABC123", at, pngPayload(t))
		require.NoError(t, err)
		b, err := w.Save(context.Background(), "ABC123", at, pngPayload(t))
		require.NoError(t, err)
		assert.NotEqual(t, a.ImageRef, b.ImageRef)
		assert.Empty(t, a.ThumbRef)
	})

	t.Run("Upload Failure", func(t *testing.T) {
		client := new(mocks.Client)
		w := NewWriter(client, "lpr", Config{}, zap.NewNop())
		client.On("PutObject", mock.Anything, "lpr", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(minio.UploadInfo{}, errors.New("connection refused"))

		_, err := w.Save(context.Background(), "ABC123", at, pngPayload(t))
		assert.ErrorIs(t, err, ErrPersist)
	})

	t.Run("Undecodable Image Keeps Snapshot", func(t *testing.T) {
		client := new(mocks.Client)
		w := NewWriter(client, "lpr", Config{ThumbnailWidth: 16}, zap.NewNop())
		client.On("PutObject", mock.Anything, "lpr", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(minio.UploadInfo{}, nil).Once()

		// JPEG magic followed by garbage.
		payload := append([]byte{0xFF, 0xD8, 0xFF}, bytes.Repeat([]byte{0x01}, 64)...)
		stored, err := w.Save(context.Background(), "ABC123", at, payload)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(stored.ImageRef, ".jpg"))
		assert.Empty(t, stored.ThumbRef)
		client.AssertExpectations(t)
	})

	t.Run("No Storage", func(t *testing.T) {
		w := NewWriter(nil, "", Config{}, zap.NewNop())
		_, err := w.Save(context.Background(), "ABC123", at, []byte("x"))
		assert.ErrorIs(t, err, ErrPersist)
	})

	t.Run("Too Large", func(t *testing.T) {
		w := NewWriter(new(mocks.Client), "lpr", Config{MaxBytes: 4}, zap.NewNop())
		_, err := w.Save(context.Background(), "ABC123", at, []byte("12345"))
		assert.ErrorIs(t, err, ErrPersist)
	})
}

func TestRemoveAndKeys(t *testing.T) {
	client := new(mocks.Client)
	w := NewWriter(client, "lpr", Config{Prefix: "snapshots"}, zap.NewNop())

	client.On("RemoveObjects", mock.Anything, "lpr", []string{"snapshots/a.jpg", "snapshots/b.jpg"}, mock.Anything).Return(nil)
	require.NoError(t, w.Remove(context.Background(), []string{"snapshots/a.jpg", "snapshots/b.jpg"}))
	assert.Equal(t, []string{"snapshots/a.jpg", "snapshots/b.jpg"}, client.Removed)

	now := time.Now()
	client.On("ListObjects", mock.Anything, "lpr", minio.ListObjectsOptions{Prefix: "snapshots/", Recursive: true}).
		Return(func(context.Context, string, minio.ListObjectsOptions) <-chan minio.ObjectInfo {
			ch := make(chan minio.ObjectInfo, 2)
			ch <- minio.ObjectInfo{Key: "snapshots/2026/01/01/A_x.jpg", LastModified: now.Add(-time.Hour)}
			ch <- minio.ObjectInfo{Key: "snapshots/2026/01/01/B_x.jpg", LastModified: now}
			close(ch)
			return ch
		})

	keys, err := w.Keys(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = w.Keys(context.Background(), now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/2026/01/01/A_x.jpg"}, keys)
}
