package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"lpr-manager/core/storage"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ErrPersist marks a snapshot that could not be stored. Callers keep the event
// and drop the image reference.
var ErrPersist = errors.New("snapshot persist failed")

// Stored references the objects written for one snapshot.
type Stored struct {
	ImageRef string
	// ThumbRef is empty when thumbnails are disabled or the image did not decode.
	ThumbRef string
}

// Writer stores event snapshots in the object store.
type Writer struct {
	client storage.Client
	bucket string
	cfg    Config
	logger *zap.Logger
}

// NewWriter creates a writer. A nil client makes every Save fail with ErrPersist.
func NewWriter(client storage.Client, bucket string, cfg Config, logger *zap.Logger) *Writer {
	if cfg.Prefix == "" {
		cfg.Prefix = "snapshots"
	}
	return &Writer{client: client, bucket: bucket, cfg: cfg, logger: logger}
}

// Prefix returns the key prefix snapshots are written under.
func (w *Writer) Prefix() string {
	return w.cfg.Prefix
}

// ObjectName builds the collision resistant key for a snapshot of subject taken at at.
// Layout: {prefix}/YYYY/MM/DD/{SUBJECT}_{YYYYMMDDTHHMMSSZ}_{token}.{ext}
func ObjectName(prefix, subject string, at time.Time, token, ext string) string {
	at = at.UTC()
	name := fmt.Sprintf("%s_%s_%s.%s", subject, at.Format("20060102T150405Z"), token, ext)
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), name)
}

// ThumbName derives the thumbnail key from an image key.
func ThumbName(imageRef string) string {
	ext := path.Ext(imageRef)
	return strings.TrimSuffix(imageRef, ext) + "_thumb.jpg"
}

// Save uploads payload for subject. Upload failures wrap ErrPersist; a thumbnail
// failure is logged and leaves ThumbRef empty.
func (w *Writer) Save(ctx context.Context, subject string, at time.Time, payload []byte) (*Stored, error) {
	if w == nil || w.client == nil {
		return nil, fmt.Errorf("%w: object storage not configured", ErrPersist)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrPersist)
	}
	if w.cfg.MaxBytes > 0 && int64(len(payload)) > w.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPersist, len(payload), w.cfg.MaxBytes)
	}

	contentType := http.DetectContentType(payload)
	ext := "jpg"
	switch contentType {
	case "image/png":
		ext = "png"
	case "image/jpeg":
	default:
		ext = "bin"
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	imageRef := ObjectName(w.cfg.Prefix, subject, at, token, ext)

	if _, err := w.client.PutObject(ctx, w.bucket, imageRef, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPersist, imageRef, err)
	}

	stored := &Stored{ImageRef: imageRef}
	if w.cfg.ThumbnailWidth > 0 && ext != "bin" {
		thumbRef, err := w.saveThumbnail(ctx, imageRef, payload)
		if err != nil {
			w.logger.Warn("Snapshot thumbnail skipped", zap.String("object", imageRef), zap.Error(err))
		} else {
			stored.ThumbRef = thumbRef
		}
	}
	return stored, nil
}

func (w *Writer) saveThumbnail(ctx context.Context, imageRef string, payload []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	thumb := imaging.Resize(img, w.cfg.ThumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	thumbRef := ThumbName(imageRef)
	if _, err := w.client.PutObject(ctx, w.bucket, thumbRef, bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "image/jpeg",
	}); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return thumbRef, nil
}

// Open streams a stored snapshot.
func (w *Writer) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if w == nil || w.client == nil {
		return nil, errors.New("object storage not configured")
	}
	return w.client.GetObject(ctx, w.bucket, ref, minio.GetObjectOptions{})
}

// Remove deletes objects in one batch request.
func (w *Writer) Remove(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	if w == nil || w.client == nil {
		return errors.New("object storage not configured")
	}

	objectsCh := make(chan minio.ObjectInfo, len(refs))
	for _, ref := range refs {
		objectsCh <- minio.ObjectInfo{Key: ref}
	}
	close(objectsCh)

	var failed []string
	for rerr := range w.client.RemoveObjects(ctx, w.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", rerr.ObjectName, rerr.Err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch delete had %d errors: %v", len(failed), failed)
	}
	return nil
}

// Keys lists the object keys under the snapshot prefix last modified before
// modifiedBefore. A zero time lists every key.
func (w *Writer) Keys(ctx context.Context, modifiedBefore time.Time) ([]string, error) {
	if w == nil || w.client == nil {
		return nil, errors.New("object storage not configured")
	}

	var keys []string
	opts := minio.ListObjectsOptions{Prefix: w.cfg.Prefix + "/", Recursive: true}
	for obj := range w.client.ListObjects(ctx, w.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		if !modifiedBefore.IsZero() && !obj.LastModified.Before(modifiedBefore) {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
