package access

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"lpr-manager/core/snapshot"
	"lpr-manager/core/store"

	"go.uber.org/zap"
)

var (
	// ErrInvalidFilter is returned for unusable query parameters.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrNoSnapshot is returned when an event carries no image.
	ErrNoSnapshot = errors.New("event has no snapshot")
)

const (
	purgeBatchSize = 500
	sweepChunkSize = 500
	// Objects younger than this may belong to an event still being written.
	sweepGrace = 10 * time.Minute
	maxNoteLen = 1024
)

// PurgeResult reports a bulk purge. Without confirmation only Matched is filled.
type PurgeResult struct {
	Before         time.Time `json:"before"`
	Confirmed      bool      `json:"confirmed"`
	Matched        int64     `json:"matched"`
	Deleted        int       `json:"deleted"`
	Batches        int       `json:"batches"`
	ObjectsRemoved int       `json:"objects_removed"`
	// ObjectErrors counts objects left behind; the orphan sweep collects them.
	ObjectErrors int `json:"object_errors"`
}

// SweepResult reports an orphan sweep.
type SweepResult struct {
	Confirmed bool     `json:"confirmed"`
	Scanned   int      `json:"scanned"`
	Orphans   []string `json:"orphans"`
	Removed   int      `json:"removed"`
}

// Service serves the canonical list and event history.
type Service struct {
	store     *store.Store
	snapshots *snapshot.Writer
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates an access service. snapshots may be nil.
func NewService(s *store.Store, snapshots *snapshot.Writer, logger *zap.Logger) *Service {
	return &Service{store: s, snapshots: snapshots, logger: logger, now: time.Now}
}

// Entries lists the canonical list, optionally for one classification.
func (s *Service) Entries(ctx context.Context, class string) ([]store.AccessListEntry, error) {
	c := store.Classification(strings.ToLower(strings.TrimSpace(class)))
	if c != "" && !c.Valid() {
		return nil, fmt.Errorf("%w: classification %q", ErrInvalidFilter, class)
	}
	return s.store.Entries(ctx, c)
}

// Events lists events matching f.
func (s *Service) Events(ctx context.Context, f store.EventFilter) ([]store.AccessEvent, error) {
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidFilter)
	}
	return s.store.Events(ctx, f)
}

// Event loads one event.
func (s *Service) Event(ctx context.Context, id uint) (*store.AccessEvent, error) {
	return s.store.Event(ctx, id)
}

// Annotate stores an operator note on an event.
func (s *Service) Annotate(ctx context.Context, id uint, note string) (*store.AccessEvent, error) {
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLen {
		return nil, fmt.Errorf("%w: annotation longer than %d bytes", ErrInvalidFilter, maxNoteLen)
	}
	return s.store.Annotate(ctx, id, note)
}

// Snapshot opens the image of an event.
func (s *Service) Snapshot(ctx context.Context, id uint, thumb bool) (io.ReadCloser, string, error) {
	e, err := s.store.Event(ctx, id)
	if err != nil {
		return nil, "", err
	}
	ref := e.ImageRef
	if thumb && e.ThumbRef != nil {
		ref = e.ThumbRef
	}
	if ref == nil || *ref == "" {
		return nil, "", fmt.Errorf("event %d: %w", id, ErrNoSnapshot)
	}
	rc, err := s.snapshots.Open(ctx, *ref)
	if err != nil {
		return nil, "", err
	}
	return rc, *ref, nil
}

// Purge deletes every event older than before together with its snapshots.
// Rows go first, one transaction per batch, then their objects.
func (s *Service) Purge(ctx context.Context, before time.Time, confirm bool) (*PurgeResult, error) {
	if before.IsZero() {
		return nil, fmt.Errorf("%w: before is required", ErrInvalidFilter)
	}
	if before.After(s.now()) {
		return nil, fmt.Errorf("%w: before lies in the future", ErrInvalidFilter)
	}

	matched, err := s.store.CountEventsBefore(ctx, before)
	if err != nil {
		return nil, err
	}
	res := &PurgeResult{Before: before.UTC(), Confirmed: confirm, Matched: matched}
	if !confirm {
		return res, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := s.store.PurgeEventsBefore(ctx, before, purgeBatchSize)
		if err != nil {
			return res, err
		}
		if batch.Deleted == 0 {
			break
		}
		res.Batches++
		res.Deleted += batch.Deleted

		if len(batch.Objects) == 0 {
			continue
		}
		if err := s.snapshots.Remove(ctx, batch.Objects); err != nil {
			res.ObjectErrors += len(batch.Objects)
			s.logger.Warn("Snapshot objects left behind by purge", zap.Int("objects", len(batch.Objects)), zap.Error(err))
			continue
		}
		res.ObjectsRemoved += len(batch.Objects)
	}

	s.logger.Info("Events purged",
		zap.Time("before", res.Before),
		zap.Int("deleted", res.Deleted),
		zap.Int("objects_removed", res.ObjectsRemoved),
		zap.Int("object_errors", res.ObjectErrors),
	)
	return res, nil
}

// SweepOrphans finds snapshot objects no event references and, when
// confirmed, deletes them.
func (s *Service) SweepOrphans(ctx context.Context, confirm bool) (*SweepResult, error) {
	keys, err := s.snapshots.Keys(ctx, s.now().Add(-sweepGrace))
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Confirmed: confirm, Scanned: len(keys), Orphans: []string{}}
	for start := 0; start < len(keys); start += sweepChunkSize {
		chunk := keys[start:min(start+sweepChunkSize, len(keys))]
		refs, err := s.store.ReferencedObjects(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, k := range chunk {
			if _, ok := refs[k]; !ok {
				res.Orphans = append(res.Orphans, k)
			}
		}
	}

	if !confirm || len(res.Orphans) == 0 {
		return res, nil
	}
	if err := s.snapshots.Remove(ctx, res.Orphans); err != nil {
		return res, err
	}
	res.Removed = len(res.Orphans)
	s.logger.Info("Orphaned snapshots removed", zap.Int("removed", res.Removed))
	return res, nil
}
