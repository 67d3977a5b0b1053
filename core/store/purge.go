package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// PurgeBatch is the result of deleting one batch of events.
type PurgeBatch struct {
	// Deleted is the number of event rows removed.
	Deleted int
	// Objects lists the snapshot and thumbnail keys the removed rows referenced.
	Objects []string
}

// CountEventsBefore counts the events a purge up to before would remove.
func (s *Store) CountEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&AccessEvent{}).Where("occurred_at < ?", before.UTC()).Count(&n).Error; err != nil {
		return 0, fail("count events", err)
	}
	return n, nil
}

// PurgeEventsBefore deletes up to limit events older than before in one
// transaction and returns the object keys they referenced. Sessions keep their
// times but lose the reference to purged events. Objects are deleted by the
// caller after commit, so a crash in between leaves only unreferenced objects.
func (s *Store) PurgeEventsBefore(ctx context.Context, before time.Time, limit int) (PurgeBatch, error) {
	if limit <= 0 {
		limit = 500
	}

	var batch PurgeBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []AccessEvent
		if err := tx.Select("id", "image_ref", "thumb_ref").
			Where("occurred_at < ?", before.UTC()).
			Order("id").Limit(limit).
			Find(&events).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
			if e.ImageRef != nil && *e.ImageRef != "" {
				batch.Objects = append(batch.Objects, *e.ImageRef)
			}
			if e.ThumbRef != nil && *e.ThumbRef != "" {
				batch.Objects = append(batch.Objects, *e.ThumbRef)
			}
		}

		if err := tx.Model(&PresenceSession{}).Where("entry_event_id IN ?", ids).
			Update("entry_event_id", gorm.Expr("NULL")).Error; err != nil {
			return err
		}
		if err := tx.Model(&PresenceSession{}).Where("exit_event_id IN ?", ids).
			Update("exit_event_id", gorm.Expr("NULL")).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", ids).Delete(&AccessEvent{}).Error; err != nil {
			return err
		}
		batch.Deleted = len(ids)
		return nil
	})
	if err != nil {
		return PurgeBatch{}, fail("purge events", err)
	}
	return batch, nil
}

// ReferencedObjects returns which of keys are still referenced by an event.
func (s *Store) ReferencedObjects(ctx context.Context, keys []string) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	if len(keys) == 0 {
		return refs, nil
	}

	var events []AccessEvent
	err := s.db.WithContext(ctx).Select("image_ref", "thumb_ref").
		Where("image_ref IN ? OR thumb_ref IN ?", keys, keys).
		Find(&events).Error
	if err != nil {
		return nil, fail("load object references", err)
	}
	for _, e := range events {
		if e.ImageRef != nil {
			refs[*e.ImageRef] = struct{}{}
		}
		if e.ThumbRef != nil {
			refs[*e.ThumbRef] = struct{}{}
		}
	}
	return refs, nil
}
