package audit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// deviceList is one fetched device list, as normalized subjects.
type deviceList struct {
	Subjects map[string]struct{}
	Built    time.Time
	TTL      time.Duration
}

// IsExpired returns true if the list is older than its TTL.
func (l *deviceList) IsExpired() bool {
	if l.TTL == 0 {
		return true // No caching
	}
	return time.Since(l.Built) > l.TTL
}

// listCache holds device lists keyed by device id.
type listCache struct {
	mu    sync.RWMutex
	lists map[uint]*deviceList
	sf    singleflight.Group
	ttl   time.Duration
}

func newListCache(ttl time.Duration) *listCache {
	return &listCache{lists: make(map[uint]*deviceList), ttl: ttl}
}

// getOrFetch returns a fresh list for id, fetching it at most once across
// concurrent callers.
func (c *listCache) getOrFetch(ctx context.Context, id uint, key string, fetch func(context.Context) (map[string]struct{}, error)) (*deviceList, error) {
	c.mu.RLock()
	list, ok := c.lists[id]
	c.mu.RUnlock()
	if ok && !list.IsExpired() {
		return list, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		list, ok := c.lists[id]
		c.mu.RUnlock()
		if ok && !list.IsExpired() {
			return list, nil
		}

		subjects, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		fresh := &deviceList{Subjects: subjects, Built: time.Now(), TTL: c.ttl}
		if c.ttl > 0 {
			c.mu.Lock()
			c.lists[id] = fresh
			c.mu.Unlock()
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*deviceList), nil
}

func (c *listCache) invalidate(id uint) {
	c.mu.Lock()
	delete(c.lists, id)
	c.mu.Unlock()
}
