package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/templui/healthsync/internal/model"
)

// Snapshot is a serializable copy of the settled cache, used to warm-start a
// session before the first refresh completes.
type Snapshot struct {
	UserID  string          `json:"user_id"`
	TakenAt time.Time       `json:"taken_at"`
	Entries []SnapshotEntry `json:"entries"`
}

type SnapshotEntry struct {
	Type    model.ResourceType `json:"type"`
	Version int64              `json:"version"`
	Payload json.RawMessage    `json:"payload"`
}

// Snapshot captures the cache. Entries with a mutation in flight are captured
// as they were before the mutation.
func (c *Coordinator) Snapshot() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{
		UserID:  c.userID,
		TakenAt: time.Now().UTC(),
		Entries: make([]SnapshotEntry, 0, len(c.cache)),
	}

	for id, e := range c.cache {
		if p, ok := c.inflight[id]; ok {
			if p.base == nil {
				continue
			}
			e = p.base
		}

		payload, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", id, err)
		}
		snap.Entries = append(snap.Entries, SnapshotEntry{
			Type:    e.Value.Kind(),
			Version: e.Version,
			Payload: payload,
		})
	}

	return snap, nil
}

// Restore loads snapshot entries that are newer than what the cache holds.
// It returns the number of entries installed.
func (c *Coordinator) Restore(snap *Snapshot) (int, error) {
	if snap == nil {
		return 0, nil
	}
	if snap.UserID != c.userID {
		return 0, model.ErrPermission
	}

	values := make([]model.Resource, 0, len(snap.Entries))
	for _, entry := range snap.Entries {
		r, err := model.NewResource(entry.Type)
		if err != nil {
			return 0, err
		}
		if err := json.Unmarshal(entry.Payload, r); err != nil {
			return 0, fmt.Errorf("failed to decode snapshot entry: %w", err)
		}
		if r.Owner() != c.userID {
			return 0, model.ErrPermission
		}
		values = append(values, r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	installed := 0
	for i, r := range values {
		id := r.ResourceID()
		version := snap.Entries[i].Version

		if _, ok := c.inflight[id]; ok {
			continue
		}
		if tomb, ok := c.tombstones[id]; ok && version <= tomb {
			continue
		}
		if e, ok := c.cache[id]; ok && e.Version >= version {
			continue
		}

		c.cache[id] = &model.CacheEntry{Value: r, Version: version}
		installed++
	}

	return installed, nil
}
