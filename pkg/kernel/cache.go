package kernel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

var cacheBucket = []byte("snapshots")

// cacheEntry is what Cache persists per group: a Snapshot plus the id of
// the last event it reflects, so a loader can tell how much of the ledger
// still needs replaying on top of it.
type cacheEntry struct {
	LastEventID contracts.EventID `json:"last_event_id"`
	Snapshot    Snapshot          `json:"snapshot"`
}

// Cache is an optional, rebuildable acceleration structure for warm
// restarts: a bbolt-backed store of each group's last-known projection, so
// Daemon.restoreGroup can replay only the ledger tail instead of the full
// history every time the process restarts. It is never authoritative — a
// missing or stale entry just costs a full replay, never a wrong answer,
// preserving the "recomputable from the ledger alone" invariant.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens (creating if needed) the bbolt file at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create kernel cache directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kernel cache: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init kernel cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Load returns groupID's cached snapshot and the event id it reflects, or
// ok=false if nothing is cached (or the entry is corrupt, treated the same
// as absent since the caller always has the ledger to fall back on).
func (c *Cache) Load(groupID string) (Snapshot, contracts.EventID, bool) {
	var entry cacheEntry
	found := false
	_ = c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(cacheBucket).Get([]byte(groupID))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil // corrupt entry: treat as a cache miss
		}
		found = true
		return nil
	})
	return entry.Snapshot, entry.LastEventID, found
}

// Save writes groupID's current projection as its new cache entry,
// overwriting whatever was there.
func (c *Cache) Save(groupID string, lastEventID contracts.EventID, snap Snapshot) error {
	raw, err := json.Marshal(cacheEntry{LastEventID: lastEventID, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("marshal kernel cache entry: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(groupID), raw)
	})
}

// Close releases the underlying bbolt file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// RebuildWithCache replays events into groupID's projection, using cache as
// a warm-start shortcut when its entry's LastEventID matches an event
// actually present in events (i.e. the cache is not stale relative to a
// compaction or a ledger that was rolled back and replayed differently).
// It always leaves cache holding the freshly rebuilt projection's snapshot.
func (k *Kernel) RebuildWithCache(cache *Cache, groupID string, events []contracts.Event) *GroupView {
	if cache == nil {
		return k.rebuildAndCache(nil, groupID, events)
	}

	snap, lastID, ok := cache.Load(groupID)
	if !ok || lastID == contracts.ZeroEventID {
		return k.rebuildAndCache(cache, groupID, events)
	}

	for i, evt := range events {
		if evt.ID == lastID {
			view := RestoreSnapshot(groupID, snap)
			view.LastEventID = lastID
			for _, rest := range events[i+1:] {
				applyTo(view, rest)
			}
			k.mu.Lock()
			k.groups[groupID] = view
			k.mu.Unlock()
			k.saveCache(cache, groupID)
			return view
		}
	}
	// cached entry doesn't align with this ledger; fall back to a full replay.
	return k.rebuildAndCache(cache, groupID, events)
}

func (k *Kernel) rebuildAndCache(cache *Cache, groupID string, events []contracts.Event) *GroupView {
	view := k.Rebuild(groupID, events)
	k.saveCache(cache, groupID)
	return view
}

func (k *Kernel) saveCache(cache *Cache, groupID string) {
	if cache == nil {
		return
	}
	if snap, ok := k.ExportSnapshot(groupID); ok {
		view := k.Group(groupID)
		if view != nil {
			_ = cache.Save(groupID, view.LastEventID, snap)
		}
	}
}
