package store

import (
	"encoding/json"
	"os"

	"cloudgather/internal/domain"
)

// LoadSyncCache reads cache/<id>.json as a sync-tree cache, returning an
// empty cache if the file does not exist yet.
func (s *Store) LoadSyncCache(id string) (*domain.SyncCache, error) {
	b, err := os.ReadFile(s.cachePath(id))
	if os.IsNotExist(err) {
		return &domain.SyncCache{TaskID: id, Entries: map[string]*domain.SyncCacheEntry{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.SyncCache
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.Entries == nil {
		c.Entries = map[string]*domain.SyncCacheEntry{}
	}
	return &c, nil
}

// SaveSyncCache writes the sync-tree cache via write-temp-then-rename so a
// crash mid-write never leaves a truncated cache file behind.
func (s *Store) SaveSyncCache(c *domain.SyncCache) error {
	return writeThenRename(s.cachePath(c.TaskID), c)
}

// LoadStrmCache reads cache/<id>.json as an STRM-tree cache.
func (s *Store) LoadStrmCache(id string) (*domain.StrmCache, error) {
	b, err := os.ReadFile(s.cachePath(id))
	if os.IsNotExist(err) {
		return &domain.StrmCache{TaskID: id, Leaves: map[string]*domain.StrmLeaf{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.StrmCache
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.Leaves == nil {
		c.Leaves = map[string]*domain.StrmLeaf{}
	}
	return &c, nil
}

// SaveStrmCache writes the STRM-tree cache via write-then-rename.
func (s *Store) SaveStrmCache(c *domain.StrmCache) error {
	return writeThenRename(s.cachePath(c.TaskID), c)
}
