package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// tier is one category's pair of fast and persistent caches.
type tier struct {
	memory     *MemoryCache
	disk       *DiskCache
	promotions atomic.Int64
}

// Store coordinates the two cache levels for every category: write-through
// puts, L2-to-L1 promotion, age expiry and size eviction.
type Store struct {
	config Config
	tiers  map[Category]*tier
	now    func() time.Time
}

// New creates the store and its category directories. A failure here means
// the base directory is unusable and no cache operation can proceed.
func New(config Config) (*Store, error) {
	if config.BaseDir == "" {
		return nil, errors.New("cache base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	s := &Store{
		config: config,
		tiers:  make(map[Category]*tier),
		now:    config.Now,
	}

	for _, cat := range Categories() {
		disk, err := NewDiskCache(
			filepath.Join(config.BaseDir, string(cat)),
			cat,
			config.limitsFor(cat),
			config.CompressionLevel,
			config.Now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s cache: %w", cat, err)
		}
		memory := NewMemoryCache(config.MemoryEntries, config.MemoryCapacity)
		// Whatever leaves disk leaves memory too, so memory-only entries
		// are exactly the ones that failed to flush.
		disk.onRemove = memory.Delete
		s.tiers[cat] = &tier{memory: memory, disk: disk}
	}

	if removed := s.Sweep(); removed > 0 {
		logger.Info("Removed expired cache entries", "count", removed)
	}

	return s, nil
}

// Get checks the memory tier, then disk. A disk hit is promoted into memory.
// Expired entries are deleted from both tiers and reported as a miss.
func (s *Store) Get(key string, cat Category) ([]byte, bool) {
	t, ok := s.tiers[cat]
	if !ok {
		return nil, false
	}

	if data, createdAt, ok := t.memory.Get(key); ok {
		if s.expired(cat, createdAt) {
			s.Invalidate(key, cat)
			return nil, false
		}
		// Entries that never reached disk have nothing to touch.
		t.disk.Touch(key)
		return data, true
	}

	data, entry, ok := t.disk.Get(key)
	if !ok {
		return nil, false
	}

	t.promote(key, data, entry.CreatedAt)
	return data, true
}

// Peek returns a persisted entry even when it is past its age limit. It does
// not promote or delete anything.
func (s *Store) Peek(key string, cat Category) ([]byte, Entry, bool) {
	t, ok := s.tiers[cat]
	if !ok {
		return nil, Entry{}, false
	}
	return t.disk.Peek(key)
}

// Expired reports whether the persisted entry for key is past its age limit.
// Unlike Get it never deletes anything.
func (s *Store) Expired(key string, cat Category) bool {
	t, ok := s.tiers[cat]
	if !ok {
		return false
	}
	return t.disk.Expired(key)
}

// Put writes through to disk and then memory. A disk failure is logged and
// returned with a nil handle; the memory write still happens so the value
// stays usable for the rest of the process lifetime.
func (s *Store) Put(key string, cat Category, data []byte) (*Handle, error) {
	t, ok := s.tiers[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}

	createdAt := s.now()
	handle, entry, err := t.disk.Put(key, data)
	if err != nil {
		logger.Warn("Persistent cache write failed", "category", cat, "key", key, "err", err)
	} else {
		createdAt = entry.CreatedAt
	}

	if memErr := t.memory.Put(key, data, createdAt); memErr != nil && !errors.Is(memErr, ErrItemTooLarge) {
		logger.Debug("Memory cache write failed", "category", cat, "key", key, "err", memErr)
	}

	return handle, err
}

// Invalidate removes one entry from both tiers.
func (s *Store) Invalidate(key string, cat Category) {
	t, ok := s.tiers[cat]
	if !ok {
		return
	}
	t.memory.Delete(key)
	t.disk.Delete(key)
}

// Clear empties the given categories, or every category when none is given.
func (s *Store) Clear(cats ...Category) error {
	var errs []error
	for _, cat := range s.selected(cats) {
		t := s.tiers[cat]
		t.memory.Clear()
		if err := t.disk.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("%s clear: %w", cat, err))
		}
	}
	return errors.Join(errs...)
}

// Size sums persistent payload sizes for the given categories, or all.
func (s *Store) Size(cats ...Category) int64 {
	var total int64
	for _, cat := range s.selected(cats) {
		total += s.tiers[cat].disk.Size()
	}
	return total
}

// Sweep runs the expiry pass over every category.
func (s *Store) Sweep() int {
	removed := 0
	for _, cat := range Categories() {
		t := s.tiers[cat]
		removed += t.disk.Sweep()
		if maxAge := s.config.limitsFor(cat).MaxAge; maxAge > 0 {
			removed += t.memory.Prune(s.now().Add(-maxAge))
		}
	}
	return removed
}

// Entries lists the persisted entries of a category, oldest first.
func (s *Store) Entries(cat Category) []Entry {
	t, ok := s.tiers[cat]
	if !ok {
		return nil
	}
	return t.disk.Entries()
}

// Limits returns the limits in force for a category.
func (s *Store) Limits(cat Category) Limits {
	return s.config.limitsFor(cat)
}

// Stats returns per-category statistics for both tiers.
func (s *Store) Stats() []Stats {
	out := make([]Stats, 0, len(s.tiers))
	for _, cat := range Categories() {
		t := s.tiers[cat]
		out = append(out, Stats{
			Category:   cat,
			Memory:     t.memory.Stats(),
			Disk:       t.disk.Stats(),
			Promotions: t.promotions.Load(),
		})
	}
	return out
}

// Close flushes every disk index.
func (s *Store) Close() error {
	var errs []error
	for _, cat := range Categories() {
		if err := s.tiers[cat].disk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", cat, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) expired(cat Category, createdAt time.Time) bool {
	maxAge := s.config.limitsFor(cat).MaxAge
	return maxAge > 0 && s.now().Sub(createdAt) > maxAge
}

func (s *Store) selected(cats []Category) []Category {
	if len(cats) == 0 {
		return Categories()
	}
	out := make([]Category, 0, len(cats))
	for _, c := range cats {
		if _, ok := s.tiers[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// promote copies a disk hit into memory. Promotion is best effort.
func (t *tier) promote(key string, data []byte, createdAt time.Time) {
	if err := t.memory.Put(key, data, createdAt); err == nil {
		t.promotions.Add(1)
	}
}
