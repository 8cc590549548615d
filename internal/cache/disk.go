package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFileName   = "cache.index"
	payloadExt      = ".cache"
	compressMinSize = 1024

	// evictFraction is the share of the oldest entries removed per
	// size-eviction round.
	evictFraction = 0.30
)

// DiskCache implements the persistent tier for one category: payload files
// with optional zstd compression plus a gob index of entry metadata.
// Its mutex covers the whole check-evict-write sequence of Put, so writers
// to the same category never race on the byte budget.
type DiskCache struct {
	dir      string
	category Category
	limits   Limits
	now      func() time.Time

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Index for fast lookups
	index map[string]*diskCacheEntry
	size  int64
	dirty bool

	// onRemove is called with the lock held whenever an entry leaves the index.
	onRemove func(key string)

	mu    sync.Mutex
	stats CacheStats
}

// diskCacheEntry represents an entry in the disk cache index
type diskCacheEntry struct {
	Key          string
	FileName     string
	Size         int64 // Size on disk (compressed)
	OriginalSize int64 // Original size (uncompressed)
	CreatedAt    time.Time
	LastAccess   time.Time
	Hits         int64
	Compressed   bool
}

// NewDiskCache opens (creating if needed) the category directory under dir.
func NewDiskCache(dir string, category Category, limits Limits, compressionLevel int, now func() time.Time) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if now == nil {
		now = time.Now
	}

	dc := &DiskCache{
		dir:      dir,
		category: category,
		limits:   limits,
		now:      now,
		index:    make(map[string]*diskCacheEntry),
		stats: CacheStats{
			Capacity: limits.MaxBytes,
		},
	}

	if compressionLevel > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// The decoder is always available so a cache written with compression
	// stays readable after compression is turned off.
	var err error
	dc.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := dc.loadIndex(); err != nil {
		logger.Warn("Discarding unreadable cache index", "category", category, "err", err)
		dc.index = make(map[string]*diskCacheEntry)
	}
	dc.reconcile()

	return dc, nil
}

// Get reads a live entry. Expired entries are deleted and reported as a
// miss; unreadable entries are dropped and reported as a miss.
func (dc *DiskCache) Get(key string) ([]byte, Entry, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, Entry{}, false
	}

	if dc.expired(entry) {
		dc.removeLocked(entry)
		dc.stats.Expired++
		dc.stats.Misses++
		dc.saveIndexLocked()
		return nil, Entry{}, false
	}

	data, err := dc.readLocked(entry)
	if err != nil {
		logger.Debug("Dropping unreadable cache entry", "category", dc.category, "key", key, "err", err)
		dc.removeLocked(entry)
		dc.stats.Misses++
		dc.saveIndexLocked()
		return nil, Entry{}, false
	}

	dc.touchLocked(entry)
	dc.stats.Hits++
	return data, dc.toEntry(entry), true
}

// Peek reads an entry regardless of age without touching access metadata.
func (dc *DiskCache) Peek(key string) ([]byte, Entry, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		return nil, Entry{}, false
	}
	data, err := dc.readLocked(entry)
	if err != nil {
		return nil, Entry{}, false
	}
	return data, dc.toEntry(entry), true
}

// Expired reports whether the indexed entry for key is past its age limit.
// It reads only the index.
func (dc *DiskCache) Expired(key string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	return ok && dc.expired(entry)
}

// Touch records a read served by the memory tier. It reports false when no
// live entry exists on disk.
func (dc *DiskCache) Touch(key string) (Entry, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		return Entry{}, false
	}
	if dc.expired(entry) {
		dc.removeLocked(entry)
		dc.stats.Expired++
		dc.saveIndexLocked()
		return Entry{}, false
	}
	// The read itself was counted by the memory tier.
	dc.touchLocked(entry)
	return dc.toEntry(entry), true
}

// Put writes value, evicting first when the write would break the budget.
func (dc *DiskCache) Put(key string, value []byte) (*Handle, Entry, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	originalSize := int64(len(value))
	dataToWrite, compressed := dc.encode(value)
	diskSize := int64(len(dataToWrite))

	// The old value goes even when the new one is rejected, so no tier can
	// keep serving it. Replacing a key must not double count it either.
	if existing, ok := dc.index[key]; ok {
		dc.removeLocked(existing)
	}

	if dc.limits.MaxBytes > 0 && diskSize > dc.limits.MaxBytes {
		dc.saveIndexLocked()
		return nil, Entry{}, ErrItemTooLarge
	}

	if dc.limits.MaxBytes > 0 && dc.size+diskSize > dc.limits.MaxBytes {
		dc.evictLocked(diskSize)
	}

	fileName := fileNameFor(key)
	path := filepath.Join(dc.dir, fileName)
	if err := writeFileAtomic(path, dataToWrite); err != nil {
		dc.saveIndexLocked()
		return nil, Entry{}, fmt.Errorf("failed to write cache file: %w", err)
	}

	now := dc.now()
	entry := &diskCacheEntry{
		Key:          key,
		FileName:     fileName,
		Size:         diskSize,
		OriginalSize: originalSize,
		CreatedAt:    now,
		LastAccess:   now,
		Compressed:   compressed,
	}
	dc.index[key] = entry
	dc.size += diskSize
	dc.dirty = true
	dc.saveIndexLocked()

	return &Handle{Key: key, Category: dc.category, Path: path, Size: diskSize}, dc.toEntry(entry), nil
}

// Delete removes an entry from the disk cache.
func (dc *DiskCache) Delete(key string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if entry, ok := dc.index[key]; ok {
		dc.removeLocked(entry)
		dc.saveIndexLocked()
	}
}

// Clear removes every entry and payload file of the category.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, entry := range dc.index {
		_ = os.Remove(filepath.Join(dc.dir, entry.FileName))
	}
	dc.index = make(map[string]*diskCacheEntry)
	dc.size = 0
	dc.dirty = true

	return dc.saveIndex()
}

// Sweep removes expired entries and returns how many were removed.
func (dc *DiskCache) Sweep() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := dc.expireLocked()
	if removed > 0 {
		dc.saveIndexLocked()
	}
	return removed
}

// Size returns the bytes used by payload files, found by walking the
// category directory.
func (dc *DiskCache) Size() int64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	return diskUsage(dc.dir)
}

// IndexedSize returns the byte total tracked by the index.
func (dc *DiskCache) IndexedSize() int64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.size
}

// Entries returns a snapshot of the index ordered by creation time.
func (dc *DiskCache) Entries() []Entry {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entries := make([]Entry, 0, len(dc.index))
	for _, e := range dc.index {
		entries = append(entries, dc.toEntry(e))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() CacheStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Size = dc.size
	stats.ItemCount = int64(len(dc.index))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Close flushes the index.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	dc.decoder.Close()
	return dc.saveIndex()
}

// Private helper methods

func (dc *DiskCache) expired(e *diskCacheEntry) bool {
	return dc.limits.MaxAge > 0 && dc.now().Sub(e.CreatedAt) > dc.limits.MaxAge
}

// evictLocked makes room for incoming bytes: expired entries go first,
// then the oldest 30% by creation time, repeated until the budget holds.
func (dc *DiskCache) evictLocked(incoming int64) int {
	evicted := dc.expireLocked()

	for dc.size+incoming > dc.limits.MaxBytes && len(dc.index) > 0 {
		entries := make([]*diskCacheEntry, 0, len(dc.index))
		for _, e := range dc.index {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		})

		n := int(math.Ceil(float64(len(entries)) * evictFraction))
		if n < 1 {
			n = 1
		}
		for _, e := range entries[:n] {
			dc.removeLocked(e)
			dc.stats.Evictions++
			evicted++
		}
		dc.stats.LastEvict = dc.now()
	}

	if evicted > 0 {
		logger.Debug("Evicted cache entries", "category", dc.category, "count", evicted, "size", dc.size)
	}
	return evicted
}

func (dc *DiskCache) expireLocked() int {
	if dc.limits.MaxAge <= 0 {
		return 0
	}
	removed := 0
	for _, e := range dc.index {
		if dc.expired(e) {
			dc.removeLocked(e)
			dc.stats.Expired++
			removed++
		}
	}
	return removed
}

func (dc *DiskCache) removeLocked(e *diskCacheEntry) {
	if err := os.Remove(filepath.Join(dc.dir, e.FileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to remove cache file", "category", dc.category, "file", e.FileName, "err", err)
	}
	delete(dc.index, e.Key)
	dc.size -= e.Size
	dc.dirty = true
	if dc.onRemove != nil {
		dc.onRemove(e.Key)
	}
}

func (dc *DiskCache) touchLocked(e *diskCacheEntry) {
	e.LastAccess = dc.now()
	e.Hits++
	dc.stats.LastAccess = e.LastAccess
	dc.dirty = true
}

func (dc *DiskCache) readLocked(e *diskCacheEntry) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dc.dir, e.FileName))
	if err != nil {
		return nil, err
	}
	if e.Compressed {
		data, err = dc.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
		}
	}
	return data, nil
}

func (dc *DiskCache) encode(value []byte) ([]byte, bool) {
	if dc.encoder == nil || len(value) <= compressMinSize {
		return value, false
	}
	compressed := dc.encoder.EncodeAll(value, nil)
	// Only use compression if it actually reduces size
	if len(compressed) < len(value) {
		return compressed, true
	}
	return value, false
}

func (dc *DiskCache) toEntry(e *diskCacheEntry) Entry {
	out := Entry{
		Key:            e.Key,
		Category:       dc.category,
		Size:           e.Size,
		OriginalSize:   e.OriginalSize,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccess,
		AccessCount:    e.Hits,
	}
	if dc.limits.MaxAge > 0 {
		exp := e.CreatedAt.Add(dc.limits.MaxAge)
		out.ExpiresAt = &exp
	}
	return out
}

// reconcile drops index entries whose payload vanished and payload files
// the index does not know about.
func (dc *DiskCache) reconcile() {
	known := make(map[string]bool, len(dc.index))
	for key, e := range dc.index {
		info, err := os.Stat(filepath.Join(dc.dir, e.FileName))
		if err != nil {
			delete(dc.index, key)
			dc.dirty = true
			continue
		}
		e.Size = info.Size()
		known[e.FileName] = true
	}

	files, err := os.ReadDir(dc.dir)
	if err == nil {
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || known[name] {
				continue
			}
			if strings.HasSuffix(name, payloadExt) || strings.HasSuffix(name, ".tmp") {
				_ = os.Remove(filepath.Join(dc.dir, name))
			}
		}
	}

	dc.size = 0
	for _, e := range dc.index {
		dc.size += e.Size
	}
	if dc.dirty {
		dc.saveIndexLocked()
	}
}

func (dc *DiskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(dc.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&dc.index)
}

// saveIndexLocked persists the index, logging failures.
func (dc *DiskCache) saveIndexLocked() {
	if err := dc.saveIndex(); err != nil {
		logger.Warn("Failed to save cache index", "category", dc.category, "err", err)
	}
}

func (dc *DiskCache) saveIndex() error {
	if !dc.dirty {
		return nil
	}
	indexPath := filepath.Join(dc.dir, indexFileName)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(dc.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	if err := os.Rename(tempPath, indexPath); err != nil {
		return err
	}
	dc.dirty = false
	return nil
}

func fileNameFor(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + payloadExt
}

func writeFileAtomic(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

// diskUsage sums payload file sizes below dir, recursively.
func diskUsage(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), payloadExt) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
