package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheMiss is returned when an item is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrUnknownCategory is returned for a category the store was not configured with
	ErrUnknownCategory = errors.New("unknown cache category")
)

// Category partitions the cache namespace. Each category has its own limits
// and its own subdirectory on disk.
type Category string

const (
	CategoryStory  Category = "story"
	CategorySpeech Category = "speech"
	CategoryImage  Category = "image"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryStory, CategorySpeech, CategoryImage}
}

// ParseCategory returns the category with the given name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", ErrUnknownCategory
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

// CacheLevel represents the cache tier
type CacheLevel int

const (
	// CacheLevelL1 represents the memory cache (fastest)
	CacheLevelL1 CacheLevel = iota

	// CacheLevelL2 represents the disk cache (persistent)
	CacheLevelL2
)

// String returns the string representation of the cache level
func (l CacheLevel) String() string {
	switch l {
	case CacheLevelL1:
		return "L1-Memory"
	case CacheLevelL2:
		return "L2-Disk"
	default:
		return "Unknown"
	}
}

// Limits bounds a single category of the persistent tier.
type Limits struct {
	MaxBytes int64         // byte budget; 0 disables size eviction
	MaxAge   time.Duration // entry lifetime; 0 disables expiry
}

// Entry describes a cached item.
type Entry struct {
	Key            string
	Category       Category
	Size           int64 // bytes on disk (after compression)
	OriginalSize   int64 // payload bytes
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	ExpiresAt      *time.Time
}

// Handle identifies a payload that reached the persistent tier.
type Handle struct {
	Key      string
	Category Category
	Path     string
	Size     int64
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	// Configuration
	Capacity   int64 // Maximum capacity in bytes
	MaxEntries int   // Maximum number of entries (memory tier only)

	// Current state
	Size      int64 // Current size in bytes
	ItemCount int64 // Number of items in cache

	// Performance metrics
	Hits      int64   // Number of cache hits
	Misses    int64   // Number of cache misses
	Evictions int64   // Number of evictions
	Expired   int64   // Number of entries removed for age
	HitRate   float64 // Calculated hit rate (hits / (hits + misses))

	// Timing
	LastAccess time.Time // Last access time
	LastEvict  time.Time // Last eviction time
}

// Stats aggregates the counters of both tiers for one category.
type Stats struct {
	Category   Category
	Memory     CacheStats
	Disk       CacheStats
	Promotions int64
}

// Config holds configuration for a Store.
type Config struct {
	// BaseDir holds one subdirectory per category.
	BaseDir string

	// Limits per category. Categories missing from the map use DefaultLimits.
	Limits        map[Category]Limits
	DefaultLimits Limits

	// Memory tier, per category
	MemoryEntries  int   // entry-count ceiling
	MemoryCapacity int64 // total cost ceiling in bytes

	// CompressionLevel is the zstd level (1-22); 0 disables compression.
	CompressionLevel int

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultLimits: Limits{
			MaxBytes: 500 * 1024 * 1024,   // 500MB
			MaxAge:   30 * 24 * time.Hour, // 30 days
		},
		MemoryEntries:    64,
		MemoryCapacity:   64 * 1024 * 1024, // 64MB
		CompressionLevel: 3,
	}
}

// limitsFor returns the limits configured for c.
func (c Config) limitsFor(cat Category) Limits {
	if l, ok := c.Limits[cat]; ok {
		return l
	}
	return c.DefaultLimits
}
