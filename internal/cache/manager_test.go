package cache

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, dir string, clock *testClock, mutate func(*Config)) *Store {
	t.Helper()

	config := DefaultConfig()
	config.BaseDir = dir
	config.CompressionLevel = 0
	config.Now = clock.Now
	if mutate != nil {
		mutate(&config)
	}

	store, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create cache store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RoundTrip(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, func(c *Config) {
		c.CompressionLevel = 3
	})

	key := StoryKey("dragons", "Luna", "short", 5)
	value := bytes.Repeat([]byte("once upon a time "), 200)

	handle, err := store.Put(key, CategoryStory, value)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if handle == nil || handle.Path == "" {
		t.Fatal("expected a handle for a persisted entry")
	}
	if handle.Size >= int64(len(value)) {
		t.Errorf("expected compressed size below %d, got %d", len(value), handle.Size)
	}

	got, ok := store.Get(key, CategoryStory)
	if !ok {
		t.Fatal("Get failed: key not found")
	}
	if !bytes.Equal(got, value) {
		t.Error("retrieved value mismatch")
	}

	if _, ok := store.Get(key, CategorySpeech); ok {
		t.Error("categories must not share entries")
	}
}

func TestStore_PutIsIdempotent(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, nil)

	key := SpeechKey("Goodnight moon", "aria", 1.0)
	value := make([]byte, 512)

	for i := 0; i < 3; i++ {
		if _, err := store.Put(key, CategorySpeech, value); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	if size := store.Size(CategorySpeech); size != 512 {
		t.Errorf("Size = %d, want 512", size)
	}
	if n := len(store.Entries(CategorySpeech)); n != 1 {
		t.Errorf("Entries = %d, want 1", n)
	}
}

func TestStore_Expiry(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, func(c *Config) {
		c.Limits = map[Category]Limits{
			CategoryStory: {MaxBytes: 1 << 20, MaxAge: time.Hour},
		}
	})

	key := StoryKey("space", "Milo", "medium", 6)
	if _, err := store.Put(key, CategoryStory, []byte("story")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, ok := store.Get(key, CategoryStory); !ok {
		t.Fatal("entry expired early")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := store.Get(key, CategoryStory); ok {
		t.Fatal("expired entry was served")
	}
	if n := len(store.Entries(CategoryStory)); n != 0 {
		t.Errorf("expired entry left in index: %d entries", n)
	}
	if size := store.Size(CategoryStory); size != 0 {
		t.Errorf("expired payload left on disk: %d bytes", size)
	}
}

func TestStore_PeekServesExpired(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, func(c *Config) {
		c.DefaultLimits = Limits{MaxBytes: 1 << 20, MaxAge: time.Hour}
	})

	key := StoryKey("ocean", "Pip", "long", 4)
	_, _ = store.Put(key, CategoryStory, []byte("stale story"))
	clock.Advance(2 * time.Hour)

	data, entry, ok := store.Peek(key, CategoryStory)
	if !ok {
		t.Fatal("Peek should return expired entries")
	}
	if string(data) != "stale story" {
		t.Errorf("Peek data = %q", data)
	}
	if entry.ExpiresAt == nil || !entry.ExpiresAt.Before(clock.Now()) {
		t.Error("expected an expiry in the past")
	}
}

func TestStore_EvictionKeepsBudget(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, func(c *Config) {
		c.Limits = map[Category]Limits{
			CategorySpeech: {MaxBytes: 1000},
		}
	})

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("clip-%d", i)
		if _, err := store.Put(key, CategorySpeech, make([]byte, 200)); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
		if size := store.Size(CategorySpeech); size > 1000 {
			t.Fatalf("Size = %d after %s, budget is 1000", size, key)
		}
		clock.Advance(time.Second)
	}

	if _, ok := store.Get("clip-0", CategorySpeech); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := store.Get("clip-9", CategorySpeech); !ok {
		t.Error("newest entry should be cached")
	}

	for _, s := range store.Stats() {
		if s.Category == CategorySpeech && s.Disk.Evictions == 0 {
			t.Error("expected evictions to be counted")
		}
	}
}

func TestStore_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	key := StoryKey("forest", "Ada", "short", 3)

	first := newTestStore(t, dir, clock, nil)
	if _, err := first.Put(key, CategoryStory, []byte("persisted")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := newTestStore(t, dir, clock, nil)
	got, ok := second.Get(key, CategoryStory)
	if !ok {
		t.Fatal("entry did not survive reopen")
	}
	if string(got) != "persisted" {
		t.Errorf("got %q", got)
	}

	if _, ok := second.Get(key, CategoryStory); !ok {
		t.Fatal("second read missed")
	}

	for _, s := range second.Stats() {
		if s.Category != CategoryStory {
			continue
		}
		if s.Promotions != 1 {
			t.Errorf("Promotions = %d, want 1", s.Promotions)
		}
		if s.Memory.Hits != 1 {
			t.Errorf("memory hits = %d, want 1", s.Memory.Hits)
		}
		// The memory hit refreshes disk metadata but is not a second hit.
		if s.Disk.Hits != 1 {
			t.Errorf("disk hits = %d, want 1", s.Disk.Hits)
		}
	}

	entries := second.Entries(CategoryStory)
	if len(entries) != 1 || entries[0].AccessCount != 2 {
		t.Errorf("entries = %+v, want one entry read twice", entries)
	}
}

func TestStore_PutFailureKeepsMemoryCopy(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, func(c *Config) {
		c.Limits = map[Category]Limits{
			CategoryImage: {MaxBytes: 10},
		}
	})

	handle, err := store.Put("big", CategoryImage, make([]byte, 20))
	if !errors.Is(err, ErrItemTooLarge) {
		t.Fatalf("expected ErrItemTooLarge, got %v", err)
	}
	if handle != nil {
		t.Error("expected nil handle on failed persist")
	}

	if _, ok := store.Get("big", CategoryImage); !ok {
		t.Error("value should still be served from memory")
	}
	if size := store.Size(CategoryImage); size != 0 {
		t.Errorf("Size = %d, want 0", size)
	}
}

func TestStore_OversizedRewriteDropsOldValue(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	limits := func(c *Config) {
		c.DefaultLimits = Limits{MaxBytes: 100, MaxAge: time.Hour}
	}
	key := StoryKey("sea", "Otto", "short", 4)

	store := newTestStore(t, dir, clock, limits)
	if _, err := store.Put(key, CategoryStory, bytes.Repeat([]byte("o"), 50)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	newer := bytes.Repeat([]byte("n"), 200)
	if _, err := store.Put(key, CategoryStory, newer); !errors.Is(err, ErrItemTooLarge) {
		t.Fatalf("expected ErrItemTooLarge, got %v", err)
	}

	if _, _, ok := store.Peek(key, CategoryStory); ok {
		t.Error("old payload still persisted after the rejected rewrite")
	}
	if got, ok := store.Get(key, CategoryStory); !ok || !bytes.Equal(got, newer) {
		t.Errorf("Get = %d bytes (ok=%v), want the new value from memory", len(got), ok)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := newTestStore(t, dir, clock, limits)
	if got, ok := reopened.Get(key, CategoryStory); ok {
		t.Errorf("reopened store served %q, want a miss", got[:1])
	}
}

func TestStore_ExpiredDoesNotDelete(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, func(c *Config) {
		c.DefaultLimits = Limits{MaxBytes: 1 << 20, MaxAge: time.Hour}
	})
	key := StoryKey("hills", "Bo", "short", 6)
	if _, err := store.Put(key, CategoryStory, []byte("story")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if store.Expired(key, CategoryStory) {
		t.Error("fresh entry reported expired")
	}
	clock.Advance(2 * time.Hour)
	if !store.Expired(key, CategoryStory) {
		t.Error("old entry not reported expired")
	}
	if _, _, ok := store.Peek(key, CategoryStory); !ok {
		t.Error("Expired must not delete the entry")
	}
	if store.Expired("missing", CategoryStory) || store.Expired(key, Category("video")) {
		t.Error("unknown keys and categories are not expired")
	}
}

func TestStore_UnknownCategory(t *testing.T) {
	store := newTestStore(t, t.TempDir(), newTestClock(), nil)

	if _, err := store.Put("k", Category("video"), []byte("v")); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestStore_InvalidateAndClear(t *testing.T) {
	store := newTestStore(t, t.TempDir(), newTestClock(), nil)

	_, _ = store.Put("a", CategoryStory, []byte("a"))
	_, _ = store.Put("b", CategoryStory, []byte("b"))
	_, _ = store.Put("c", CategorySpeech, []byte("c"))

	store.Invalidate("a", CategoryStory)
	if _, ok := store.Get("a", CategoryStory); ok {
		t.Error("invalidated entry still served")
	}

	if err := store.Clear(CategoryStory); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := store.Get("b", CategoryStory); ok {
		t.Error("cleared entry still served")
	}
	if _, ok := store.Get("c", CategorySpeech); !ok {
		t.Error("Clear touched another category")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear all failed: %v", err)
	}
	if size := store.Size(); size != 0 {
		t.Errorf("Size after clear = %d", size)
	}
}

func TestStore_ConcurrentPutsStayWithinBudget(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, t.TempDir(), clock, func(c *Config) {
		c.Limits = map[Category]Limits{
			CategorySpeech: {MaxBytes: 4096},
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				key := fmt.Sprintf("clip-%d-%d", id, j)
				_, _ = store.Put(key, CategorySpeech, make([]byte, 256))
				store.Get(key, CategorySpeech)
				clock.Advance(time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	if size := store.Size(CategorySpeech); size > 4096 {
		t.Errorf("Size = %d exceeds budget", size)
	}
}

func TestKeysAreStable(t *testing.T) {
	a := StoryKey("Dragons", "Luna", "short", 5)
	b := StoryKey("  dragons ", "LUNA", "Short", 5)
	if a != b {
		t.Error("story keys should ignore case and surrounding whitespace")
	}
	if a == StoryKey("dragons", "luna", "short", 6) {
		t.Error("child age must change the key")
	}
	if StoryKey("a b", "c", "short", 5) == StoryKey("a", "b c", "short", 5) {
		t.Error("field boundaries must change the key")
	}

	s1 := SpeechKey("Goodnight.", "aria", 1)
	if s1 != SpeechKey("Goodnight.", "ARIA", 1.0) {
		t.Error("voice should compare case-insensitively")
	}
	if s1 == SpeechKey("goodnight.", "aria", 1) {
		t.Error("speech text is case-sensitive")
	}
	if s1 == SpeechKey("Goodnight.", "aria", 0.9) {
		t.Error("rate must change the key")
	}
	if s1 == a {
		t.Error("categories must not collide")
	}
}
