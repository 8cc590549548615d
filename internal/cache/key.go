package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// keyVersion is bumped whenever the canonical field layout changes.
const keyVersion = "v1"

// StoryKey derives the cache key for a generated story. Theme, character and
// length compare case-insensitively.
func StoryKey(theme, character, length string, childAge int) string {
	return deriveKey(CategoryStory,
		normalize(theme),
		normalize(character),
		normalize(length),
		strconv.Itoa(childAge),
	)
}

// SpeechKey derives the cache key for a synthesized clip. The text is kept
// verbatim apart from surrounding whitespace since casing and punctuation
// change the audio.
func SpeechKey(text, voice string, rate float64) string {
	return deriveKey(CategorySpeech,
		TextHash(strings.TrimSpace(text)),
		normalize(voice),
		strconv.FormatFloat(rate, 'f', 2, 64),
	)
}

// TextHash returns a stable 64-bit hash of text in hex.
func TextHash(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

func deriveKey(cat Category, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(keyVersion))
	h.Write([]byte{'|'})
	h.Write([]byte(cat))
	// Length prefixes keep ("a|b", "c") and ("a", "b|c") apart.
	for _, f := range fields {
		h.Write([]byte{'|'})
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
