// Package cache provides the two-tier content cache: a bounded in-memory LRU
// (L1) in front of a per-category disk store (L2) with age expiry and
// oldest-first size eviction.
package cache

import "github.com/nightlight-labs/lullaby/internal/logging"

var logger = logging.New("cache")
