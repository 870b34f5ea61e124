// ABOUTME: Cache store contract and the canonical cache key derivation for tool results.
// ABOUTME: Keys are order-insensitive over argument maps so equivalent calls share an entry.

// Package cache memoizes successful tool results with a per-entry TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DefaultTTL is how long a tool result stays cached unless configured otherwise.
const DefaultTTL = 900 * time.Second

// Store is a key/value store for memoized tool results. Implementations must
// be safe for concurrent use. Only successful payloads belong in the cache;
// the dispatcher enforces that.
type Store interface {
	// Get returns the cached payload for (tool, argsHash), or ok=false when
	// absent or expired.
	Get(ctx context.Context, tool, argsHash string) (payload json.RawMessage, ok bool, err error)

	// Set stores a payload under (tool, argsHash) with the given TTL.
	Set(ctx context.Context, tool, argsHash string, payload json.RawMessage, ttl time.Duration) error

	// Purge removes entries whose tool name starts with the given prefix.
	// An empty prefix purges everything. Returns the number of entries removed.
	Purge(ctx context.Context, toolPrefix string) (int, error)

	// Close releases the store's resources.
	Close() error
}

// Key derives the cache key hash for a tool call. Argument keys are sorted
// lexicographically and values JSON-encoded before hashing, so two argument
// maps that are permutations of the same pairs produce the same key. The
// sha256 digest is truncated to 16 hex characters.
func Key(tool string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(tool))
	for _, k := range keys {
		val, err := json.Marshal(args[k])
		if err != nil {
			// Unmarshalable values (channels, funcs) never arrive from JSON
			// envelopes; fall back to the fmt rendering rather than failing.
			val = []byte(fmt.Sprintf("%v", args[k]))
		}
		fmt.Fprintf(h, "|%s=%s", k, val)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
