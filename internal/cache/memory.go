// ABOUTME: In-memory TTL cache implementation of the Store interface.
// ABOUTME: Default backend for single-node deployments and the test double for the dispatcher.

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   json.RawMessage
	tool      string
	expiresAt time.Time
}

// Memory is a process-local Store with lazy expiry plus a janitor sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	done    chan struct{}
	once    sync.Once

	// now is overridable in tests to avoid sleeping through TTLs.
	now func() time.Time
}

// NewMemory creates an in-memory cache and starts its janitor goroutine.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go m.janitor()
	return m
}

func entryKey(tool, argsHash string) string {
	return tool + ":" + argsHash
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, tool, argsHash string) (json.RawMessage, bool, error) {
	key := entryKey(tool, argsHash)

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; Set may have refreshed the entry.
		if cur, ok := m.entries[key]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.payload, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, tool, argsHash string, payload json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entryKey(tool, argsHash)] = &memoryEntry{
		payload:   payload,
		tool:      tool,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Purge implements Store.
func (m *Memory) Purge(_ context.Context, toolPrefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if strings.HasPrefix(entry.tool, toolPrefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Close stops the janitor. Safe to call multiple times.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// Len returns the number of live entries, for tests and debug endpoints.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// janitor sweeps expired entries once a minute so abandoned keys don't
// accumulate between reads.
func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for key, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
