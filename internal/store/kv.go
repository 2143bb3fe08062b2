// Package store provides the local persistence used by the messaging core:
// a best-effort key-value store for relay preferences and credentials, and
// an in-memory event cache for deduplication and reconciliation.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arbadacarbaYK/tides/internal/config"
)

// KV is an eventually-consistent key-value store. Misses are reported via
// the ok return, never as errors; callers must treat a miss as "use defaults".
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewKV creates a KV backend from configuration
func NewKV(cfg *config.Store) (KV, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryKV(), nil
	case "redis":
		return NewRedisKV(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryKV is a process-local KV backend
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the value for key, honoring entry expiry
func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key; ttl <= 0 means no expiry
func (m *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes key
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the memory backend
func (m *MemoryKV) Close() error {
	return nil
}
