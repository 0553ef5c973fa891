package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the minimal key-value surface the orchestrator needs for
// remediation cooldown keys: claim a key once, look it up, release it.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider without storing anything. With it in
// place every cooldown lookup misses, so recoveries are never refused on
// cooldown grounds — the right behaviour when no shared store is configured.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// SetNX pretends to claim the key.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
