package db

import (
	"context"
	"time"
)

// Store is the database facade used by printbot.
type Store interface {
	Pinger
	KVStore
	LockStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// LockStore provides the primitives for a lease-based distributed lock.
type LockStore interface {
	// SetNX stores value only if key is absent. Reports whether the value was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// DelIfEqual deletes key only if it still holds value. Reports whether it was deleted.
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)
}
