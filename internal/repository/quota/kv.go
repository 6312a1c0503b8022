package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/printbot/internal/db"
	"github.com/kailas-cloud/printbot/internal/domain"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
)

// store is the consumer interface for the KV quota backend (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)
}

// KVStore keeps the quota record as one JSON value in Redis/Valkey.
// Lock is a lease (SET NX EX) so several processes can share the record.
type KVStore struct {
	store      store
	key        string
	lockKey    string
	lockTTL    time.Duration
	retryDelay time.Duration
}

// NewKVStore creates a KV-backed store for the record at key.
func NewKVStore(s store, key string, lockTTL time.Duration) *KVStore {
	return &KVStore{
		store:      s,
		key:        key,
		lockKey:    key + ":lock",
		lockTTL:    lockTTL,
		retryDelay: lockRetryDelay,
	}
}

// Load reads the record. found is false if the key does not exist.
func (s *KVStore) Load(ctx context.Context) (domquota.Record, bool, error) {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domquota.Record{}, false, nil
		}
		return domquota.Record{}, false, fmt.Errorf("quota GET %s: %w: %v", s.key, domain.ErrQuotaStorageUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return domquota.Record{}, true, fmt.Errorf("quota GET %s: %w", s.key, err)
	}
	return rec, true, nil
}

// Save overwrites the record.
func (s *KVStore) Save(ctx context.Context, rec domquota.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("quota SET %s: %w: %v", s.key, domain.ErrQuotaStorageUnavailable, err)
	}
	return nil
}

// Lock acquires the lease, polling until ctx is done.
// The returned unlock only deletes the lease if this holder still owns it.
func (s *KVStore) Lock(ctx context.Context) (func() error, error) {
	token := []byte(uuid.NewString())

	ticker := time.NewTicker(s.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := s.store.SetNX(ctx, s.lockKey, token, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("quota lock %s: %w: %v", s.lockKey, domain.ErrQuotaStorageUnavailable, err)
		}
		if ok {
			return s.unlockFunc(token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("quota lock %s: %w: %v", s.lockKey, domain.ErrQuotaStorageUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *KVStore) unlockFunc(token []byte) func() error {
	return func() error {
		// Detached from the caller's context: a cancelled request must still release the lease.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		released, err := s.store.DelIfEqual(ctx, s.lockKey, token)
		if err != nil {
			return fmt.Errorf("quota unlock %s: %w", s.lockKey, err)
		}
		if !released {
			return fmt.Errorf("quota unlock %s: lease expired before release", s.lockKey)
		}
		return nil
	}
}
