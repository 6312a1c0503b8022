package quota

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kailas-cloud/printbot/internal/domain"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
)

const lockRetryDelay = 50 * time.Millisecond

// FileStore keeps the quota record in a single JSON file.
// Writes replace the file atomically; Lock takes an advisory lock on a sibling .lock file.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a file-backed store. The parent directory must exist.
func NewFileStore(path string) *FileStore {
	path = filepath.Clean(path)
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the record file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the record. found is false if the file does not exist yet.
func (s *FileStore) Load(_ context.Context) (domquota.Record, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domquota.Record{}, false, nil
		}
		return domquota.Record{}, false, fmt.Errorf("read %s: %w: %v", s.path, domain.ErrQuotaStorageUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return domquota.Record{}, true, fmt.Errorf("read %s: %w", s.path, err)
	}
	return rec, true, nil
}

// Save overwrites the record via write-to-temp + rename.
func (s *FileStore) Save(_ context.Context, rec domquota.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write %s: %w: %v", s.path, domain.ErrQuotaStorageUnavailable, err)
	}
	return nil
}

// Lock takes the advisory file lock, polling until ctx is done.
// It excludes other FileStores and processes only. The handle is re-entrant,
// so callers sharing one FileStore must serialize themselves (quota.Service holds its mutex).
func (s *FileStore) Lock(ctx context.Context) (func() error, error) {
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w: %v", s.lock.Path(), domain.ErrQuotaStorageUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w: not acquired", s.lock.Path(), domain.ErrQuotaStorageUnavailable)
	}
	return s.lock.Unlock, nil
}

// Ping verifies the record directory is reachable.
func (s *FileStore) Ping(_ context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
