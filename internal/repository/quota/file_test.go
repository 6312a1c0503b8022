package quota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kailas-cloud/printbot/internal/domain"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "usage_counter.json"))
}

func TestFileStore_LoadMissing(t *testing.T) {
	s := newTestFileStore(t)

	_, found, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for missing file")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	want := domquota.Record{Date: "2024-01-01", Count: 7}

	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, found, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFileStore_SaveOverwritesWholeRecord(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, domquota.Record{Date: "2024-01-01", Count: 10})
	if err := s.Save(ctx, domquota.Fresh("2024-01-02")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _, _ := s.Load(ctx)
	if got != domquota.Fresh("2024-01-02") {
		t.Errorf("got %+v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && filepath.Ext(e.Name()) != ".lock" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestFileStore_ReadsLegacyFormat(t *testing.T) {
	s := newTestFileStore(t)
	if err := os.WriteFile(s.Path(), []byte(`{"date": "2024-01-01", "count": 3}`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.Load(context.Background())
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if got.Count != 3 || got.Date != "2024-01-01" {
		t.Errorf("got %+v", got)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	tests := map[string]string{
		"not json":       `{"date":`,
		"missing count":  `{"date":"2024-01-01"}`,
		"negative count": `{"date":"2024-01-01","count":-2}`,
		"bad date":       `{"date":"yesterday","count":1}`,
		"future version": `{"version":9,"date":"2024-01-01","count":1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestFileStore(t)
			if err := os.WriteFile(s.Path(), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}

			_, found, err := s.Load(context.Background())
			if !errors.Is(err, domain.ErrQuotaStorageCorrupt) {
				t.Fatalf("expected ErrQuotaStorageCorrupt, got %v", err)
			}
			if !found {
				t.Error("expected found=true for corrupt file")
			}
		})
	}
}

func TestFileStore_Unavailable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the record file should be makes every read fail with a non-ENOENT error.
	path := filepath.Join(dir, "usage_counter.json")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)

	if _, _, err := s.Load(context.Background()); !errors.Is(err, domain.ErrQuotaStorageUnavailable) {
		t.Fatalf("Load: expected ErrQuotaStorageUnavailable, got %v", err)
	}
	if err := s.Save(context.Background(), domquota.Fresh("2024-01-01")); !errors.Is(err, domain.ErrQuotaStorageUnavailable) {
		t.Fatalf("Save: expected ErrQuotaStorageUnavailable, got %v", err)
	}
}

func TestFileStore_LockExcludesOtherHolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage_counter.json")
	a := NewFileStore(path)
	b := NewFileStore(path)

	unlock, err := a.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := b.Lock(ctx); !errors.Is(err, domain.ErrQuotaStorageUnavailable) {
		t.Fatalf("expected second holder to time out, got %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	unlockB, err := b.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = unlockB()
}

func TestFileStore_Ping(t *testing.T) {
	s := newTestFileStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing := NewFileStore(filepath.Join(t.TempDir(), "nope", "usage.json"))
	if err := missing.Ping(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
