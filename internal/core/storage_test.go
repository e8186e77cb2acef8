package core

import (
	"context"
	"path/filepath"
	"testing"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlite"
)

func TestStorageOptionsFromEnv(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "")
	if opts := StorageOptionsFromEnv(); opts.Driver != StorageSQLite {
		t.Fatalf("expected sqlite default, got %q", opts.Driver)
	}
	t.Setenv("LABCORE_STORAGE_DRIVER", " Postgres ")
	t.Setenv("LABCORE_POSTGRES_DSN", "postgres://db/labcore")
	opts := StorageOptionsFromEnv()
	if opts.Driver != StoragePostgres || opts.PostgresDSN != "postgres://db/labcore" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(StorageOptions{Driver: StorageMemory}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	store, err := OpenPersistentStore(StorageOptions{Driver: StorageSQLite, SQLitePath: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	defer func() { _ = s.Close() }()
	if s.Path() != path {
		t.Fatalf("expected path %s, got %s", path, s.Path())
	}

	svc := NewService(store)
	mustContainer(t, svc, "tube-1", "tube", "", "")
	if _, err := store.RunInTransaction(context.Background(), func(Transaction) error { return nil }); err != nil {
		t.Fatalf("noop transaction: %v", err)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	if _, err := OpenPersistentStore(StorageOptions{Driver: "oracle"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
