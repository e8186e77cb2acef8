// Package sqlite provides an embedded persistent store. Transactions run
// against the in-memory store; each committed transaction rewrites the JSON
// bucket rows of labcore_state in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "labcore.db"

const (
	createStateTable = `CREATE TABLE IF NOT EXISTS labcore_state (
		bucket     TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	selectState = `SELECT bucket, payload FROM labcore_state`
	upsertState = `INSERT INTO labcore_state (bucket, payload, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`
)

// Store is a memory.Store whose committed state is mirrored to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating when missing) the database at path and hydrates
// the in-memory state from it. Parent directories are created.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the store already serialises transactions
	db.SetMaxOpenConns(1)
	snapshot, loaded, err := bootstrap(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if loaded {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db, path: path}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) (memory.Snapshot, bool, error) {
	var snapshot memory.Snapshot
	for _, stmt := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`, createStateTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return snapshot, false, fmt.Errorf("prepare labcore_state: %w", err)
		}
	}
	rows, err := db.QueryContext(ctx, selectState)
	if err != nil {
		return snapshot, false, fmt.Errorf("select labcore_state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return snapshot, false, fmt.Errorf("scan labcore_state: %w", err)
		}
		ok, err := snapshot.DecodeBucket(bucket, payload)
		if err != nil {
			return snapshot, false, err
		}
		loaded = loaded || ok
	}
	if err := rows.Err(); err != nil {
		return snapshot, false, fmt.Errorf("iterate labcore_state: %w", err)
	}
	return snapshot, loaded, nil
}

// RunInTransaction runs fn against the in-memory state. The resulting state is
// written to SQLite before it becomes visible; when the write fails the
// transaction is abandoned. Failed transactions and dry runs write nothing.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, s.persist)
}

func (s *Store) persist(ctx context.Context, next memory.Snapshot) error {
	buckets, err := next.EncodeBuckets()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, b := range buckets {
		if _, err := tx.ExecContext(ctx, upsertState, b.Name, b.Payload); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", b.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }
