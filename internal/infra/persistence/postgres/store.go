// Package postgres provides a Postgres-backed persistent store. Transactions
// run against the in-memory store; each committed transaction rewrites the
// JSONB bucket rows of labcore_state.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/labcore?sslmode=disable"

	createStateTable = `CREATE TABLE IF NOT EXISTS labcore_state (
		bucket     TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	selectState = `SELECT bucket, payload FROM labcore_state`
	upsertState = `INSERT INTO labcore_state (bucket, payload, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
)

var (
	openMu  sync.Mutex
	sqlOpen = sql.Open
)

// Store is a memory.Store whose committed state is mirrored to Postgres.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore connects to dsn (defaultDSN when empty), creates labcore_state if
// needed and hydrates the in-memory state from it.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()
	db, err := open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	snapshot, err := bootstrap(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	if _, err := db.ExecContext(ctx, createStateTable); err != nil {
		return snapshot, fmt.Errorf("create labcore_state: %w", err)
	}
	rows, err := db.QueryContext(ctx, selectState)
	if err != nil {
		return snapshot, fmt.Errorf("select labcore_state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return snapshot, fmt.Errorf("scan labcore_state: %w", err)
		}
		if _, err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return snapshot, err
		}
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate labcore_state: %w", err)
	}
	return snapshot, nil
}

// RunInTransaction runs fn against the in-memory state. The resulting state is
// written to Postgres before it becomes visible; when the write fails the
// transaction is abandoned. Failed transactions and dry runs write nothing.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
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

// DB exposes the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen replaces the connector used by NewStore and returns a
// function restoring the previous one.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
