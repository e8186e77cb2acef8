package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

func newMockStore(t *testing.T, rows *sqlmock.Rows) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		assert.Equal(t, "pgx", driver)
		assert.Equal(t, defaultDSN, dsn)
		return db, nil
	})
	t.Cleanup(restore)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS labcore_state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT bucket, payload FROM labcore_state").WillReturnRows(rows)

	store, err := NewStore("", domain.NewRulesEngine())
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreHydratesSnapshot(t *testing.T) {
	rows := sqlmock.NewRows([]string{"bucket", "payload"}).
		AddRow("containers", []byte(`{"c1":{"id":"c1","barcode":"box1","name":"box1","kind":"box","location_id":null,"coordinate":"","comment":""}}`)).
		AddRow("unknown", []byte(`{}`)).
		AddRow("samples", []byte(nil))
	store, mock := newMockStore(t, rows)

	c, ok := store.GetContainerByBarcode("box1")
	require.True(t, ok)
	assert.Equal(t, containerkind.Box, c.Kind)
	assert.NotNil(t, store.DB())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreRejectsCorruptPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil }))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS labcore_state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT bucket, payload FROM labcore_state").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "payload"}).AddRow("containers", []byte(`{not json`)))

	_, err = NewStore("postgres://db/labcore", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode containers")
}

func TestNewStoreSurfacesOpenError(t *testing.T) {
	t.Cleanup(OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("dial refused") }))
	_, err := NewStore("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open postgres")
}

func TestRunInTransactionPersistsEveryBucket(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	mock.ExpectBegin()
	for range memory.SnapshotBuckets {
		mock.ExpectExec("INSERT INTO labcore_state").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateContainer(domain.Container{Barcode: "freezer1", Name: "freezer1", Kind: containerkind.Freezer3Shelves})
		return e
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransactionRollsBackOnUpsertFailure(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO labcore_state").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	create := func(tx domain.Transaction) error {
		_, e := tx.CreateContainer(domain.Container{Barcode: "b", Name: "b", Kind: containerkind.Box})
		return e
	}
	_, err := store.RunInTransaction(context.Background(), create)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert containers: disk full")
	assert.Empty(t, store.ListContainers())
	_, ok := store.GetContainerByBarcode("b")
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())

	// the abandoned state does not leak into the next commit
	mock.ExpectBegin()
	for range memory.SnapshotBuckets {
		mock.ExpectExec("INSERT INTO labcore_state").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
	_, err = store.RunInTransaction(context.Background(), create)
	require.NoError(t, err)
	assert.Len(t, store.ListContainers(), 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransactionKeepsStateOnCommitFailure(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	mock.ExpectBegin()
	for range memory.SnapshotBuckets {
		mock.ExpectExec("INSERT INTO labcore_state").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateContainer(domain.Container{Barcode: "b", Name: "b", Kind: containerkind.Box})
		return e
	})
	require.ErrorContains(t, err, "commit: connection reset")
	assert.Empty(t, store.ListContainers())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDryRunSkipsPersist(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))
	ctx := domain.WithDryRun(context.Background())
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, e := tx.CreateContainer(domain.Container{Barcode: "b", Name: "b", Kind: containerkind.Box})
		return e
	})
	require.NoError(t, err)
	assert.Empty(t, store.ListContainers())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreClosesOnBootstrapFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil }))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS labcore_state").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	_, err = NewStore("", nil)
	require.ErrorContains(t, err, "create labcore_state")
	require.NoError(t, mock.ExpectationsWereMet())
}
