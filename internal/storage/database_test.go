package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athaight/andrewhaight-blog/internal/storage"
	"github.com/athaight/andrewhaight-blog/internal/testutil"
)

func TestOpenDatabaseRejectsMissingDriverName(t *testing.T) {
	_, openErr := storage.OpenDatabase(storage.Config{DataSourceName: "file:test?mode=memory"})
	require.ErrorIs(t, openErr, storage.ErrMissingDatabaseDriverName)
}

func TestOpenDatabaseRejectsUnsupportedDriver(t *testing.T) {
	_, openErr := storage.OpenDatabase(storage.Config{
		DriverName:     "oracle",
		DataSourceName: "file:test?mode=memory",
	})
	require.ErrorIs(t, openErr, storage.ErrUnsupportedDatabaseDriver)
}

func TestOpenDatabaseRejectsMissingDataSourceName(t *testing.T) {
	_, openErr := storage.OpenDatabase(storage.Config{DriverName: storage.DriverNameSQLite})
	require.ErrorIs(t, openErr, storage.ErrMissingDataSourceName)
}

func TestOpenDatabaseAndMigrate(t *testing.T) {
	sqliteDatabase := testutil.NewSQLiteTestDatabase(t)
	database, openErr := storage.OpenDatabase(sqliteDatabase.Configuration())
	require.NoError(t, openErr)
	require.NoError(t, storage.AutoMigrate(database))
}

func TestNewIDProducesUniqueValues(t *testing.T) {
	firstID := storage.NewID()
	secondID := storage.NewID()
	require.NotEmpty(t, firstID)
	require.NotEqual(t, firstID, secondID)
}
