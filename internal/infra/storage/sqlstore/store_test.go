package sqlstore

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/infra/storage/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, dsn string) *store {
	t.Helper()

	s, err := Open(t.Context(), DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_SQLiteMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Storage {
		return openSQLite(t, ":memory:")
	})
}

func TestStore_SQLiteFile(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Storage {
		return openSQLite(t, filepath.Join(t.TempDir(), "addresswatch.db"))
	})
}

// TestStore_Postgres runs against a real server when
// ADDRESSWATCH_TEST_POSTGRES_DSN is set. Each subtest uses its own schema.
func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("ADDRESSWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ADDRESSWATCH_TEST_POSTGRES_DSN not set")
	}

	var n atomic.Int32
	storetest.Run(t, func(t *testing.T) storetest.Storage {
		admin, err := Open(t.Context(), DialectPostgres, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = admin.Close() })

		schemaName := fmt.Sprintf("addresswatch_test_%d_%d", os.Getpid(), n.Add(1))
		_, err = admin.db.ExecContext(t.Context(), "CREATE SCHEMA "+schemaName)
		require.NoError(t, err)
		t.Cleanup(func() { _, _ = admin.db.Exec("DROP SCHEMA " + schemaName + " CASCADE") })

		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		s, err := Open(t.Context(), DialectPostgres, dsn+sep+"search_path="+schemaName)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := Open(t.Context(), "mysql", "")
	assert.ErrorIs(t, err, ErrUnknownDialect)
}

func TestOpen_MigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresswatch.db")

	first := openSQLite(t, path)
	require.NoError(t, first.RegisterAddress(t.Context(), addrstate.AddressRecord{UserID: 1, Address: "0xabc"}))
	require.NoError(t, first.Close())

	second := openSQLite(t, path)
	count, err := second.CountActiveAddresses(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t,
		"UPDATE t SET a = $1 WHERE b = $2 AND c = $3",
		rebindDollar("UPDATE t SET a = ? WHERE b = ? AND c = ?"),
	)
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t,
		"data.db?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)",
		sqliteDSN("data.db"),
	)
	assert.Equal(t, "file:x.db?_pragma=foreign_keys(1)", sqliteDSN("file:x.db?_pragma=foreign_keys(1)"))
}

func TestPutSnapshot_Overflow(t *testing.T) {
	s := openSQLite(t, ":memory:")

	err := s.PutSnapshot(t.Context(), addrstate.Snapshot{Address: "0xabc", Sequence: math.MaxUint64})

	assert.ErrorContains(t, err, "overflows")
}
