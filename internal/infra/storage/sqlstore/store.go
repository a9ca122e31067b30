// Package sqlstore implements addrstate.Store and addrstate.Registry on a SQL
// database. SQLite (modernc.org/sqlite, pure Go) suits single-node
// deployments; PostgreSQL (github.com/lib/pq) suits shared ones. Queries are
// written once with "?" placeholders and rebound per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrUnknownDialect is returned by Open for unsupported dialects.
var ErrUnknownDialect = errors.New("unknown sql dialect")

// Dialect selects the database driver. Its value is the database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// defaultQueryTimeout bounds every statement that does not run in a caller
// supplied transaction.
const defaultQueryTimeout = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS address_registrations (
	user_id     BIGINT  NOT NULL,
	address     TEXT    NOT NULL,
	label       TEXT    NOT NULL DEFAULT '',
	active      BOOLEAN NOT NULL,
	created_at  BIGINT  NOT NULL,
	PRIMARY KEY (user_id, address)
);

CREATE INDEX IF NOT EXISTS idx_address_registrations_active
	ON address_registrations (active, created_at);

CREATE TABLE IF NOT EXISTS address_snapshots (
	address      TEXT   PRIMARY KEY,
	balances     TEXT   NOT NULL,
	sequence     BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	fetched_at   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_configs (
	user_id     BIGINT  PRIMARY KEY,
	interval_ms BIGINT  NOT NULL DEFAULT 0,
	quota       INTEGER NOT NULL DEFAULT 0
);
`

type store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ addrstate.Store    = (*store)(nil)
	_ addrstate.Registry = (*store)(nil)
)

// Open connects to the database and creates the schema if needed.
//
// SQLite connections are limited to one so writes are serialized, with WAL
// journaling and a busy timeout for file databases.
func Open(ctx context.Context, dialect Dialect, dsn string) (*store, error) {
	switch dialect {
	case DialectSQLite:
		dsn = sqliteDSN(dsn)
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(2 * time.Minute)
	}

	s := &store{db: db, dialect: dialect}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// sqliteDSN appends the pragmas used for file databases.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "_pragma=") {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
}

// Ping checks the connection.
func (s *store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) migrate(ctx context.Context) error {
	for stmt := range strings.SplitSeq(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to the dialect's form.
func (s *store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}
