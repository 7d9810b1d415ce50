package credential

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects the SQL flavour and driver.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return "dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "pgx"
}

func (d Dialect) gooseDialect() goose.Dialect {
	if d == DialectSQLite {
		return goose.DialectSQLite3
	}
	return goose.DialectPostgres
}

func (d Dialect) migrationsDir() string {
	if d == DialectSQLite {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}

// rebind rewrites ? placeholders into the dialect's positional form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ParseURL maps a connection URL to a dialect and a driver DSN.
//
//	postgres://..., postgresql://...  -> Postgres, URL unchanged
//	sqlite://path, sqlite::memory:    -> SQLite, path or :memory:
//	file:...                          -> SQLite, URL unchanged
func ParseURL(raw string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DialectPostgres, raw, nil
	case raw == "sqlite::memory:":
		return DialectSQLite, ":memory:", nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return 0, "", errors.New("empty sqlite database path")
		}
		return DialectSQLite, path, nil
	case strings.HasPrefix(raw, "file:"):
		return DialectSQLite, raw, nil
	default:
		return 0, "", fmt.Errorf("unsupported database url scheme in %q", redactURL(raw))
	}
}

// redactURL drops everything after the scheme so credentials never reach logs.
func redactURL(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[:i+3] + "..."
	}
	if i := strings.Index(raw, ":"); i >= 0 {
		return raw[:i+1] + "..."
	}
	return "..."
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
