// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no C compiler, cross-compiles like
// any other Go code. The schema itself lives in the migrations subpackage and
// is applied with golang-migrate when the database is opened.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB is a connection pool, not a single connection
//   - sql.Tx is a transaction pinned to one connection
//   - always close sql.Rows before running the next query on the same pool
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/sakif/stepguide/internal/repository"
	"github.com/sakif/stepguide/internal/repository/sqlite/migrations"
)

// querier is the part of *sql.DB and *sql.Tx the repository methods use.
// Every method goes through db.q, so the same code runs inside and outside a
// transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and implements the repository interfaces.
type DB struct {
	conn *sql.DB
	q    querier
	inTx bool
}

// unicodeLower is SQLite's LOWER with full Unicode case folding; the built-in
// one only folds ASCII. Registered functions apply to every connection the
// driver opens afterwards.
const unicodeLower = "unicode_lower"

func init() {
	msqlite.MustRegisterDeterministicScalarFunction(unicodeLower, 1,
		func(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return strings.ToLower(v), nil
			case []byte:
				return strings.ToLower(string(v)), nil
			default:
				return v, nil
			}
		})
}

var (
	_ repository.GuideRepository = (*DB)(nil)
	_ repository.UserRepository  = (*DB)(nil)
)

// New opens the database and applies pending migrations.
//
// dbPath examples:
//   - "data/stepguide.db" → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests; lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn, q: conn}, nil
}

// Open opens the database without touching the schema.
//
// PRAGMAS:
// Pragmas like foreign_keys are per connection, so they go in the DSN where
// the driver applies them to every connection the pool opens. An in-memory
// database exists per connection too, so the pool is pinned to one.
func Open(dbPath string) (*sql.DB, error) {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	dsn := dbPath + "?" + pragmas
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}
	return conn, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithinTx runs fn in a transaction. The repository passed to fn is bound to
// the transaction; calling methods on the outer DB inside fn would wait for a
// second connection (forever, for an in-memory database).
//
// Nested calls reuse the outer transaction.
func (db *DB) WithinTx(ctx context.Context, fn func(repo repository.GuideRepository) error) error {
	if db.inTx {
		return fn(db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(&DB{conn: db.conn, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE/PRIMARY KEY failure on
// the given "table.column".
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code != sqlitelib.SQLITE_CONSTRAINT_UNIQUE && code != sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY {
			return false
		}
	} else if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return false
	}
	return strings.Contains(err.Error(), column)
}

func normalizeListOptions(opts repository.ListOptions) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset = opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
