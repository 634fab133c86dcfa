// Package sqlstore implements the repository interfaces on database/sql.
//
// Two backends are supported. SQLite (modernc.org/sqlite, pure Go) is the
// default and is what tests run against with ":memory:". PostgreSQL
// (lib/pq) is selected when the DSN is a postgres:// URL.
//
// Queries are written once with "?" placeholders; rebind turns them into
// "$1, $2, ..." for PostgreSQL. Both backends accept RETURNING and the
// TRUE/FALSE literals, so no other query text differs.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect struct {
	name     string
	driver   string
	idType   string
	timeType string
	numbered bool // $n placeholders
}

var (
	sqliteDialect = dialect{
		name:     "sqlite",
		driver:   "sqlite",
		idType:   "INTEGER PRIMARY KEY AUTOINCREMENT",
		timeType: "DATETIME",
	}
	postgresDialect = dialect{
		name:     "postgres",
		driver:   "postgres",
		idType:   "BIGSERIAL PRIMARY KEY",
		timeType: "TIMESTAMPTZ",
		numbered: true,
	}
)

// DB wraps the connection pool and implements every repository interface.
type DB struct {
	conn    *sql.DB
	dialect dialect
	now     func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// IsPostgresDSN reports whether dsn selects the PostgreSQL backend.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn, applies backend settings and runs migrations.
// Anything that is not a postgres URL is treated as a SQLite path
// (":memory:" included).
func Open(dsn string, opts ...Option) (*DB, error) {
	d := sqliteDialect
	if IsPostgresDSN(dsn) {
		d = postgresDialect
	}

	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s database: %w", d.name, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: pinging %s database: %w", d.name, err)
	}

	if d.name == "sqlite" {
		// a single connection keeps ":memory:" databases shared and
		// serialises writers instead of surfacing SQLITE_BUSY
		conn.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
			if _, err := conn.Exec(pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
			}
		}
	}

	db := &DB{conn: conn, dialect: d, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by /health.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Dialect returns "sqlite" or "postgres".
func (db *DB) Dialect() string {
	return db.dialect.name
}

func (db *DB) timestamp() time.Time {
	return db.now().UTC()
}

// rebind rewrites "?" placeholders for dialects that number them.
func (db *DB) rebind(query string) string {
	if !db.dialect.numbered {
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

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, db.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id and returns the new id.
func (db *DB) insert(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	var id int64
	if err := db.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// lockUser holds off every other lockUser for the same user until tx ends.
// The UPDATE changes nothing but takes the row lock on PostgreSQL and the
// write lock on SQLite, so a count-then-insert inside tx cannot interleave
// with another one.
func (db *DB) lockUser(ctx context.Context, tx *sql.Tx, userID int64) error {
	res, err := db.exec(ctx, tx, `UPDATE users SET updated_at = updated_at WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlstore: locking user %d: %w", userID, err)
	}
	return requireAffected(res, "user", userID)
}

// countActive counts the user's active rows in table.
func (db *DB) countActive(ctx context.Context, q queryer, table string, userID int64) (int, error) {
	var n int
	err := db.queryRow(ctx, q,
		`SELECT COUNT(*) FROM `+table+` WHERE user_id = ? AND is_active = TRUE`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: counting %s: %w", table, err)
	}
	return n, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}
