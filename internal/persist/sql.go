package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const defaultTable = "codepane_state"

// sqlSlot stores values in a key/value table. The two dialects differ only
// in placeholders and upsert syntax.
type sqlSlot struct {
	name   string
	db     *sql.DB
	table  string
	read   string
	upsert string
}

func newSQLSlot(name string, db *sql.DB, table, placeholder1, placeholder2, placeholder3 string) (*sqlSlot, error) {
	if table == "" {
		table = defaultTable
	}
	if !keyPattern.MatchString(table) {
		db.Close()
		return nil, &SlotError{Slot: name, Op: "open", Err: fmt.Errorf("invalid table name %q", table)}
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`, table)
	if _, err := db.Exec(create); err != nil {
		db.Close()
		return nil, &SlotError{Slot: name, Op: "open", Err: err}
	}

	return &sqlSlot{
		name:  name,
		db:    db,
		table: table,
		read:  fmt.Sprintf("SELECT value FROM %s WHERE key = %s", table, placeholder1),
		upsert: fmt.Sprintf(
			"INSERT INTO %s (key, value, updated_at) VALUES (%s, %s, %s) "+
				"ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
			table, placeholder1, placeholder2, placeholder3),
	}, nil
}

func (s *sqlSlot) Name() string { return s.name }

func (s *sqlSlot) Read(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.read, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, &SlotError{Slot: s.name, Op: "read", Err: err}
	}
	return []byte(value), nil
}

func (s *sqlSlot) Write(ctx context.Context, key string, data []byte) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, key, string(data), time.Now().UnixMilli()); err != nil {
		return &SlotError{Slot: s.name, Op: "write", Err: err}
	}
	return nil
}

func (s *sqlSlot) Close() error {
	return s.db.Close()
}

// SQLiteSlot persists snapshots in a SQLite database file.
type SQLiteSlot struct {
	*sqlSlot
	path string
}

// NewSQLiteSlot opens (creating if needed) the database at path.
func NewSQLiteSlot(path, table string) (*SQLiteSlot, error) {
	if path == "" {
		path = "./codepane.db"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &SlotError{Slot: "sqlite", Op: "open", Err: err}
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &SlotError{Slot: "sqlite", Op: "open", Err: err}
	}

	inner, err := newSQLSlot("sqlite", db, table, "?", "?", "?")
	if err != nil {
		return nil, err
	}
	return &SQLiteSlot{sqlSlot: inner, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteSlot) Path() string { return s.path }

// PostgresSlot persists snapshots in a PostgreSQL table.
type PostgresSlot struct {
	*sqlSlot
}

// NewPostgresSlot connects using dsn, or DATABASE_URL when dsn is empty.
func NewPostgresSlot(ctx context.Context, dsn, table string) (*PostgresSlot, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, &SlotError{Slot: "postgres", Op: "open",
			Err: errors.New("database connection required (set storage.dsn or DATABASE_URL env)")}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &SlotError{Slot: "postgres", Op: "open", Err: err}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &SlotError{Slot: "postgres", Op: "open", Err: err}
	}

	inner, err := newSQLSlot("postgres", db, table, "$1", "$2", "$3")
	if err != nil {
		return nil, err
	}
	return &PostgresSlot{sqlSlot: inner}, nil
}
