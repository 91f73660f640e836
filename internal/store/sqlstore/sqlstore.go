// Package sqlstore persists fingerprint cache namespaces in SQLite, PostgreSQL or MySQL/MariaDB.
package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kozaktomas/photo-dedup/internal/logging"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

// Dialect identifies the SQL backend.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect resolves a dialect name. mariadb is accepted as an alias of mysql.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unknown SQL dialect %q", name)
}

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	return string(d)
}

// maxKeyLength is the width of the entry_key column in characters.
const maxKeyLength = 512

// storedKey returns the entry_key column value and, for keys too long for the
// column, the full key kept in full_key.
func storedKey(key string) (string, sql.NullString) {
	if utf8.RuneCountInString(key) <= maxKeyLength {
		return key, sql.NullString{}
	}
	sum := sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:]), sql.NullString{String: key, Valid: true}
}

// Store implements store.Store on top of a single fingerprint_cache table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and applies pending migrations.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is required")
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db, dialect, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// New wraps an existing connection. The caller is responsible for running Migrate.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	return &Store{db: db, dialect: dialect, logger: logging.OrNoop(logger)}
}

// DB returns the underlying sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Load returns every entry stored under namespace.
func (s *Store) Load(ctx context.Context, namespace string) (map[string]string, error) {
	if err := store.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT COALESCE(full_key, entry_key), entry_value FROM fingerprint_cache WHERE namespace = ?"), namespace)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return entries, nil
}

// Save replaces the namespace contents in a single transaction.
func (s *Store) Save(ctx context.Context, namespace string, entries map[string]string) error {
	if err := store.ValidateNamespace(namespace); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		s.rebind("DELETE FROM fingerprint_cache WHERE namespace = ?"), namespace); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		"INSERT INTO fingerprint_cache (namespace, entry_key, full_key, entry_value, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)"))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for k, v := range entries {
		key, full := storedKey(k)
		if _, err := stmt.ExecContext(ctx, namespace, key, full, v); err != nil {
			return fmt.Errorf("insert cache entry %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache entries: %w", err)
	}
	s.logger.Debug("saved cache namespace", "namespace", namespace, "entries", len(entries))
	return nil
}

// Clear removes every entry under namespace.
func (s *Store) Clear(ctx context.Context, namespace string) error {
	if err := store.ValidateNamespace(namespace); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM fingerprint_cache WHERE namespace = ?"), namespace); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

// Count returns the number of entries stored under namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM fingerprint_cache WHERE namespace = ?"), namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
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
