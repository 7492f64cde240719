package membership

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3" // driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // driver "sqlite" (pure Go)

	"querygate/internal/logging"
	"querygate/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS namespace_identifiers (
	namespace  TEXT NOT NULL,
	identifier TEXT NOT NULL,
	normalized TEXT NOT NULL,
	PRIMARY KEY (namespace, normalized)
)`

const sqliteUpsert = `
INSERT INTO namespace_identifiers (namespace, identifier, normalized) VALUES (?, ?, ?)
ON CONFLICT (namespace, normalized) DO UPDATE SET identifier = excluded.identifier`

// SQLStore keeps namespaces in one SQLite table.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens dsn with driver ("sqlite" or "sqlite3") and creates the
// table if needed.
func OpenSQLite(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "" {
		driver = "sqlite"
	}
	inMemory := strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	if !inMemory && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, storeError("open", "", errors.Wrapf(err, "%s %s", driver, dsn))
	}
	if inMemory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Store("sqlite membership store opened: driver=%s dsn=%s", driver, dsn)
	return store, nil
}

// NewSQLStore uses an already opened database.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, storeError("migrate", "", err)
	}
	return &SQLStore{db: db}, nil
}

// SetAll replaces the namespace in one transaction.
func (s *SQLStore) SetAll(ctx context.Context, ns types.Namespace, ids []string) error {
	if err := checkNamespace("set_all", ns); err != nil {
		return err
	}
	normalized, originals := dedupe(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("set_all", ns, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM namespace_identifiers WHERE namespace = ?`, string(ns)); err != nil {
		return storeError("set_all", ns, err)
	}
	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return storeError("set_all", ns, err)
	}
	defer stmt.Close()
	for i, n := range normalized {
		if _, err := stmt.ExecContext(ctx, string(ns), originals[i], n); err != nil {
			return storeError("set_all", ns, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeError("set_all", ns, err)
	}
	logging.StoreDebug("sqlite set_all %s: %d identifiers", ns, len(normalized))
	return nil
}

func (s *SQLStore) GetAll(ctx context.Context, ns types.Namespace) (map[string]struct{}, error) {
	if err := checkNamespace("get_all", ns); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT normalized FROM namespace_identifiers WHERE namespace = ?`, string(ns))
	if err != nil {
		return nil, storeError("get_all", ns, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, storeError("get_all", ns, err)
		}
		out[n] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("get_all", ns, err)
	}
	return out, nil
}

func (s *SQLStore) AddOne(ctx context.Context, ns types.Namespace, id string) error {
	if err := checkNamespace("add_one", ns); err != nil {
		return err
	}
	n := Normalize(id)
	if n == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsert, string(ns), strings.TrimSpace(id), n)
	return storeError("add_one", ns, err)
}

func (s *SQLStore) Exists(ctx context.Context, ns types.Namespace, id string) (bool, error) {
	if err := checkNamespace("exists", ns); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM namespace_identifiers WHERE namespace = ? AND normalized = ?`,
		string(ns), Normalize(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeError("exists", ns, err)
	}
	return true, nil
}

// List returns the original spellings sorted by normalized form.
func (s *SQLStore) List(ctx context.Context, ns types.Namespace) ([]string, error) {
	if err := checkNamespace("list", ns); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM namespace_identifiers WHERE namespace = ? ORDER BY normalized`, string(ns))
	if err != nil {
		return nil, storeError("list", ns, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("list", ns, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list", ns, err)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
