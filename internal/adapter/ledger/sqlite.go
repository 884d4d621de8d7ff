// Package ledger implements the dedup ledger on SQLite.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"docrag/internal/adapter/ledger/migrations"
	"docrag/internal/domain"
	"docrag/internal/port"
)

// SQLiteLedger stores one row per (namespace, sourceKey).
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

var _ port.Ledger = (*SQLiteLedger)(nil)

// Open opens or creates the ledger database at path and ensures its schema.
func Open(ctx context.Context, path string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating ledger directory: %w", domain.ErrLedger, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", domain.ErrLedger, err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	l := &SQLiteLedger{db: db, path: path}
	if err := l.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database file path.
func (l *SQLiteLedger) Path() string {
	return l.path
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// EnsureSchema applies every embedded migration newer than the recorded version.
func (l *SQLiteLedger) EnsureSchema(ctx context.Context) error {
	if err := l.migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("%w: running migrations: %w", domain.ErrLedger, err)
	}
	return nil
}

func (l *SQLiteLedger) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := l.apply(ctx, version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

func (l *SQLiteLedger) apply(ctx context.Context, version int, stmt string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// Records returns every record of namespace ordered by source key.
func (l *SQLiteLedger) Records(ctx context.Context, namespace string) ([]domain.LedgerRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT source_key, chunk_hashes, indexed_at
		FROM ledger_records
		WHERE namespace = ?
		ORDER BY source_key
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: querying records: %w", domain.ErrLedger, err)
	}
	defer rows.Close()

	var records []domain.LedgerRecord
	for rows.Next() {
		var key, hashesJSON, indexedAt string
		if err := rows.Scan(&key, &hashesJSON, &indexedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning record: %w", domain.ErrLedger, err)
		}
		rec := domain.LedgerRecord{Namespace: namespace, SourceKey: key}
		if err := json.Unmarshal([]byte(hashesJSON), &rec.ChunkHashes); err != nil {
			return nil, fmt.Errorf("%w: decoding hashes for %s: %w", domain.ErrLedger, key, err)
		}
		if rec.LastIndexedAt, err = time.Parse(time.RFC3339Nano, indexedAt); err != nil {
			return nil, fmt.Errorf("%w: decoding timestamp for %s: %w", domain.ErrLedger, key, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating records: %w", domain.ErrLedger, err)
	}
	return records, nil
}

// Upsert writes rec in a single statement. Hashes are stored sorted and unique.
func (l *SQLiteLedger) Upsert(ctx context.Context, rec domain.LedgerRecord) error {
	if rec.Namespace == "" || rec.SourceKey == "" {
		return fmt.Errorf("%w: ledger record needs namespace and source key", domain.ErrInvalidInput)
	}

	hashes, err := json.Marshal(normalizeHashes(rec.ChunkHashes))
	if err != nil {
		return fmt.Errorf("%w: encoding hashes: %w", domain.ErrLedger, err)
	}
	at := rec.LastIndexedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO ledger_records (namespace, source_key, chunk_hashes, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, source_key) DO UPDATE SET
			chunk_hashes = excluded.chunk_hashes,
			indexed_at = excluded.indexed_at
	`, rec.Namespace, rec.SourceKey, string(hashes), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: upserting %s: %w", domain.ErrLedger, rec.SourceKey, err)
	}
	return nil
}

func (l *SQLiteLedger) Delete(ctx context.Context, namespace, sourceKey string) error {
	_, err := l.db.ExecContext(ctx,
		"DELETE FROM ledger_records WHERE namespace = ? AND source_key = ?",
		namespace, sourceKey)
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %w", domain.ErrLedger, sourceKey, err)
	}
	return nil
}

// Clear removes every record of namespace.
func (l *SQLiteLedger) Clear(ctx context.Context, namespace string) (int, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM ledger_records WHERE namespace = ?", namespace)
	if err != nil {
		return 0, fmt.Errorf("%w: clearing %s: %w", domain.ErrLedger, namespace, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func normalizeHashes(hashes []string) []string {
	out := make([]string, 0, len(hashes))
	seen := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
