package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"keygate/internal/license"
)

// casRetries bounds the internal compare-and-swap retry loop before an
// update surfaces license.ErrStoreContention to the caller.
const casRetries = 5

// casBackoff spaces out CAS retries so colliding writers interleave.
const casBackoff = 10 * time.Millisecond

const customersSchema = `
CREATE TABLE IF NOT EXISTS customers (
	id          TEXT PRIMARY KEY,
	license_key TEXT NOT NULL UNIQUE,
	doc         TEXT NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customers_created_at ON customers(created_at);
`

// SQLiteStore persists customer records in a single SQLite file. Each record
// is one row holding the document as JSON plus a version counter; updates
// are optimistic compare-and-swap on the version, so the whole
// read-decide-write sequence is atomic per record while updates on
// different records proceed in parallel.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the customer store at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	if _, err := db.Exec(customersSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert adds a new record, mapping the unique key constraint to
// ErrDuplicateKey so the caller can regenerate and retry.
func (s *SQLiteStore) Insert(ctx context.Context, c *license.Customer) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode customer record: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO customers (id, license_key, doc, version, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		c.ID, c.LicenseKey, string(doc), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert customer record: %w", err)
	}
	return nil
}

// GetByID returns a snapshot of the record with the given id.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*license.Customer, error) {
	c, _, err := s.fetch(ctx, "id", id, license.ErrNotFound)
	return c, err
}

// GetByKey returns a snapshot of the record with the given license key.
func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*license.Customer, error) {
	c, _, err := s.fetch(ctx, "license_key", key, license.ErrInvalidLicense)
	return c, err
}

// List returns all records in creation order.
func (s *SQLiteStore) List(ctx context.Context) ([]*license.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM customers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list customer records: %w", err)
	}
	defer rows.Close()

	var out []*license.Customer
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan customer record: %w", err)
		}
		var c license.Customer
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, fmt.Errorf("decode customer record: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateByID applies fn atomically to the record with the given id.
func (s *SQLiteStore) UpdateByID(ctx context.Context, id string, fn UpdateFunc) (*license.Customer, error) {
	return s.update(ctx, "id", id, license.ErrNotFound, fn)
}

// UpdateByKey applies fn atomically to the record with the given key.
func (s *SQLiteStore) UpdateByKey(ctx context.Context, key string, fn UpdateFunc) (*license.Customer, error) {
	return s.update(ctx, "license_key", key, license.ErrInvalidLicense, fn)
}

// update runs the CAS loop: read doc+version, apply fn to a working copy,
// write back only if the version is unchanged. A lost race retries with
// backoff up to casRetries times, then reports contention. fn errors abort
// the write unless wrapped with Persist.
func (s *SQLiteStore) update(ctx context.Context, column, value string, missing error, fn UpdateFunc) (*license.Customer, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		work, version, err := s.fetch(ctx, column, value, missing)
		if err != nil {
			return nil, err
		}

		fnErr := fn(work)
		persist := true
		if fnErr != nil {
			fnErr, persist = shouldPersist(fnErr)
			if !persist {
				return nil, fnErr
			}
		}

		swapped, err := s.swap(ctx, work, version)
		if err != nil {
			return nil, err
		}
		if !swapped {
			// Another writer got in between read and write; retry.
			select {
			case <-time.After(casBackoff):
			case <-ctx.Done():
				return nil, license.ErrStoreContention
			}
			continue
		}

		if fnErr != nil {
			return nil, fnErr
		}
		return work, nil
	}
	return nil, license.ErrStoreContention
}

func (s *SQLiteStore) fetch(ctx context.Context, column, value string, missing error) (*license.Customer, int64, error) {
	query := fmt.Sprintf(`SELECT doc, version FROM customers WHERE %s = ?`, column)

	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, query, value).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, missing
	}
	if err != nil {
		return nil, 0, fmt.Errorf("fetch customer record: %w", err)
	}

	var c license.Customer
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, 0, fmt.Errorf("decode customer record: %w", err)
	}
	return &c, version, nil
}

func (s *SQLiteStore) swap(ctx context.Context, c *license.Customer, version int64) (bool, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("encode customer record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE customers SET doc = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(doc), time.Now().UTC().Format(time.RFC3339Nano), c.ID, version,
	)
	if err != nil {
		return false, fmt.Errorf("write customer record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write customer record: %w", err)
	}
	return affected == 1, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
