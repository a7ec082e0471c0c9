// Package opstate provides a namespaced key-value store for persistent
// operational state: the mailbox poller's high-water mark and the
// idempotency claims that keep a redelivered inbound email from being
// answered twice. It is not meant for domain data.
package opstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a namespaced key-value store backed by SQLite. All public
// methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore creates an operational state store at the given database path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers, so a Claim never sees SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operational_state (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored value for a namespace/key pair. Returns empty
// string and nil error if the key does not exist.
func (s *Store) Get(namespace, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM operational_state WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Set upserts a namespace/key/value triple. Existing values are
// overwritten and the updated_at timestamp is refreshed.
func (s *Store) Set(namespace, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO operational_state (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, now(),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Claim records key in namespace if it is not already present and
// reports whether this call created it. Exactly one of several
// concurrent callers for the same key wins.
func (s *Store) Claim(namespace, key, value string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO operational_state (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)`,
		namespace, key, value, now(),
	)
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", namespace, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", namespace, key, err)
	}
	return n == 1, nil
}

// Release removes a claim so the key can be claimed again. No error is
// returned if the key does not exist.
func (s *Store) Release(namespace, key string) error {
	_, err := s.db.Exec(
		`DELETE FROM operational_state WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Prune deletes entries in namespace last updated before cutoff and
// returns how many were removed.
func (s *Store) Prune(namespace string, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM operational_state WHERE namespace = ? AND updated_at < ?`,
		namespace, cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", namespace, err)
	}
	return res.RowsAffected()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
