// Package sqlitestore implements the persistent store adapter on a SQLite
// database file. Every operation is a single implicit transaction, so a
// write either lands completely or not at all across power loss.
package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ncruces/go-sqlite3/driver"    // Load database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"   // Load sqlite WASM binary
	_ "github.com/ncruces/go-sqlite3/vfs/xts" // Encryption VFS
)

// DB implements storage.Store on SQLite.
type DB struct {
	db *sql.DB
}

// Open creates or opens a SQLite database file using a single non-pooled
// connection. If a password is specified the xts VFS encrypts the file
// with a text key.
func Open(filename, password string) (*DB, error) {
	query := "?_pragma=journal_mode(wal)&_pragma=synchronous(full)&_pragma=busy_timeout(5000)"
	if password != "" {
		query += fmt.Sprintf("&vfs=xts&_pragma=textkey(%q)&_pragma=temp_store(memory)", password)
	}
	connector, err := (&driver.SQLite{}).OpenConnector("file:" + filepath.Clean(filename) + query)
	if err != nil {
		return nil, fmt.Errorf("error creating sqlite connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := Init(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return New(db), nil
}

// New wraps an already-initialized database handle. The records table must
// exist; in most cases Open should be used instead.
func New(db *sql.DB) *DB { return &DB{db: db} }

// Init ensures the records table exists.
func Init(db *sql.DB) error {
	_, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS records
			( seq INTEGER PRIMARY KEY AUTOINCREMENT
			, key TEXT UNIQUE NOT NULL
			, value BLOB NOT NULL
			)`,
	)
	if err != nil {
		return fmt.Errorf("error creating records table: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get returns the value for key and whether it exists.
func (d *DB) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRow(`SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error reading record: %w", err)
	}
	return value, true, nil
}

// Put durably writes value under key, keeping the original insertion
// position on overwrite.
func (d *DB) Put(key string, value []byte) error {
	_, err := d.db.Exec(
		`INSERT INTO records (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("error writing record: %w", err)
	}
	return nil
}

// Delete removes key.
func (d *DB) Delete(key string) error {
	if _, err := d.db.Exec(`DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("error deleting record: %w", err)
	}
	return nil
}

// List returns all keys with the given prefix in insertion order.
func (d *DB) List(prefix string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT key FROM records WHERE substr(key, 1, length(?1)) = ?1 ORDER BY seq`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("error scanning record key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
