// Package store implements the single-writer persistent structured
// store of §3/§4.3 over SQLite, grounded directly on
// remrearas-phantom-wireguard/src/db/schema.go's Open (WAL-mode DSN,
// ping-then-migrate) but with migrations split into a numbered
// embed.FS the way AbuCTF-Anvil/internal/database/database.go does it,
// targeting SQLite DDL instead of Postgres.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/graemester/wgfriend/internal/wgerr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite connection and the file lock that serializes
// concurrent invocations per §5's "concurrent invocations MUST
// serialize via file-level locking" requirement.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// DefaultPath returns $HOME/.wgfriend/store.db, the well-known
// fallback location named in §4.3 when WG_FRIEND_DB is unset.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".wgfriend", "store.db")
}

// Open creates or opens the store at path, acquires the companion file
// lock, and applies any pending migrations. The lock is held for the
// lifetime of the Store and released on Close.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreOpenFailed", "create store directory", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreOpenFailed", "acquire store lock", err)
	}
	if !locked {
		return nil, wgerr.New(wgerr.KindRemote, "StoreLocked", "store is locked by another invocation")
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreOpenFailed", "open sqlite database", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreOpenFailed", "ping sqlite database", err)
	}

	s := &Store{db: db, lock: lock, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle and the file lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return wgerr.Wrap(wgerr.KindRemote, "StoreCloseFailed", "close sqlite database", dbErr)
	}
	if lockErr != nil {
		return wgerr.Wrap(wgerr.KindRemote, "StoreCloseFailed", "release store lock", lockErr)
	}
	return nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", "create schema_migrations", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", "read schema version", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", "read migrations", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &name); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", "read migration "+entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", "begin migration tx", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", fmt.Sprintf("apply migration %d", version), err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", fmt.Sprintf("record migration %d", version), err)
		}
		if err := tx.Commit(); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreMigrationFailed", fmt.Sprintf("commit migration %d", version), err)
		}
	}
	return nil
}

// withTx runs fn inside a single transaction, committing on success
// and rolling back on any error, implementing §4.3's "all writes
// within a single public operation are atomic" guarantee.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wgerr.Wrap(wgerr.KindRemote, "StoreTxFailed", "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, "StoreTxFailed", "commit transaction", err)
	}
	return nil
}
