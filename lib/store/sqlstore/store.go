package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ValentinKolb/dProxy/lib/store"
	"github.com/lni/dragonboat/v4/logger"

	_ "modernc.org/sqlite"
)

var log = logger.GetLogger("store")

const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

type storeImpl struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// NewSQLStore opens (or creates) a SQLite backed store at the given path.
// Parent directories are created if needed and the schema is created if it doesn't exist.
func NewSQLStore(path string) (store.IStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// a single connection serializes writers and keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Infof("sqlite store opened at %s", path)
	return &storeImpl{db: db, path: path}, nil
}

// check returns an error if the store is closed or the key is invalid.
func (s *storeImpl) check(key string) error {
	if s.closed.Load() {
		return store.NewError(store.RetCClosed, "store is closed")
	}
	return store.ValidateKey(key)
}

func internalError(op string, err error) error {
	return store.NewError(store.RetCInternalError, fmt.Sprintf("%s: %v", op, err))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value string) error {
	if err := s.check(key); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return internalError("set", err)
	}
	return nil
}

func (s *storeImpl) SetIfUnset(key string, value string) (string, error) {
	if err := s.check(key); err != nil {
		return "", err
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`, key, value); err != nil {
		return "", internalError("set if unset", err)
	}
	actual, ok, err := s.Get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", store.NewError(store.RetCInternalError, "value vanished after insert")
	}
	return actual, nil
}

func (s *storeImpl) Get(key string) (string, bool, error) {
	if err := s.check(key); err != nil {
		return "", false, err
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, internalError("get", err)
	}
	return value, true, nil
}

func (s *storeImpl) Delete(key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return internalError("delete", err)
	}
	return nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *storeImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Infof("closing sqlite store at %s", s.path)
	return s.db.Close()
}
