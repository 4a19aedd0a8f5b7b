/*
Package storage implements the persistent store for learned associations.

A learned association records that a stated context query led to a call of a
specific tool, together with a confidence score that evolves as the same pairing
is observed again. The store is the only retrieval state that survives a restart:
on startup its rows are loaded back into the in-memory learned index.

The database is stored at ~/.tool-lens-mcp/learning.db by default and uses
modernc.org/sqlite (a pure Go, CGo-free implementation). A process holds an
advisory lock on the database file for as long as it is open, because the
in-memory learned index mirrors the table and a second writer would break that.
*/
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database, used by tests.
const MemoryPath = ":memory:"

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage is closed")

	// ErrLocked is returned when another process already holds the database.
	ErrLocked = errors.New("learning database is in use by another process")
)

// Storage defines the interface for the learned association store.
type Storage interface {
	// Init opens the database and runs migrations.
	Init() error

	// LoadAll returns every stored association.
	LoadAll(ctx context.Context) ([]Association, error)

	// Upsert inserts an association, or overwrites an existing one and refreshes its last use.
	Upsert(ctx context.Context, a Association) error

	// Remove deletes an association by ID.
	Remove(ctx context.Context, id string) error

	// Size returns the number of stored associations.
	Size(ctx context.Context) (int, error)

	// Prune applies the retention policy and returns the number of removed associations.
	Prune(ctx context.Context, policy PrunePolicy) (int, error)

	// PruneIDs applies the retention policy and returns the removed IDs.
	PruneIDs(ctx context.Context, policy PrunePolicy) ([]string, error)

	// Stats summarizes the stored associations.
	Stats(ctx context.Context) (Stats, error)

	// Clear deletes every association.
	Clear(ctx context.Context) error

	// Close closes the database and releases the file lock.
	Close() error
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	lock     *flock.Flock
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
	initOnce sync.Once
}

// Option configures a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithLogger sets the logger used for migration and prune messages.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStorage) { s.logger = l }
}

// WithClock overrides the time source used for created/last-used timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStorage) { s.now = now }
}

// DefaultPath returns ~/.tool-lens-mcp/learning.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tool-lens-mcp", "learning.db"), nil
}

// NewStorage creates a SQLite storage instance for dbPath. Call Init before use.
func NewStorage(dbPath string, opts ...Option) *SQLiteStorage {
	s := &SQLiteStorage{
		dbPath: dbPath,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates and initializes a storage instance.
func Open(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	s := NewStorage(dbPath, opts...)
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init initializes the database and runs migrations.
//
// Unlike a cache, the store backs committed learning state, so failures are
// returned to the caller instead of silently disabling persistence.
func (s *SQLiteStorage) Init() error {
	var initErr error
	s.initOnce.Do(func() {
		initErr = s.init()
	})
	return initErr
}

func (s *SQLiteStorage) init() error {
	inMemory := s.dbPath == MemoryPath

	if !inMemory {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create db directory: %w", err)
		}

		lock := flock.New(s.dbPath + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to lock database: %w", err)
		}
		if !locked {
			return fmt.Errorf("%w (lock: %s)", ErrLocked, lock.Path())
		}
		s.lock = lock
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		s.unlock()
		return fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases intact and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		s.unlock()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			s.unlock()
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s.db = db
	if err := s.runMigrations(); err != nil {
		s.db = nil
		db.Close()
		s.unlock()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection and releases the file lock.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.unlock()
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// conn returns the open database handle.
func (s *SQLiteStorage) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *SQLiteStorage) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
		s.lock = nil
	}
}
