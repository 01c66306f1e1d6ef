package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"photokeep/internal/index/migrations"
	"photokeep/internal/logging"
	"photokeep/internal/metrics"
)

// Default timeout for single index store operations.
const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("index: record not found")

// Store is the relational index of the library. It supports one
// in-flight mutating transaction at a time; readers proceed
// concurrently through SQLite's WAL mode.
type Store struct {
	db      *sql.DB
	path    string
	mu      sync.Mutex
	txStart time.Time
}

// Open opens (creating if necessary) the index store at path and
// migrates it to the latest schema version. path may be ":memory:"
// for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	// busy_timeout prevents "database is locked" errors when readers
	// overlap the single writer.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close index store after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to index store: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := migrations.MigrateUp(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close index store after migration failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to migrate index store schema: %w", err)
	}

	logging.Debug("Index store opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the index store connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the index store file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying connection for maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginBatch starts a transaction for batch mutations. The caller must
// finish it with EndBatch.
func (s *Store) BeginBatch() (*sql.Tx, error) {
	s.mu.Lock()
	txStart := time.Now()

	// Background context: the transaction lifetime is managed by
	// EndBatch, not a timeout.
	tx, err := s.db.BeginTx(context.Background(), nil)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	s.txStart = txStart
	return tx, nil
}

// EndBatch commits the transaction when err is nil, rolls it back
// otherwise, and returns the dominating error.
func (s *Store) EndBatch(tx *sql.Tx, err error) error {
	duration := time.Since(s.txStart).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// UpdateConnMetrics refreshes the connection pool gauge.
func (s *Store) UpdateConnMetrics() {
	metrics.DBConnectionsOpen.Set(float64(s.db.Stats().OpenConnections))
}

// IsUniqueConstraint reports whether err is a SQLite unique constraint
// violation (duplicate digest or path).
func IsUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// recordQuery records index store query metrics.
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}
